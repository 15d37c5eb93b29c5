// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package httplogger

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer ts.Close()

	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c := &http.Client{Transport: New(nil, l, "s3cret")}

	res, err := c.Get(ts.URL + "/bots3cret/sendMessage")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()

	out := buf.String()
	for _, want := range []string{"msg=\"http request\"", "status=418", "[EXPUNGED]"} {
		if !strings.Contains(out, want) {
			t.Errorf("log must contain %q, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "s3cret") {
		t.Errorf("secret leaked into log:\n%s", out)
	}
}
