// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package request_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.astrophena.name/feedsum/internal/request"
	"go.astrophena.name/feedsum/internal/testutil"
)

func testServer(t *testing.T) *httptest.Server {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/test" {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if r.Header.Get("User-Agent") == "" {
			http.Error(w, "missing user agent", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message": "success"}`))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestMakeJSON(t *testing.T) {
	ts := testServer(t)

	cases := map[string]struct {
		params  request.Params
		want    string
		wantErr bool
	}{
		"successful request": {
			params: request.Params{
				Method: http.MethodPost,
				URL:    ts.URL + "/test",
				Body:   map[string]string{"key": "value"},
			},
			want: `{"message": "success"}`,
		},
		"successful request with headers": {
			params: request.Params{
				Method:  http.MethodPost,
				URL:     ts.URL + "/test",
				Headers: map[string]string{"X-Test": "test"},
				Body:    map[string]string{"key": "value"},
			},
			want: `{"message": "success"}`,
		},
		"custom HTTP client": {
			params: request.Params{
				Method:     http.MethodPost,
				URL:        ts.URL + "/test",
				HTTPClient: &http.Client{},
			},
			want: `{"message": "success"}`,
		},
		"invalid request method": {
			params:  request.Params{Method: http.MethodGet, URL: ts.URL + "/test"},
			wantErr: true,
		},
		"invalid value for JSON": {
			params: request.Params{
				Method: http.MethodPost,
				URL:    ts.URL + "/test",
				Body:   make(chan int),
			},
			wantErr: true,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			resp, err := request.Make[json.RawMessage](t.Context(), tc.params)
			if err != nil {
				if !tc.wantErr {
					t.Fatalf("Make() error = %v", err)
				}
				return
			}
			if tc.wantErr {
				t.Fatal("Make() expected error, got none")
			}
			testutil.AssertEqual(t, string(resp), tc.want)
		})
	}
}

func TestMakeRawAndIgnore(t *testing.T) {
	ts := testServer(t)

	raw, err := request.Make[[]byte](t.Context(), request.Params{Method: http.MethodPost, URL: ts.URL + "/test"})
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, string(raw), `{"message": "success"}`)

	if _, err := request.Make[request.IgnoreResponse](t.Context(), request.Params{Method: http.MethodPost, URL: ts.URL + "/test"}); err != nil {
		t.Fatal(err)
	}
}

func TestStatusErrorScrubbed(t *testing.T) {
	ts := testServer(t)

	_, err := request.Make[request.IgnoreResponse](t.Context(), request.Params{
		Method:   http.MethodPost,
		URL:      ts.URL + "/invalid/hello",
		Scrubber: strings.NewReplacer("hello", "[EXPUNGED]"),
	})
	var se *request.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("want *StatusError, got %T: %v", err, err)
	}
	testutil.AssertEqual(t, se.StatusCode, http.StatusBadRequest)
	if strings.Contains(err.Error(), "hello") {
		t.Fatalf("secret leaked into error: %v", err)
	}
}
