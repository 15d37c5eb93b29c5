// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"go.astrophena.name/feedsum/internal/logger"
	"go.astrophena.name/feedsum/internal/testutil"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) { goleak.VerifyTestMain(m) }

func TestListenAndServeConfig(t *testing.T) {
	cases := map[string]struct {
		c       *ListenAndServeConfig
		wantErr error
	}{
		"no Addr": {
			c:       &ListenAndServeConfig{Mux: http.NewServeMux()},
			wantErr: errNoAddr,
		},
		"nil Mux": {
			c:       &ListenAndServeConfig{Addr: ":3000"},
			wantErr: errNilMux,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			testutil.AssertErrorIs(t, ListenAndServe(t.Context(), tc.c), tc.wantErr)
		})
	}
}

func TestListenAndServe(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		logger.Get(r.Context()).Info("hello from handler")
		io.WriteString(w, "ok")
	})

	ready := make(chan net.Addr, 1)
	errCh := make(chan error, 1)
	ctx, cancel := context.WithCancel(t.Context())

	var wg sync.WaitGroup
	wg.Go(func() {
		if err := ListenAndServe(ctx, &ListenAndServeConfig{
			Addr:   "localhost:0",
			Mux:    mux,
			Logger: logger.New(io.Discard),
			Ready:  func(addr net.Addr) { ready <- addr },
		}); err != nil {
			errCh <- err
		}
	})

	var addr net.Addr
	select {
	case err := <-errCh:
		t.Fatalf("test server crashed during startup: %v", err)
	case addr = <-ready:
	}

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	for _, path := range []string{"/", "/health"} {
		res, err := client.Get(fmt.Sprintf("http://%s%s", addr, path))
		if err != nil {
			t.Fatal(err)
		}
		res.Body.Close()
		testutil.AssertEqual(t, res.StatusCode, http.StatusOK)
		testutil.AssertEqual(t, res.Header.Get("X-Content-Type-Options"), "nosniff")
		testutil.AssertEqual(t, res.Header.Get("Content-Security-Policy"), cspHeader)
	}

	cancel()
	wg.Wait()
	select {
	case err := <-errCh:
		t.Fatalf("test server crashed during shutdown: %v", err)
	default:
	}
}

func TestRespondJSONError(t *testing.T) {
	cases := map[string]struct {
		err        error
		wantStatus int
	}{
		"status error":  {err: fmt.Errorf("run in progress: %w", ErrConflict), wantStatus: http.StatusConflict},
		"generic error": {err: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/run", nil)
			r = r.WithContext(logger.Put(r.Context(), logger.New(io.Discard)))
			RespondJSONError(w, r, tc.err)

			testutil.AssertEqual(t, w.Code, tc.wantStatus)
			testutil.AssertEqual(t, w.Header().Get("Content-Type"), "application/json")
			got := testutil.UnmarshalJSON[errorResponse](t, w.Body.Bytes())
			testutil.AssertEqual(t, got, errorResponse{Status: "error", Error: tc.err.Error()})
		})
	}
}

func TestAllowMethods(t *testing.T) {
	h := AllowMethods(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		RespondJSON(w, map[string]string{"status": "ok"})
	}), http.MethodPost)

	send(t, h, http.MethodPost, "/run", http.StatusOK)
	send(t, h, http.MethodGet, "/run", http.StatusMethodNotAllowed)
}
