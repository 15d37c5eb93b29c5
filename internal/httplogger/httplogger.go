// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package httplogger provides a http.RoundTripper middleware that logs
// outgoing HTTP requests and their outcome at debug level.
package httplogger

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// New returns a http.RoundTripper that logs every request made through t.
// Values listed in scrub are removed from logged URLs. If t is nil,
// http.DefaultTransport is used.
func New(t http.RoundTripper, l *slog.Logger, scrub ...string) http.RoundTripper {
	if t == nil {
		t = http.DefaultTransport
	}
	var pairs []string
	for _, s := range scrub {
		if s != "" {
			pairs = append(pairs, s, "[EXPUNGED]")
		}
	}
	return &loggingTransport{transport: t, log: l, scrubber: strings.NewReplacer(pairs...)}
}

type loggingTransport struct {
	transport http.RoundTripper
	log       *slog.Logger
	scrubber  *strings.Replacer
}

func (t *loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()
	url := t.scrubber.Replace(r.URL.String())
	t.log.Debug("http request", "method", r.Method, "url", url)

	resp, err := t.transport.RoundTrip(r)

	attrs := []any{"method", r.Method, "url", url, "duration", time.Since(start).Round(time.Millisecond)}
	if resp != nil {
		attrs = append(attrs, "status", resp.StatusCode)
	}
	if err != nil {
		attrs = append(attrs, "error", t.scrubber.Replace(err.Error()))
	}
	t.log.Debug("http response", attrs...)

	return resp, err
}
