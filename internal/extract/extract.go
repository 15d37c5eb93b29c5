// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package extract gets the readable text of article pages.
//
// Pages are fetched politely: robots.txt of each host is consulted once and
// remembered. The text is taken from a readability pass over the page; when
// that yields too little, the first matching common content container is
// used instead.
package extract

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.astrophena.name/feedsum/internal/request"
	"go.astrophena.name/feedsum/internal/version"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/temoto/robotstxt"
	"golang.org/x/net/html/charset"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultMinLength = 200
	maxPageSize      = 5 << 20 // 5 MiB
	// maxTextLength bounds what is handed to the summarizer.
	maxTextLength = 20000
)

// Content containers tried in order when readability comes up short.
var contentSelectors = []string{
	"article",
	".article-content",
	".post-content",
	".entry-content",
	"main",
	"#content",
}

// Errors returned by [Extractor.Text].
var (
	ErrDisallowed = errors.New("disallowed by robots.txt")
	ErrNoContent  = errors.New("no readable content")
)

// Extractor fetches pages and extracts their text.
type Extractor struct {
	// HTTPClient is used for all requests. If nil, request.DefaultClient is used.
	HTTPClient *http.Client
	// Timeout bounds each page and robots.txt request.
	Timeout time.Duration
	// MinLength is the shortest readability result accepted before trying
	// content selectors.
	MinLength int
	// IgnoreRobots disables robots.txt checks.
	IgnoreRobots bool
	Logger       *slog.Logger

	mu     sync.Mutex
	robots map[string]*robotstxt.Group // by scheme://host
}

func (e *Extractor) client() *http.Client { return cmp.Or(e.HTTPClient, request.DefaultClient) }

func (e *Extractor) log() *slog.Logger { return cmp.Or(e.Logger, slog.Default()) }

// agent is the product token matched against robots.txt groups.
func agent() string { return version.CmdName() }

// Reset forgets remembered robots.txt rules, so they are fetched again.
func (e *Extractor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.robots = nil
}

// Text returns the readable text of the page at link.
func (e *Extractor) Text(ctx context.Context, link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}

	if !e.IgnoreRobots && !e.allowed(ctx, u) {
		return "", ErrDisallowed
	}

	ctx, cancel := context.WithTimeout(ctx, cmp.Or(e.Timeout, defaultTimeout))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	res, err := e.client().Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %q: want 200, got %d", link, res.StatusCode)
	}

	r, err := charset.NewReader(io.LimitReader(res.Body, maxPageSize), res.Header.Get("Content-Type"))
	if err != nil {
		return "", fmt.Errorf("decoding %q: %w", link, err)
	}
	page, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}

	text := fromPage(page, res.Request.URL, cmp.Or(e.MinLength, defaultMinLength))
	if text == "" {
		return "", ErrNoContent
	}
	e.log().Debug("extracted article text", "link", link, "length", len(text))
	return text, nil
}

// fromPage runs readability over page, falling back to content selectors.
func fromPage(page []byte, pageURL *url.URL, minLength int) string {
	var best string
	if article, err := readability.FromReader(bytes.NewReader(page), pageURL); err == nil {
		best = normalize(article.TextContent)
	}
	if len(best) >= minLength {
		return truncate(best)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return truncate(best)
	}
	doc.Find("script, style, nav, header, footer").Remove()
	for _, sel := range contentSelectors {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		if text := normalize(s.Text()); text != "" {
			best = text
		}
		break
	}
	return truncate(best)
}

func normalize(s string) string { return strings.Join(strings.Fields(s), " ") }

func truncate(s string) string {
	if len(s) <= maxTextLength {
		return s
	}
	s = s[:maxTextLength]
	// Don't cut a multi-byte rune in half.
	return strings.ToValidUTF8(s, "")
}

// allowed reports whether robots.txt of u's host permits fetching u. Hosts
// whose robots.txt can't be retrieved are allowed.
func (e *Extractor) allowed(ctx context.Context, u *url.URL) bool {
	host := u.Scheme + "://" + u.Host

	e.mu.Lock()
	group, ok := e.robots[host]
	e.mu.Unlock()

	if !ok {
		group = e.fetchRobots(ctx, host)
		e.mu.Lock()
		if e.robots == nil {
			e.robots = make(map[string]*robotstxt.Group)
		}
		e.robots[host] = group
		e.mu.Unlock()
	}

	if group == nil {
		return true
	}
	path := u.EscapedPath()
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return group.Test(path)
}

func (e *Extractor) fetchRobots(ctx context.Context, host string) *robotstxt.Group {
	ctx, cancel := context.WithTimeout(ctx, cmp.Or(e.Timeout, defaultTimeout))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", version.UserAgent())

	res, err := e.client().Do(req)
	if err != nil {
		e.log().Debug("unable to fetch robots.txt", "host", host, "error", err)
		return nil
	}
	defer res.Body.Close()

	data, err := robotstxt.FromResponse(res)
	if err != nil {
		e.log().Debug("unable to parse robots.txt", "host", host, "error", err)
		return nil
	}
	return data.FindGroup(agent())
}
