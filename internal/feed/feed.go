// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package feed fetches syndication feeds and turns their entries into
// articles ready for summarization.
package feed

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.astrophena.name/feedsum/internal/request"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// Defaults for [Source].
const (
	DefaultMaxArticles   = 20
	DefaultRecencyWindow = 24 * time.Hour
	DefaultTimeout       = 10 * time.Second
)

// Feed is a configured feed.
type Feed struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Name returns the title of the feed, or its URL if it has no title.
func (f Feed) Name() string { return cmp.Or(f.Title, f.URL) }

// Article is one entry of a feed.
type Article struct {
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Text      string    `json:"text"`
	Published time.Time `json:"published"`
}

// Fetcher returns the articles of a feed.
type Fetcher interface {
	Fetch(ctx context.Context, f Feed) ([]Article, error)
}

// TextExtractor returns the readable text of a web page.
type TextExtractor interface {
	Text(ctx context.Context, link string) (string, error)
}

// Source is a [Fetcher] that retrieves feeds over HTTP.
type Source struct {
	// HTTPClient is used for feed requests. If nil, request.DefaultClient is used.
	HTTPClient *http.Client
	// Extractor, if set, is used to get the full text of each article. When it
	// fails, the entry's own content or description is used.
	Extractor TextExtractor
	// Known, if set, reports links that don't need their full text extracted
	// because they were already processed.
	Known func(link string) bool
	// MaxArticles limits how many entries are taken from the top of a feed.
	MaxArticles int
	// RecencyWindow drops entries published longer ago than this.
	RecencyWindow time.Duration
	// Timeout bounds the feed request.
	Timeout time.Duration
	// Now acts as time.Now, but can be mocked for testing.
	Now    func() time.Time
	Logger *slog.Logger
}

// Reset clears state the extractor keeps between fetches, if it has a Reset
// method.
func (s *Source) Reset() {
	if r, ok := s.Extractor.(interface{ Reset() }); ok {
		r.Reset()
	}
}

// Fetch downloads and parses f, returning at most MaxArticles articles in
// feed order.
func (s *Source) Fetch(ctx context.Context, f Feed) ([]Article, error) {
	log := cmp.Or(s.Logger, slog.Default())
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	reqCtx, cancel := context.WithTimeout(ctx, cmp.Or(s.Timeout, DefaultTimeout))
	defer cancel()
	body, err := request.Make[[]byte](reqCtx, request.Params{
		Method:     http.MethodGet,
		URL:        f.URL,
		HTTPClient: s.HTTPClient,
		Headers: map[string]string{
			"Accept": "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", f.URL, err)
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", f.URL, err)
	}
	if len(parsed.Items) == 0 {
		log.Debug("feed has no entries", "feed", f.URL)
		return nil, nil
	}

	items := parsed.Items
	if limit := cmp.Or(s.MaxArticles, DefaultMaxArticles); len(items) > limit {
		items = items[:limit]
	}
	log.Debug("fetched feed", "feed", f.URL, "entries", len(parsed.Items), "taking", len(items))

	cutoff := now().Add(-cmp.Or(s.RecencyWindow, DefaultRecencyWindow))

	var articles []Article
	for _, item := range items {
		if item.Link == "" {
			log.Debug("skipping entry without link", "feed", f.URL, "title", item.Title)
			continue
		}
		published := publishedTime(item, now)
		if published.Before(cutoff) {
			log.Debug("skipping old entry", "feed", f.URL, "link", item.Link, "published", published)
			continue
		}
		articles = append(articles, Article{
			Title:     strings.TrimSpace(item.Title),
			Link:      item.Link,
			Text:      s.text(ctx, log, item),
			Published: published,
		})
	}
	return articles, nil
}

func (s *Source) text(ctx context.Context, log *slog.Logger, item *gofeed.Item) string {
	fallback := htmlToText(cmp.Or(item.Content, item.Description))
	if s.Extractor == nil || (s.Known != nil && s.Known(item.Link)) {
		return fallback
	}
	text, err := s.Extractor.Text(ctx, item.Link)
	if err != nil {
		log.Warn("unable to extract article text, using feed summary", "link", item.Link, "error", err)
		return fallback
	}
	return text
}

// publishedTime returns when item was published, falling back to when it was
// updated and then to now.
func publishedTime(item *gofeed.Item, now func() time.Time) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return now()
}

// htmlToText strips markup from a feed entry body.
func htmlToText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}
