// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package pipeline runs feedsum processing cycles: fetch feeds, skip articles
// that were already processed, summarize new ones, remember them and deliver
// the digest.
package pipeline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"go.astrophena.name/feedsum/internal/cache"
	"go.astrophena.name/feedsum/internal/digest"
	"go.astrophena.name/feedsum/internal/feed"
	"go.astrophena.name/feedsum/internal/filelock"
	"go.astrophena.name/feedsum/internal/summarize"
	"go.astrophena.name/feedsum/internal/syncx"
)

// Defaults.
const (
	DefaultRetention        = 30 * 24 * time.Hour
	DefaultSummarizeTimeout = time.Minute
)

// ErrAlreadyRunning is returned when a run is requested while another one is
// in progress, in this process or another one sharing the lock file.
var ErrAlreadyRunning = errors.New("already running")

// Config configures a [Runner].
type Config struct {
	// Feeds are processed in this order.
	Feeds      []feed.Feed
	Fetcher    feed.Fetcher
	Store      *cache.Store
	Summarizer summarize.Summarizer
	// Dispatcher delivers non-empty batches. If nil, batches are not
	// delivered.
	Dispatcher digest.Dispatcher
	// Archive, if set, receives every non-empty batch after dispatch. Its
	// failures are only logged.
	Archive digest.Dispatcher
	// Retention is how long articles stay in the active cache table.
	Retention time.Duration
	// SummarizeTimeout bounds each summarizer call.
	SummarizeTimeout time.Duration
	// LockPath, if set, is locked for the duration of a run.
	LockPath string
	// Now acts as time.Now, but can be mocked for testing.
	Now    func() time.Time
	Logger *slog.Logger
}

// Runner runs processing cycles one at a time.
type Runner struct {
	c       Config
	running atomic.Bool
	last    *syncx.Protected[*Report]
}

// New returns a Runner.
func New(c Config) *Runner {
	c.Retention = cmp.Or(c.Retention, DefaultRetention)
	c.SummarizeTimeout = cmp.Or(c.SummarizeTimeout, DefaultSummarizeTimeout)
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return &Runner{c: c, last: syncx.Protect[*Report](nil)}
}

// Running reports whether a run is in progress.
func (r *Runner) Running() bool { return r.running.Load() }

// Last returns the report of the last finished run, or nil.
func (r *Runner) Last() *Report { return r.last.Load() }

// Run runs one processing cycle.
//
// The returned error is non-nil only when the run couldn't be done at all:
// another run is in progress, the lock can't be taken, or ctx was canceled.
// Partial failures are described by the report; see [Report.Err].
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer r.running.Store(false)

	if r.c.LockPath != "" {
		lock, err := filelock.Acquire(r.c.LockPath, fmt.Sprintf("pid=%d", os.Getpid()))
		if errors.Is(err, filelock.ErrAlreadyLocked) {
			return nil, fmt.Errorf("%w: %s is locked by another process", ErrAlreadyRunning, r.c.LockPath)
		}
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				r.c.Logger.Warn("releasing run lock failed", "error", err)
			}
		}()
	}

	rep, err := r.run(ctx)
	if rep != nil {
		r.last.Store(rep)
	}
	return rep, err
}

func (r *Runner) run(ctx context.Context) (*Report, error) {
	log := r.c.Logger
	rep := &Report{StartedAt: r.c.Now()}

	r.c.Store.Load(ctx)
	// Things like robots.txt rules are remembered for one run only.
	if rs, ok := r.c.Fetcher.(interface{ Reset() }); ok {
		rs.Reset()
	}

	for _, f := range r.c.Feeds {
		if err := ctx.Err(); err != nil {
			return r.finish(rep), err
		}
		res, batch := r.processFeed(ctx, rep, f)
		rep.Feeds = append(rep.Feeds, res)
		rep.Batch = append(rep.Batch, batch...)
	}
	if err := ctx.Err(); err != nil {
		return r.finish(rep), err
	}

	archived, err := r.c.Store.ArchiveStale(ctx, r.c.Retention, r.c.Now())
	rep.Archived = archived
	if err != nil {
		log.Error("persisting archived articles failed", "error", err)
		rep.CacheErrors = append(rep.CacheErrors, err)
	} else if archived > 0 {
		log.Info("archived old articles", "count", archived)
	}

	if len(rep.Batch) == 0 {
		log.Info("no new articles")
		rep.Outcome = CompletedNoNewArticles
		return r.finish(rep), nil
	}
	rep.Outcome = Completed

	if r.c.Dispatcher != nil {
		if err := r.c.Dispatcher.Deliver(ctx, rep.Batch); err != nil {
			log.Error("delivering digest failed", "articles", len(rep.Batch), "error", err)
			rep.DispatchError = err
		} else {
			rep.Dispatched = true
		}
	}
	if r.c.Archive != nil {
		if err := r.c.Archive.Deliver(ctx, rep.Batch); err != nil {
			log.Warn("archiving digest failed", "error", err)
		}
	}

	return r.finish(rep), nil
}

func (r *Runner) finish(rep *Report) *Report {
	rep.FinishedAt = r.c.Now()
	r.c.Logger.Info("run finished",
		"outcome", rep.Outcome,
		"summarized", len(rep.Batch),
		"archived", rep.Archived,
		"duration", rep.FinishedAt.Sub(rep.StartedAt),
	)
	return rep
}

func (r *Runner) processFeed(ctx context.Context, rep *Report, f feed.Feed) (FeedResult, []digest.Summary) {
	log := r.c.Logger.With("feed", f.URL)
	res := FeedResult{Feed: f.URL}

	articles, err := r.c.Fetcher.Fetch(ctx, f)
	if err != nil {
		log.Warn("fetching feed failed", "error", err)
		res.Error = err.Error()
		return res, nil
	}
	res.Fetched = len(articles)

	var batch []digest.Summary
	for _, a := range articles {
		if ctx.Err() != nil {
			break
		}
		if r.c.Store.IsProcessed(a.Link) {
			log.Debug("skipping processed article", "link", a.Link)
			continue
		}
		res.New++

		if strings.TrimSpace(a.Text) == "" {
			log.Info("skipping article without text", "link", a.Link)
			res.Skipped++
			continue
		}

		result, err := r.summarize(ctx, a.Text)
		if errors.Is(err, summarize.ErrEmptyText) {
			log.Info("skipping article without text", "link", a.Link)
			res.Skipped++
			continue
		}
		if err != nil {
			log.Warn("summarizing article failed", "link", a.Link, "error", err)
			res.Failed++
			continue
		}
		result.Summary = strings.TrimSpace(result.Summary)
		result.Category = summarize.NormalizeCategory(result.Category)
		if result.Summary == "" || result.Category == "" {
			log.Warn("summarizing article failed", "link", a.Link, "error", summarize.ErrMalformed)
			res.Failed++
			continue
		}

		if err := r.c.Store.Add(ctx, a.Link, r.c.Now()); err != nil {
			log.Error("persisting processed article failed", "link", a.Link, "error", err)
			rep.CacheErrors = append(rep.CacheErrors, err)
		}
		batch = append(batch, digest.Summary{
			Title:     a.Title,
			Link:      a.Link,
			Published: a.Published,
			Source:    f.Name(),
			Summary:   result.Summary,
			Category:  result.Category,
		})
		res.Summarized++
		log.Debug("summarized article", "link", a.Link, "category", result.Category)
	}
	return res, batch
}

func (r *Runner) summarize(ctx context.Context, text string) (summarize.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.c.SummarizeTimeout)
	defer cancel()
	return r.c.Summarizer.Summarize(ctx, text)
}
