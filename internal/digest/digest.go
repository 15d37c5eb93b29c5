// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package digest renders summarized articles and delivers them.
package digest

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.astrophena.name/feedsum/internal/summarize"
)

// Summary is one summarized article in a digest.
type Summary struct {
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Published time.Time `json:"published"`
	Source    string    `json:"source"`
	Summary   string    `json:"summary"`
	Category  string    `json:"category"`
}

// Dispatcher delivers a batch of summaries.
type Dispatcher interface {
	Deliver(ctx context.Context, batch []Summary) error
}

// DispatcherFunc is a function type that implements the [Dispatcher]
// interface.
type DispatcherFunc func(ctx context.Context, batch []Summary) error

// Deliver calls f(ctx, batch).
func (f DispatcherFunc) Deliver(ctx context.Context, batch []Summary) error { return f(ctx, batch) }

// Multi delivers a batch through every dispatcher in turn. A failing
// dispatcher doesn't prevent the others from running; all errors are joined.
type Multi []Dispatcher

// Deliver implements [Dispatcher].
func (m Multi) Deliver(ctx context.Context, batch []Summary) error {
	var errs []error
	for _, d := range m {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := d.Deliver(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subject returns the digest title for a batch of n articles.
func Subject(n int) string {
	return fmt.Sprintf("Daily Feed Summaries - %d Articles", n)
}

// Group is a run of summaries that share a category.
type Group struct {
	Category string
	Title    string
	Items    []Summary
}

// GroupByCategory splits batch by category. Groups are in display order and
// items keep their order within the batch.
func GroupByCategory(batch []Summary) []Group {
	idx := make(map[string]int)
	var groups []Group
	for _, s := range batch {
		c := cmp.Or(s.Category, "other")
		i, ok := idx[c]
		if !ok {
			i = len(groups)
			idx[c] = i
			groups = append(groups, Group{Category: c, Title: summarize.CategoryTitle(c)})
		}
		groups[i].Items = append(groups[i].Items, s)
	}
	slices.SortStableFunc(groups, func(a, b Group) int {
		return summarize.CompareCategories(a.Category, b.Category)
	})
	return groups
}
