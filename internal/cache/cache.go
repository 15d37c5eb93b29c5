// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package cache remembers which articles were already processed.
//
// A [Store] keeps two tables mapping article links to the time they were
// processed: the active table, and the archive table that old entries are
// moved into. A link lives in at most one of them. Membership checks consult
// the union of both, so archiving an entry never makes its article eligible
// for processing again.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"
)

// Store is the article cache. Its methods are safe for concurrent use.
type Store struct {
	backend Backend
	log     *slog.Logger

	mu       sync.Mutex
	active   Table
	archived Table
	all      map[string]struct{}
}

// New returns an empty Store persisting to b. Call [Store.Load] to read the
// persisted tables.
func New(b Backend, l *slog.Logger) *Store {
	if l == nil {
		l = slog.Default()
	}
	return &Store{
		backend:  b,
		log:      l,
		active:   make(Table),
		archived: make(Table),
		all:      make(map[string]struct{}),
	}
}

// Load replaces the in-memory tables with the persisted ones. A table that
// can't be read is treated as empty and a warning is logged; Load never fails.
//
// If a link appears in both tables, the active entry is kept.
func (s *Store) Load(ctx context.Context) {
	active := s.loadTable(ctx, Active)
	archived := s.loadTable(ctx, Archived)

	for link := range active {
		if _, dup := archived[link]; dup {
			s.log.Warn("link is both active and archived, keeping active entry", "link", link)
			delete(archived, link)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active, s.archived = active, archived
	s.rebuildAll()
	s.log.Debug("cache loaded", "active", len(active), "archived", len(archived))
}

func (s *Store) loadTable(ctx context.Context, kind Kind) Table {
	t, err := s.backend.LoadTable(ctx, kind)
	if err != nil {
		s.log.Warn("unable to load cache table, starting empty", "table", kind, "error", err)
		return make(Table)
	}
	if t == nil {
		t = make(Table)
	}
	return t
}

func (s *Store) rebuildAll() {
	s.all = make(map[string]struct{}, len(s.active)+len(s.archived))
	for link := range s.active {
		s.all[link] = struct{}{}
	}
	for link := range s.archived {
		s.all[link] = struct{}{}
	}
}

// IsProcessed reports whether link is in either table.
func (s *Store) IsProcessed(link string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.all[link]
	return ok
}

// Add records link as processed at the given time and persists the change.
// Adding a link again only updates its timestamp. An archived link is moved
// back to the active table.
//
// The in-memory tables are updated even when persisting fails, so the article
// is not processed again during this run; the returned error reports the
// persistence failure.
func (s *Store) Add(ctx context.Context, link string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, wasArchived := s.archived[link]
	delete(s.archived, link)
	s.active[link] = at
	s.all[link] = struct{}{}

	var errs []error
	if err := s.backend.SaveTable(ctx, Active, s.active); err != nil {
		errs = append(errs, fmt.Errorf("saving active table: %w", err))
	}
	if wasArchived {
		if err := s.backend.SaveTable(ctx, Archived, s.archived); err != nil {
			errs = append(errs, fmt.Errorf("saving archive table: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ArchiveStale moves every active entry processed before now-retention to the
// archive table and persists both tables. It returns the number of entries
// moved. The set of processed links does not change.
func (s *Store) ArchiveStale(ctx context.Context, retention time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	var moved int
	for link, at := range s.active {
		if at.Before(cutoff) {
			s.archived[link] = at
			delete(s.active, link)
			moved++
		}
	}
	if moved == 0 {
		return 0, nil
	}

	// Archive first: if the second write fails, a link is in both tables,
	// which Load resolves, rather than in neither.
	var errs []error
	if err := s.backend.SaveTable(ctx, Archived, s.archived); err != nil {
		errs = append(errs, fmt.Errorf("saving archive table: %w", err))
	}
	if err := s.backend.SaveTable(ctx, Active, s.active); err != nil {
		errs = append(errs, fmt.Errorf("saving active table: %w", err))
	}
	return moved, errors.Join(errs...)
}

// Len returns the sizes of the active and archive tables.
func (s *Store) Len() (active, archived int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active), len(s.archived)
}

// Snapshot returns copies of both tables.
func (s *Store) Snapshot() (active, archived Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.active), maps.Clone(s.archived)
}

// Close closes the backend.
func (s *Store) Close() error { return s.backend.Close() }
