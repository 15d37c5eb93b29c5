// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package cache

import (
	"context"
	"maps"
	"sync"
	"time"
)

// Table maps an article link to the time it was processed.
type Table map[string]time.Time

// Kind names one of the two tables of a [Store].
type Kind string

const (
	// Active holds recently processed articles.
	Active Kind = "active"
	// Archived holds articles moved out of the active table by
	// [Store.ArchiveStale].
	Archived Kind = "archived"
)

// Backend persists the tables of a [Store].
type Backend interface {
	// LoadTable returns the persisted table of the given kind. A table that
	// was never saved is returned as an empty table with a nil error.
	LoadTable(ctx context.Context, kind Kind) (Table, error)
	// SaveTable replaces the persisted table of the given kind.
	SaveTable(ctx context.Context, kind Kind, t Table) error
	// Close releases any resources held by the backend.
	Close() error
}

// MemBackend is an in-memory implementation of the [Backend] interface.
type MemBackend struct {
	mu     sync.Mutex
	tables map[Kind]Table
	saves  int
}

// NewMemBackend returns an empty [MemBackend].
func NewMemBackend() *MemBackend {
	return &MemBackend{tables: make(map[Kind]Table)}
}

// LoadTable returns a copy of the stored table.
func (b *MemBackend) LoadTable(_ context.Context, kind Kind) (Table, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := maps.Clone(b.tables[kind])
	if t == nil {
		t = make(Table)
	}
	return t, nil
}

// SaveTable stores a copy of t.
func (b *MemBackend) SaveTable(_ context.Context, kind Kind, t Table) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tables[kind] = maps.Clone(t)
	b.saves++
	return nil
}

// Saves returns the number of SaveTable calls made so far.
func (b *MemBackend) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}

// Close is a no-op for MemBackend.
func (b *MemBackend) Close() error { return nil }

// ReadOnly wraps b so that loads go through and saves are dropped. It is used
// for dry runs.
func ReadOnly(b Backend) Backend { return readOnly{b} }

type readOnly struct{ Backend }

func (readOnly) SaveTable(context.Context, Kind, Table) error { return nil }
