// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"go.astrophena.name/feedsum/internal/testutil"
)

var (
	now        = time.Date(2024, time.June, 1, 8, 0, 0, 0, time.UTC)
	discardLog = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func newStore(t *testing.T, b Backend) *Store {
	t.Helper()
	s := New(b, discardLog)
	s.Load(t.Context())
	return s
}

// checkUnion verifies that IsProcessed agrees with the union of both tables
// and that no link is in both.
func checkUnion(t *testing.T, s *Store, links ...string) {
	t.Helper()
	active, archived := s.Snapshot()
	for link := range active {
		if _, dup := archived[link]; dup {
			t.Errorf("%q is both active and archived", link)
		}
	}
	for _, link := range links {
		_, inActive := active[link]
		_, inArchived := archived[link]
		if got, want := s.IsProcessed(link), inActive || inArchived; got != want {
			t.Errorf("IsProcessed(%q) = %v, want %v", link, got, want)
		}
	}
}

func TestAddIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newStore(t, NewMemBackend())
	if err := s.Add(t.Context(), "https://example.com/a", now); err != nil {
		t.Fatal(err)
	}
	later := now.Add(time.Hour)
	if err := s.Add(t.Context(), "https://example.com/a", later); err != nil {
		t.Fatal(err)
	}

	active, archived := s.Snapshot()
	testutil.AssertEqual(t, active, Table{"https://example.com/a": later})
	testutil.AssertEqual(t, len(archived), 0)
	testutil.AssertEqual(t, s.IsProcessed("https://example.com/a"), true)
	checkUnion(t, s, "https://example.com/a")
}

func TestAddPersistsImmediately(t *testing.T) {
	t.Parallel()

	b := NewMemBackend()
	s := newStore(t, b)
	for i, link := range []string{"a", "b", "c"} {
		if err := s.Add(t.Context(), link, now); err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, b.Saves(), i+1)
		persisted, _ := b.LoadTable(t.Context(), Active)
		testutil.AssertContains(t, slices.Collect(maps.Keys(persisted)), link)
	}
}

func TestArchiveStale(t *testing.T) {
	t.Parallel()

	s := newStore(t, NewMemBackend())
	s.Add(t.Context(), "old", now.Add(-days(40)))
	s.Add(t.Context(), "recent", now.Add(-days(10)))

	moved, err := s.ArchiveStale(t.Context(), days(30), now)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, moved, 1)

	active, archived := s.Snapshot()
	testutil.AssertEqual(t, active, Table{"recent": now.Add(-days(10))})
	testutil.AssertEqual(t, archived, Table{"old": now.Add(-days(40))})
	testutil.AssertEqual(t, s.IsProcessed("old"), true)
	testutil.AssertEqual(t, s.IsProcessed("recent"), true)
	checkUnion(t, s, "old", "recent", "unknown")

	// Nothing left to archive.
	moved, err = s.ArchiveStale(t.Context(), days(30), now)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, moved, 0)
}

func TestArchiveStaleBoundary(t *testing.T) {
	t.Parallel()

	s := newStore(t, NewMemBackend())
	s.Add(t.Context(), "exactly", now.Add(-days(30)))

	moved, err := s.ArchiveStale(t.Context(), days(30), now)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, moved, 0)
}

func TestAddArchivedLinkMovesItBack(t *testing.T) {
	t.Parallel()

	s := newStore(t, NewMemBackend())
	s.Add(t.Context(), "a", now.Add(-days(40)))
	if _, err := s.ArchiveStale(t.Context(), days(30), now); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(t.Context(), "a", now); err != nil {
		t.Fatal(err)
	}

	active, archived := s.Snapshot()
	testutil.AssertEqual(t, active, Table{"a": now})
	testutil.AssertEqual(t, len(archived), 0)
	checkUnion(t, s, "a")
}

func TestSnapshotIsCopy(t *testing.T) {
	t.Parallel()

	s := newStore(t, NewMemBackend())
	s.Add(t.Context(), "a", now)
	active, _ := s.Snapshot()
	delete(active, "a")
	active["b"] = now

	testutil.AssertEqual(t, s.IsProcessed("a"), true)
	testutil.AssertEqual(t, s.IsProcessed("b"), false)
}

func TestLoadResolvesDuplicates(t *testing.T) {
	t.Parallel()

	b := NewMemBackend()
	b.SaveTable(t.Context(), Active, Table{"a": now, "b": now})
	b.SaveTable(t.Context(), Archived, Table{"a": now.Add(-days(50)), "c": now.Add(-days(60))})

	s := newStore(t, b)
	active, archived := s.Snapshot()
	testutil.AssertEqual(t, active, Table{"a": now, "b": now})
	testutil.AssertEqual(t, archived, Table{"c": now.Add(-days(60))})
	checkUnion(t, s, "a", "b", "c", "d")
}

type brokenBackend struct{ MemBackend }

var errBroken = errors.New("disk on fire")

func (*brokenBackend) LoadTable(context.Context, Kind) (Table, error) { return nil, errBroken }
func (*brokenBackend) SaveTable(context.Context, Kind, Table) error   { return errBroken }

func TestBrokenBackend(t *testing.T) {
	t.Parallel()

	s := newStore(t, new(brokenBackend))
	testutil.AssertEqual(t, s.IsProcessed("a"), false)

	err := s.Add(t.Context(), "a", now)
	testutil.AssertErrorIs(t, err, errBroken)
	// The add stands in memory.
	testutil.AssertEqual(t, s.IsProcessed("a"), true)
}

func TestReadOnly(t *testing.T) {
	t.Parallel()

	b := NewMemBackend()
	b.SaveTable(t.Context(), Active, Table{"a": now})

	s := newStore(t, ReadOnly(b))
	testutil.AssertEqual(t, s.IsProcessed("a"), true)
	if err := s.Add(t.Context(), "b", now); err != nil {
		t.Fatal(err)
	}
	persisted, _ := b.LoadTable(t.Context(), Active)
	testutil.AssertEqual(t, persisted, Table{"a": now})
}

func testRoundTrip(t *testing.T, open func(t *testing.T) Backend) {
	b := open(t)
	s := newStore(t, b)
	s.Add(t.Context(), "https://example.com/old", now.Add(-days(45)))
	s.Add(t.Context(), "https://example.com/new", now.Add(-days(2)))
	if _, err := s.ArchiveStale(t.Context(), days(30), now); err != nil {
		t.Fatal(err)
	}
	wantActive, wantArchived := s.Snapshot()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reloaded := newStore(t, open(t))
	t.Cleanup(func() { reloaded.Close() })
	gotActive, gotArchived := reloaded.Snapshot()
	testutil.AssertEqual(t, gotActive, wantActive)
	testutil.AssertEqual(t, gotArchived, wantArchived)
	checkUnion(t, reloaded, "https://example.com/old", "https://example.com/new")
}

func TestJSONFileRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testRoundTrip(t, func(t *testing.T) Backend {
		b, err := NewJSONFile(dir)
		if err != nil {
			t.Fatal(err)
		}
		return b
	})
}

func TestSQLiteRoundTrip(t *testing.T) {
	t.Parallel()

	dsn := filepath.Join(t.TempDir(), "cache.db")
	testRoundTrip(t, func(t *testing.T) Backend {
		b, err := NewSQLite(t.Context(), dsn)
		if err != nil {
			t.Fatal(err)
		}
		return b
	})
}

func TestJSONFileFormat(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	b, err := NewJSONFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.SaveTable(t.Context(), Active, Table{
		"https://b.example/": now,
		"https://a.example/": now.Add(-time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(filepath.Join(dir, ActiveFile))
	if err != nil {
		t.Fatal(err)
	}
	want := `{
  "https://a.example/": "2024-06-01T07:00:00Z",
  "https://b.example/": "2024-06-01T08:00:00Z"
}
`
	testutil.AssertEqual(t, string(got), want)
}

func TestJSONFileLoad(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		contents  string
		missing   bool
		want      Table
		wantError bool
	}{
		"missing": {
			missing: true,
			want:    Table{},
		},
		"corrupt": {
			contents:  `{"https://a.example/": `,
			wantError: true,
		},
		"legacy timestamps": {
			contents: `{"https://a.example/": "2024-06-01T07:00:00.123456"}`,
			want: Table{
				"https://a.example/": time.Date(2024, time.June, 1, 7, 0, 0, 123456000, time.Local),
			},
		},
		"bad timestamp": {
			contents: `{"https://a.example/": "yesterday"}`,
			want:     Table{"https://a.example/": now},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			if !tc.missing {
				if err := os.WriteFile(filepath.Join(dir, ActiveFile), []byte(tc.contents), 0o600); err != nil {
					t.Fatal(err)
				}
			}
			b, err := NewJSONFile(dir)
			if err != nil {
				t.Fatal(err)
			}
			b.now = func() time.Time { return now }

			got, err := b.LoadTable(t.Context(), Active)
			if tc.wantError {
				if err == nil {
					t.Fatal("want error")
				}
				// The store starts empty instead of failing.
				s := newStore(t, b)
				active, _ := s.Len()
				testutil.AssertEqual(t, active, 0)
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			testutil.AssertEqual(t, got, tc.want)
		})
	}
}

func TestJSONFileKeepsCorruptTable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	corrupt := []byte(`{"https://a.example/": "2024-05-01T00:00:00Z", "https://b.exa`)
	if err := os.WriteFile(filepath.Join(dir, ActiveFile), corrupt, 0o600); err != nil {
		t.Fatal(err)
	}
	b, err := NewJSONFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	b.now = func() time.Time { return now }

	s := newStore(t, b)
	if err := s.Add(t.Context(), "https://c.example/", now); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(t.Context(), "https://d.example/", now); err != nil {
		t.Fatal(err)
	}

	setAside, err := os.ReadFile(filepath.Join(dir, ActiveFile+CorruptSuffix+"20240601080000"))
	if err != nil {
		t.Fatalf("corrupt table must be kept: %v", err)
	}
	testutil.AssertEqual(t, string(setAside), string(corrupt))

	reloaded := newStore(t, b)
	active, _ := reloaded.Snapshot()
	testutil.AssertEqual(t, slices.Sorted(maps.Keys(active)), []string{"https://c.example/", "https://d.example/"})
}
