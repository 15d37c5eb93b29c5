// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.astrophena.name/feedsum/internal/atomicio"
)

// File names used by [JSONFile] inside its directory.
const (
	ActiveFile   = "processed_articles.json"
	ArchivedFile = "archived_articles.json"
)

// archiveBackups is how many previous archive files are kept around.
const archiveBackups = 5

// Timestamps written by older tools carry no zone and may have microseconds.
var legacyTimeLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
}

// JSONFile is a [Backend] that keeps each table in its own JSON file,
// an object mapping links to RFC 3339 timestamps with keys sorted.
//
// A table file that can't be parsed is not overwritten: the next save moves
// it aside as <name>.corrupt-<time> so it can be repaired by hand.
type JSONFile struct {
	dir string
	now func() time.Time

	mu      sync.Mutex
	corrupt map[Kind]bool
}

// NewJSONFile returns a [JSONFile] storing tables in dir, creating it if needed.
func NewJSONFile(dir string) (*JSONFile, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &JSONFile{dir: dir, now: time.Now}, nil
}

func (j *JSONFile) path(kind Kind) string {
	if kind == Archived {
		return filepath.Join(j.dir, ArchivedFile)
	}
	return filepath.Join(j.dir, ActiveFile)
}

// LoadTable reads the table file. A missing file is an empty table. An entry
// whose timestamp can't be parsed is kept with the current time, so that the
// article stays known.
func (j *JSONFile) LoadTable(_ context.Context, kind Kind) (Table, error) {
	b, err := os.ReadFile(j.path(kind))
	if errors.Is(err, fs.ErrNotExist) {
		return make(Table), nil
	}
	if err != nil {
		return nil, err
	}

	var raw map[string]string
	if err := json.Unmarshal(b, &raw); err != nil {
		j.mu.Lock()
		if j.corrupt == nil {
			j.corrupt = make(map[Kind]bool)
		}
		j.corrupt[kind] = true
		j.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", filepath.Base(j.path(kind)), err)
	}
	j.mu.Lock()
	delete(j.corrupt, kind)
	j.mu.Unlock()

	t := make(Table, len(raw))
	for link, ts := range raw {
		at, ok := parseTime(ts)
		if !ok {
			at = j.now()
		}
		t[link] = at
	}
	return t, nil
}

func parseTime(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	for _, layout := range legacyTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// SaveTable atomically rewrites the table file. The archive file keeps a few
// backups since entries only leave the active table through it.
func (j *JSONFile) SaveTable(_ context.Context, kind Kind, t Table) error {
	raw := make(map[string]string, len(t))
	for link, at := range t {
		raw[link] = at.Format(time.RFC3339Nano)
	}
	// encoding/json sorts map keys.
	b, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	if err := j.setAsideCorrupt(kind); err != nil {
		return err
	}
	if kind == Archived {
		return atomicio.WriteFileBackup(j.path(kind), b, 0o600, archiveBackups)
	}
	return atomicio.WriteFile(j.path(kind), b, 0o600)
}

// CorruptSuffix starts the name suffix of table files set aside because they
// couldn't be parsed.
const CorruptSuffix = ".corrupt-"

func (j *JSONFile) setAsideCorrupt(kind Kind) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.corrupt[kind] {
		return nil
	}
	path := j.path(kind)
	err := os.Rename(path, path+CorruptSuffix+j.now().UTC().Format("20060102150405"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("setting aside unparsable %s: %w", filepath.Base(path), err)
	}
	delete(j.corrupt, kind)
	return nil
}

// Close is a no-op for JSONFile.
func (j *JSONFile) Close() error { return nil }
