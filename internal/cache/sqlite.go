// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package cache

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a [Backend] keeping both tables in one SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (and if needed creates) the database at dsn.
func NewSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer; modernc.org/sqlite serializes anyway.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS articles (
			link         TEXT PRIMARY KEY,
			processed_at INTEGER NOT NULL,
			archived     INTEGER NOT NULL DEFAULT 0
		);`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, err
		}
	}
	return &SQLite{db: db}, nil
}

func archivedFlag(kind Kind) int {
	if kind == Archived {
		return 1
	}
	return 0
}

// LoadTable selects all rows of the given table.
func (s *SQLite) LoadTable(ctx context.Context, kind Kind) (Table, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT link, processed_at FROM articles WHERE archived = ?;`, archivedFlag(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	t := make(Table)
	for rows.Next() {
		var (
			link string
			at   int64
		)
		if err := rows.Scan(&link, &at); err != nil {
			return nil, err
		}
		t[link] = time.UnixMicro(at).UTC()
	}
	return t, rows.Err()
}

// SaveTable replaces the rows of the given table in one transaction.
func (s *SQLite) SaveTable(ctx context.Context, kind Kind, t Table) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	flag := archivedFlag(kind)
	if _, err := tx.ExecContext(ctx, `DELETE FROM articles WHERE archived = ?;`, flag); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO articles (link, processed_at, archived)
		VALUES (?, ?, ?)
		ON CONFLICT (link) DO UPDATE
		SET processed_at = excluded.processed_at, archived = excluded.archived;
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for link, at := range t {
		if _, err := stmt.ExecContext(ctx, link, at.UnixMicro(), flag); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLite) Close() error { return s.db.Close() }
