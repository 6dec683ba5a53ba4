// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package xattr

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Import SQLite driver for database/sql
)

// SQLiteBacking keeps records in an append-only SQLite table.
type SQLiteBacking struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at dsn.
func OpenSQLite(dsn string) (*SQLiteBacking, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", p, err)
		}
	}
	schema := `
CREATE TABLE IF NOT EXISTS records (
  seq   INTEGER PRIMARY KEY AUTOINCREMENT,
  ino   INTEGER NOT NULL,
  attr  TEXT    NOT NULL,
  value TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS records_ino ON records(ino, seq);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteBacking{db: db}, nil
}

// Append implements Backing.
func (b *SQLiteBacking) Append(e Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// inode numbers are stored as their two's-complement int64.
	if _, err := b.db.ExecContext(ctx, `INSERT INTO records(ino, attr, value) VALUES(?, ?, ?)`,
		int64(e.Inode), e.Attribute, e.Value); err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}
	return nil
}

// Records implements Backing.
func (b *SQLiteBacking) Records(inode uint64) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rows, err := b.db.QueryContext(ctx, `SELECT attr, value FROM records WHERE ino = ? ORDER BY seq ASC`, int64(inode))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e := Entry{Inode: inode}
		if err := rows.Scan(&e.Attribute, &e.Value); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (b *SQLiteBacking) Close() error {
	return b.db.Close()
}
