// © 2025 Ikigai Labs. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/tailscale/sqlite"
)

// SQLite is a SQLite implementation of the [Store] interface.
type SQLite struct {
	db  *sql.DB
	ttl time.Duration
}

// NewSQLite creates a new [SQLite] store backed by the database at dsn,
// creating it if needed.
func NewSQLite(ctx context.Context, dsn string, ttl time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA strict=ON;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return nil, err
		}
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			last_accessed INTEGER NOT NULL
		);
	`); err != nil {
		return nil, err
	}

	s := &SQLite{db: db, ttl: ttl}
	s.expire(ctx)
	go s.cleanup(ctx)

	return s, nil
}

func (s *SQLite) cleanup(ctx context.Context) {
	sleep := min(s.ttl/2, 24*time.Hour)
	for {
		select {
		case <-time.After(sleep):
			s.expire(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *SQLite) expire(ctx context.Context) {
	s.db.ExecContext(ctx, `DELETE FROM kv WHERE last_accessed < ?;`, time.Now().Add(-s.ttl).Unix())
}

// Get retrieves a value for a given key.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var data []byte
	if err := tx.QueryRowContext(ctx, `
		SELECT value FROM kv WHERE key = ? AND last_accessed >= ?;
	`, key, time.Now().Add(-s.ttl).Unix()).Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE kv SET last_accessed = ? WHERE key = ?;
	`, time.Now().Unix(), key); err != nil {
		return nil, err
	}

	return data, tx.Commit()
}

// Set stores a value for a given key.
func (s *SQLite) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, last_accessed)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE
		SET value = excluded.value, last_accessed = excluded.last_accessed;
	`, key, value, time.Now().Unix())
	return err
}

// Close closes the database connection.
func (s *SQLite) Close() error { return s.db.Close() }
