// © 2025 Ikigai Labs. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package store implements a key-value store with a configurable backend.
//
// Values expire when not accessed for the TTL the store was opened with.
// The bot uses it to persist flow state and feed subscriptions across
// restarts.
package store

import (
	"context"
	"strings"
	"time"
)

// Store is a generic interface for a key-value store.
type Store interface {
	// Get retrieves a value for a given key.
	// It must return (nil, nil) if the key is not found.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores a value for a given key.
	Set(ctx context.Context, key string, value []byte) error
	// Close closes the store and releases any resources.
	Close() error
}

// Open opens a store identified by dsn:
//
//   - "" or "mem" opens an in-memory store that loses its contents on
//     restart
//   - "postgres://..." (or "postgresql://...") connects to a PostgreSQL
//     database
//   - a path ending in ".json" opens a JSON file store
//   - anything else is treated as a SQLite database path
//
// Entries not accessed for ttl are removed.
func Open(ctx context.Context, dsn string, ttl time.Duration) (Store, error) {
	switch {
	case dsn == "" || dsn == "mem":
		return NewMem(ctx, ttl), nil
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgres(ctx, dsn, ttl)
	case strings.HasSuffix(dsn, ".json"):
		return NewJSONFile(ctx, dsn, ttl)
	default:
		return NewSQLite(ctx, dsn, ttl)
	}
}
