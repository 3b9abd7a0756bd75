// © 2025 Ikigai Labs. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"time"

	"go.ikigai.dev/wabot/internal/util/syncx"
)

// Mem is an in-memory implementation of the [Store] interface.
type Mem struct {
	ttl     time.Duration
	entries syncx.Map[string, memEntry]
}

type memEntry struct {
	value        []byte
	lastAccessed time.Time
}

// NewMem creates a new [Mem] with the given TTL. The cleanup goroutine stops
// when ctx is canceled.
func NewMem(ctx context.Context, ttl time.Duration) *Mem {
	s := &Mem{ttl: ttl}
	go s.cleanup(ctx)
	return s
}

func (s *Mem) cleanup(ctx context.Context) {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.entries.Range(func(key string, e memEntry) bool {
				if time.Since(e.lastAccessed) > s.ttl {
					s.entries.Delete(key)
				}
				return true
			})
		case <-ctx.Done():
			return
		}
	}
}

// Get retrieves a value for a given key.
func (s *Mem) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := s.entries.Load(key)
	if !ok {
		return nil, nil
	}
	if time.Since(e.lastAccessed) > s.ttl {
		s.entries.Delete(key)
		return nil, nil
	}
	e.lastAccessed = time.Now()
	s.entries.Store(key, e)
	return e.value, nil
}

// Set stores a value for a given key.
func (s *Mem) Set(_ context.Context, key string, value []byte) error {
	s.entries.Store(key, memEntry{value: value, lastAccessed: time.Now()})
	return nil
}

// Close implements the [Store] interface. It does nothing.
func (s *Mem) Close() error { return nil }
