// © 2025 Ikigai Labs. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"crawshaw.dev/jsonfile"
)

// JSONFile is a file-backed implementation of the [Store] interface.
type JSONFile struct {
	f   *jsonfile.JSONFile[jsonStore]
	ttl time.Duration
}

type jsonStore struct {
	Data map[string]jsonEntry `json:"data"`
}

type jsonEntry struct {
	Value        []byte    `json:"value"`
	LastAccessed time.Time `json:"last_accessed"`
}

// NewJSONFile creates a new [JSONFile] backed by the file at path with the
// given TTL, creating the file if it doesn't exist.
func NewJSONFile(ctx context.Context, path string, ttl time.Duration) (*JSONFile, error) {
	f, err := jsonfile.Load[jsonStore](path)
	if errors.Is(err, fs.ErrNotExist) {
		f, err = jsonfile.New[jsonStore](path)
		if err == nil {
			err = f.Write(func(js *jsonStore) error {
				js.Data = make(map[string]jsonEntry)
				return nil
			})
		}
	}
	if err != nil {
		return nil, err
	}

	s := &JSONFile{f: f, ttl: ttl}
	s.expire()
	go s.cleanup(ctx)
	return s, nil
}

func (s *JSONFile) cleanup(ctx context.Context) {
	sleep := min(s.ttl/2, 24*time.Hour)
	for {
		select {
		case <-time.After(sleep):
			s.expire()
		case <-ctx.Done():
			return
		}
	}
}

func (s *JSONFile) expire() {
	s.f.Write(func(js *jsonStore) error {
		for key, e := range js.Data {
			if time.Since(e.LastAccessed) > s.ttl {
				delete(js.Data, key)
			}
		}
		return nil
	})
}

// Get retrieves a value for a given key.
func (s *JSONFile) Get(_ context.Context, key string) ([]byte, error) {
	var val []byte
	err := s.f.Write(func(js *jsonStore) error {
		e, ok := js.Data[key]
		if !ok {
			return nil
		}
		if time.Since(e.LastAccessed) > s.ttl {
			delete(js.Data, key)
			return nil
		}
		e.LastAccessed = time.Now()
		js.Data[key] = e
		val = e.Value
		return nil
	})
	return val, err
}

// Set stores a value for a given key.
func (s *JSONFile) Set(_ context.Context, key string, value []byte) error {
	return s.f.Write(func(js *jsonStore) error {
		if js.Data == nil {
			js.Data = make(map[string]jsonEntry)
		}
		js.Data[key] = jsonEntry{Value: value, LastAccessed: time.Now()}
		return nil
	})
}

// Close implements the [Store] interface. It does nothing: every write is
// flushed to disk as it happens.
func (s *JSONFile) Close() error { return nil }
