// © 2025 Ikigai Labs. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMem(t *testing.T) {
	t.Parallel()
	testStore(t, NewMem(context.Background(), time.Minute))
}

func TestMemTTL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMem(ctx, 10*time.Millisecond)

	if err := s.Set(ctx, "key", []byte("value")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	v, err := s.Get(ctx, "key")
	if err != nil {
		t.Fatal(err)
	}
	if v != nil {
		t.Fatalf("got %q, want expired entry", v)
	}
}

func TestJSONFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "kv.json")
	s, err := NewJSONFile(context.Background(), path, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	testStore(t, s)

	// Reopening the file must preserve the contents.
	s2, err := NewJSONFile(context.Background(), path, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	v, err := s2.Get(context.Background(), "key1")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(v, []byte("value1")) {
		t.Fatalf("got %q after reopen, want %q", v, "value1")
	}
}

func TestPostgres(t *testing.T) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL is not set")
	}

	ctx := context.Background()
	s, err := NewPostgres(ctx, databaseURL, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	// Clean up the table before running the test.
	if _, err := s.pool.Exec(ctx, "DELETE FROM kv"); err != nil {
		t.Fatal(err)
	}

	testStore(t, s)
}

func testStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if err := s.Set(ctx, "key1", []byte("value1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "key2", []byte("value2")); err != nil {
		t.Fatal(err)
	}

	v, err := s.Get(ctx, "key1")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(v, []byte("value1")) {
		t.Errorf("got %q, want %q", v, "value1")
	}

	// Overwrites replace the value.
	if err := s.Set(ctx, "key2", []byte("value3")); err != nil {
		t.Fatal(err)
	}
	v, err = s.Get(ctx, "key2")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(v, []byte("value3")) {
		t.Errorf("got %q, want %q", v, "value3")
	}

	// Missing keys return (nil, nil).
	v, err = s.Get(ctx, "key3")
	if err != nil {
		t.Fatal(err)
	}
	if v != nil {
		t.Errorf("got %q, want nil", v)
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for _, tc := range []struct {
		dsn  string
		want string
	}{
		{"", "*store.Mem"},
		{"mem", "*store.Mem"},
		{filepath.Join(t.TempDir(), "kv.json"), "*store.JSONFile"},
	} {
		s, err := Open(ctx, tc.dsn, time.Minute)
		if err != nil {
			t.Fatalf("Open(%q): %v", tc.dsn, err)
		}
		defer s.Close()
		if got := fmt.Sprintf("%T", s); got != tc.want {
			t.Errorf("Open(%q) = %s, want %s", tc.dsn, got, tc.want)
		}
	}
}
