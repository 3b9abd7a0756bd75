// © 2025 Ikigai Labs. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package syncx

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestProtected(t *testing.T) {
	t.Parallel()

	p := Protect(make(map[string]int))

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Access(func(m map[string]int) {
				m["n"]++
			})
		}()
	}
	wg.Wait()

	p.RAccess(func(m map[string]int) {
		if m["n"] != 10 {
			t.Fatalf("got %d, want 10", m["n"])
		}
	})
}

func TestLazy(t *testing.T) {
	t.Parallel()

	var (
		l     Lazy[int]
		calls atomic.Int64
	)
	for range 5 {
		got := l.Get(func() int {
			calls.Add(1)
			return 42
		})
		if got != 42 {
			t.Fatalf("got %d, want 42", got)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("compute function called %d times, want 1", calls.Load())
	}
}

func TestLimitedWaitGroup(t *testing.T) {
	t.Parallel()

	const limit = 3

	var (
		lwg     = NewLimitedWaitGroup(limit)
		active  atomic.Int64
		maxSeen atomic.Int64
	)
	for range 20 {
		lwg.Add(1)
		go func() {
			defer lwg.Done()
			n := active.Add(1)
			defer active.Add(-1)
			for {
				cur := maxSeen.Load()
				if n <= cur || maxSeen.CompareAndSwap(cur, n) {
					break
				}
			}
		}()
	}
	lwg.Wait()

	if maxSeen.Load() > limit {
		t.Fatalf("saw %d concurrent workers, limit is %d", maxSeen.Load(), limit)
	}
}

func TestMap(t *testing.T) {
	t.Parallel()

	var m Map[string, int]

	if _, ok := m.Load("a"); ok {
		t.Fatal("Load on empty map reported ok")
	}

	m.Store("a", 1)
	m.Store("b", 2)

	if v, ok := m.Load("a"); !ok || v != 1 {
		t.Fatalf("Load(a) = %d, %v; want 1, true", v, ok)
	}

	seen := make(map[string]int)
	m.Range(func(k string, v int) bool {
		seen[k] = v
		return true
	})
	if len(seen) != 2 || seen["b"] != 2 {
		t.Fatalf("Range saw %v", seen)
	}

	m.Delete("a")
	if _, ok := m.Load("a"); ok {
		t.Fatal("Load after Delete reported ok")
	}
}
