// © 2025 Ikigai Labs. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package logger

import (
	"fmt"
	"testing"

	"go.ikigai.dev/wabot/internal/testutil"
)

func TestStreamerLines(t *testing.T) {
	t.Parallel()

	s := NewStreamer(3)

	for i := range 5 {
		fmt.Fprintf(s, "line %d\n", i)
	}

	// Only the last three lines fit into the ring buffer.
	testutil.AssertEqual(t, s.Lines(), []string{"line 2\n", "line 3\n", "line 4\n"})
}

func TestStreamerPartialWrites(t *testing.T) {
	t.Parallel()

	s := NewStreamer(10)

	s.Write([]byte("hello, "))
	s.Write([]byte("world\n"))

	testutil.AssertEqual(t, s.Lines(), []string{"hello, world\n"})
}

func TestStream(t *testing.T) {
	t.Parallel()

	s := NewStreamer(10)

	stream, closeFunc := s.Stream()
	defer closeFunc()

	fmt.Fprintf(s, "ping\n")

	testutil.AssertEqual(t, <-stream, "ping\n")
}
