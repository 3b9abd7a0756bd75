// © 2025 Ikigai Labs. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package cli

import (
	"context"
	"errors"
	"flag"
	"strings"
	"testing"

	"go.ikigai.dev/wabot/internal/testutil"
)

func testEnv(args ...string) (*Env, *strings.Builder) {
	var stderr strings.Builder
	return &Env{
		Args:   args,
		Getenv: func(string) string { return "" },
		Stdin:  strings.NewReader(""),
		Stdout: &stderr,
		Stderr: &stderr,
	}, &stderr
}

func TestRun(t *testing.T) {
	t.Parallel()

	var ran bool
	env, _ := testEnv()
	err := Run(context.Background(), AppFunc(func(context.Context, *Env) error {
		ran = true
		return nil
	}), env)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, ran, true)
}

func TestRunVersionFlag(t *testing.T) {
	t.Parallel()

	env, stderr := testEnv("-version")
	err := Run(context.Background(), AppFunc(func(context.Context, *Env) error {
		t.Fatal("app must not run with -version")
		return nil
	}), env)
	if !errors.Is(err, ErrExitVersion) {
		t.Fatalf("got error %v, want ErrExitVersion", err)
	}
	if stderr.Len() == 0 {
		t.Fatal("version output is empty")
	}
}

func TestRunHelpFlag(t *testing.T) {
	t.Parallel()

	env, _ := testEnv("-h")
	err := Run(context.Background(), AppFunc(func(context.Context, *Env) error {
		t.Fatal("app must not run with -h")
		return nil
	}), env)
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("got error %v, want flag.ErrHelp", err)
	}
	testutil.AssertEqual(t, isPrintableError(err), false)
}
