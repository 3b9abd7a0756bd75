// © 2025 Ikigai Labs. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package flows runs Starlark automation flows against incoming WhatsApp
// messages.
//
// Flows live in a directory of *.star files. The entry point is main.star,
// which must define a handle function:
//
//	def handle(update):
//	    msg = update["message"]
//	    if msg["text"]["body"] == "/start":
//	        whatsapp.send_message(to=msg["from"], text="Hello!")
//	        return True
//	    return False
//
// handle receives the raw webhook update converted to Starlark values and
// returns a truthy value if it consumed the update. Updates that no flow
// consumes are forwarded to the backend as usual.
//
// Other files in the directory can be used with load:
//
//	load("greetings.star", "welcome")
//
// If main.star defines an on_load function, it is called once after each
// (re)load.
package flows

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.ikigai.dev/wabot/internal/api/gemini"
	"go.ikigai.dev/wabot/internal/api/whatsapp"
	"go.ikigai.dev/wabot/internal/logger"
	"go.ikigai.dev/wabot/internal/store"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

const mainFile = "main.star"

var errNoHandleFunc = errors.New(mainFile + " must define a handle function")

// Engine loads and runs Starlark flows.
//
// All exported fields must be set before the first call to any method and
// must not be changed afterwards.
type Engine struct {
	// Dir is the directory containing *.star files. If empty, the engine is
	// disabled: Load and Handle are no-ops.
	Dir string
	// WhatsApp is used by the whatsapp Starlark module. Required when Dir is
	// set.
	WhatsApp *whatsapp.Client
	// Gemini is used by the gemini Starlark module. Optional; the module
	// fails at call time when nil.
	Gemini *gemini.Client
	// Store backs the kvcache Starlark module. Required when Dir is set.
	Store store.Store
	// Logf specifies a logger to use. It also receives print output from
	// flows.
	Logf logger.Logf

	prog atomic.Pointer[program]
}

type program struct {
	globals starlark.StringDict
	files   map[string]string
}

// Enabled reports whether a flow directory is configured.
func (e *Engine) Enabled() bool { return e.Dir != "" }

// Load reads the flow directory and executes main.star. It is safe to call
// concurrently with Handle: in-flight updates keep running against the
// program they started with.
func (e *Engine) Load(ctx context.Context) error {
	if !e.Enabled() {
		return nil
	}

	files, err := readDir(e.Dir)
	if err != nil {
		return err
	}
	if _, ok := files[mainFile]; !ok {
		return fmt.Errorf("flows: no %s in %s", mainFile, e.Dir)
	}

	globals, err := e.exec(ctx, files)
	if err != nil {
		return err
	}
	if _, ok := globals["handle"]; !ok {
		return errNoHandleFunc
	}

	prog := &program{globals: globals, files: files}
	if hook, ok := globals["on_load"]; ok {
		if _, err := starlark.Call(e.thread(ctx), hook, nil, nil); err != nil {
			return err
		}
	}
	e.prog.Store(prog)
	return nil
}

// Handle runs the handle function of main.star on a raw webhook update and
// reports whether a flow consumed it.
//
// Calling Handle before a successful Load (or with the engine disabled)
// reports false with no error.
func (e *Engine) Handle(ctx context.Context, update []byte) (consumed bool, err error) {
	prog := e.prog.Load()
	if prog == nil {
		return false, nil
	}

	thread := e.thread(ctx)
	val, err := decodeJSON(thread, update)
	if err != nil {
		return false, fmt.Errorf("flows: converting update: %w", err)
	}

	res, err := starlark.Call(thread, prog.globals["handle"], starlark.Tuple{val}, nil)
	if err != nil {
		return false, err
	}
	return bool(res.Truth()), nil
}

// Health implements a health check for the /health endpoint.
func (e *Engine) Health() (status string, ok bool) {
	if !e.Enabled() {
		return "disabled", true
	}
	if e.prog.Load() == nil {
		return "not loaded", false
	}
	return "loaded", true
}

func (e *Engine) thread(ctx context.Context) *starlark.Thread {
	thread := &starlark.Thread{
		Name: "flows",
		Print: func(_ *starlark.Thread, msg string) {
			e.logf("flows: %s", msg)
		},
	}
	thread.SetLocal(ctxKey, ctx)
	return thread
}

func (e *Engine) logf(format string, args ...any) {
	logf := e.Logf
	if logf == nil {
		logf = log.Printf
	}
	logf(format, args...)
}

// threadContext returns the context the thread was created with.
func threadContext(thread *starlark.Thread) context.Context {
	if ctx, ok := thread.Local(ctxKey).(context.Context); ok {
		return ctx
	}
	return context.Background()
}

const ctxKey = "flows.ctx"

func readDir(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".star") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		files[entry.Name()] = string(b)
	}
	return files, nil
}

// exec executes main.star, loading other files from the directory on demand.
func (e *Engine) exec(ctx context.Context, files map[string]string) (starlark.StringDict, error) {
	type loadEntry struct {
		globals starlark.StringDict
		err     error
	}
	loaded := make(map[string]*loadEntry)

	var load func(thread *starlark.Thread, name string) (starlark.StringDict, error)
	load = func(thread *starlark.Thread, name string) (starlark.StringDict, error) {
		entry, ok := loaded[name]
		if entry != nil {
			return entry.globals, entry.err
		}
		if ok {
			return nil, fmt.Errorf("cycle in load graph at %s", name)
		}
		src, ok := files[name]
		if !ok {
			return nil, fmt.Errorf("no file %s in %s", name, e.Dir)
		}

		loaded[name] = nil // mark in progress
		globals, err := starlark.ExecFileOptions(fileOptions, thread, name, src, e.predeclared())
		loaded[name] = &loadEntry{globals, err}
		return globals, err
	}

	thread := e.thread(ctx)
	thread.Load = load
	return starlark.ExecFileOptions(fileOptions, thread, mainFile, files[mainFile], e.predeclared())
}

var fileOptions = &syntax.FileOptions{
	Set:       true,
	While:     true,
	Recursion: true,
}
