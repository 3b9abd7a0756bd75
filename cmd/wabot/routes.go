// © 2025 Ikigai Labs. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"fmt"
	"net/http"

	"go.ikigai.dev/wabot/internal/version"
	"go.ikigai.dev/wabot/internal/web"
)

func (e *engine) initRoutes() {
	e.mux = http.NewServeMux()

	e.mux.HandleFunc("/", e.handleRoot)
	e.mux.HandleFunc("GET /whatsapp", e.handleVerification)
	e.mux.HandleFunc("POST /whatsapp", e.handleWebhook)

	// Health check.
	health := web.Health(e.mux)
	health.RegisterFunc("flows", e.flows.Health)
	if e.br != nil {
		health.RegisterFunc("bridge", e.br.Health)
	}

	// Debug routes.
	dbg := web.Debugger(e.logf, e.mux)
	dbg.KVFunc("Connection mode", func() any { return e.connection })
	dbg.KVFunc("Platform", func() any { return e.platform })
	dbg.Handle("log", "Log", e.logStream)
	if e.flows.Enabled() {
		dbg.HandleFunc("reload", "Reload flows", func(w http.ResponseWriter, r *http.Request) {
			if err := e.flows.Load(r.Context()); err != nil {
				web.RespondError(e.logf, w, err)
				return
			}
			http.Redirect(w, r, "/debug/", http.StatusFound)
		})
	}
}

func (e *engine) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		web.RespondError(e.logf, w, web.ErrNotFound)
		return
	}
	fmt.Fprintf(w, "%s %s\n", version.CmdName(), version.Version().Version)
}
