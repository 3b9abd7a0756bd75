// © 2025 Ikigai Labs. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.ikigai.dev/wabot/internal/api/gemini"
	"go.ikigai.dev/wabot/internal/api/ikigai"
	"go.ikigai.dev/wabot/internal/api/whatsapp"
	"go.ikigai.dev/wabot/internal/bridge"
	"go.ikigai.dev/wabot/internal/cli"
	"go.ikigai.dev/wabot/internal/feed"
	"go.ikigai.dev/wabot/internal/flows"
	"go.ikigai.dev/wabot/internal/logger"
	"go.ikigai.dev/wabot/internal/request"
	"go.ikigai.dev/wabot/internal/store"
	"go.ikigai.dev/wabot/internal/util/syncx"
	"go.ikigai.dev/wabot/internal/version"
	"go.ikigai.dev/wabot/internal/web"
)

func main() { cli.Main(new(engine)) }

const (
	connWebSocket = "websocket"
	connAPI       = "api"

	kvTTL               = 30 * 24 * time.Hour
	selfPingInterval    = 10 * time.Minute
	defaultFeedInterval = 30 * time.Minute
)

type engine struct {
	init syncx.Lazy[error] // main initialization

	// configuration, read-only after initialization
	addr          string
	prod          bool
	host          string
	waToken       string
	waPhoneID     string
	waVerifyToken string
	waAppSecret   string
	waAppID       string
	apiURL        string
	apiToken      string
	wsURL         string
	platform      string
	connection    string
	storeDSN      string
	flowsDir      string
	feedEvery     time.Duration
	geminiKey     string
	debugToken    string
	pingURL       string
	httpc         *http.Client
	stderr        io.Writer

	// initialized by doInit
	wa        *whatsapp.Client
	backend   *ikigai.Client
	geminic   *gemini.Client
	br        *bridge.Bridge
	flows     *flows.Engine
	feed      *feed.Fetcher
	kv        store.Store
	logf      logger.Logf
	logStream logger.Streamer
	mux       *http.ServeMux
	scrubber  *strings.Replacer

	// for tests
	noServerStart bool
	ready         func()
}

func (e *engine) Flags(fs *flag.FlagSet) {
	fs.StringVar(&e.addr, "addr", "localhost:8080", "Listen on `host:port`.")
	fs.BoolVar(&e.prod, "prod", false, "Run in production mode.")
}

func (e *engine) Run(ctx context.Context, env *cli.Env) error {
	// Load configuration from environment variables.
	e.apiToken = cmp.Or(e.apiToken, env.Getenv("IKIGAI_API_TOKEN"))
	e.apiURL = cmp.Or(e.apiURL, env.Getenv("IKIGAI_API_URL"))
	e.connection = cmp.Or(e.connection, env.Getenv("IKIGAI_CONNECTION"), connWebSocket)
	e.debugToken = cmp.Or(e.debugToken, env.Getenv("DEBUG_TOKEN"))
	e.flowsDir = cmp.Or(e.flowsDir, env.Getenv("FLOWS_DIR"))
	e.geminiKey = cmp.Or(e.geminiKey, env.Getenv("GEMINI_KEY"))
	e.host = cmp.Or(e.host, env.Getenv("HOST"))
	e.pingURL = cmp.Or(e.pingURL, env.Getenv("PING_URL"))
	e.platform = cmp.Or(e.platform, env.Getenv("IKIGAI_PLATFORM_NAME"), "whatsapp")
	e.waAppID = cmp.Or(e.waAppID, env.Getenv("WHATSAPP_APP_ID"))
	e.waAppSecret = cmp.Or(e.waAppSecret, env.Getenv("WHATSAPP_APP_SECRET"))
	e.waPhoneID = cmp.Or(e.waPhoneID, env.Getenv("WHATSAPP_PHONE_NUMBER_ID"))
	e.waToken = cmp.Or(e.waToken, env.Getenv("WHATSAPP_ACCESS_TOKEN"))
	e.waVerifyToken = cmp.Or(e.waVerifyToken, env.Getenv("WHATSAPP_VERIFY_TOKEN"))
	e.wsURL = cmp.Or(e.wsURL, env.Getenv("IKIGAI_WEBSOCKET_URL"))
	if addr := env.Getenv("ADDR"); addr != "" {
		e.addr = addr
	}
	if e.storeDSN == "" {
		e.storeDSN = env.Getenv("DATABASE_URL")
	}
	if e.storeDSN == "" {
		if stateDir := env.Getenv("STATE_DIRECTORY"); stateDir != "" {
			e.storeDSN = filepath.Join(stateDir, "wabot.json")
		}
	}
	if e.feedEvery == 0 {
		e.feedEvery = parseFeedInterval(env.Getenv("FEED_INTERVAL"))
	}

	e.stderr = env.Stderr

	if e.connection != connWebSocket && e.connection != connAPI {
		return fmt.Errorf("unknown IKIGAI_CONNECTION value %q (want %q or %q)", e.connection, connWebSocket, connAPI)
	}

	// Initialize internal state.
	if err := e.init.Get(func() error {
		return e.doInit(ctx)
	}); err != nil {
		return err
	}

	// Used in tests.
	if e.noServerStart {
		return nil
	}

	if e.pingURL != "" {
		go e.ping(ctx, selfPingInterval)
	}

	go e.feedLoop(ctx)

	// If running in production mode, register the webhook with the WhatsApp
	// Cloud API.
	if e.prod {
		if err := e.setWebhook(ctx); err != nil {
			return err
		}
		e.logf("Running in production mode.")
	} else {
		e.logf("Running in development mode.")
	}

	return web.ListenAndServe(ctx, &web.ListenAndServeConfig{
		Addr:       e.addr,
		Mux:        e.mux,
		Logf:       e.logf,
		Debuggable: true,
		DebugAuth:  e.debugAuth,
		Ready:      e.ready,
	})
}

func parseFeedInterval(s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultFeedInterval
}

func (e *engine) doInit(ctx context.Context) error {
	if e.httpc == nil {
		e.httpc = &http.Client{
			// Gemini API responses can take a while.
			Timeout: 60 * time.Second,
		}
	}
	if e.stderr == nil {
		e.stderr = os.Stderr
	}

	const logLineLimit = 300
	e.logStream = logger.NewStreamer(logLineLimit)
	e.logf = log.New(io.MultiWriter(e.stderr, e.logStream), "", log.LstdFlags).Printf

	var scrubPairs []string
	for _, val := range []string{
		e.waToken,
		e.waAppSecret,
		e.waVerifyToken,
		e.apiToken,
		e.geminiKey,
		e.debugToken,
	} {
		if val != "" {
			scrubPairs = append(scrubPairs, val, "[EXPUNGED]")
		}
	}
	if len(scrubPairs) > 0 {
		e.scrubber = strings.NewReplacer(scrubPairs...)
	}

	e.wa = &whatsapp.Client{
		Token:         e.waToken,
		PhoneNumberID: e.waPhoneID,
		AppID:         e.waAppID,
		AppSecret:     e.waAppSecret,
		HTTPClient:    e.httpc,
		Scrubber:      e.scrubber,
	}

	// Credential check: fail fast on a misconfigured access token.
	phone, err := e.wa.PhoneNumber(ctx)
	if err != nil {
		return fmt.Errorf("looking up phone number %s: %w", e.waPhoneID, err)
	}
	e.logf("Sending as %s (%s).", phone.VerifiedName, phone.DisplayPhoneNumber)

	e.backend = &ikigai.Client{
		BaseURL:    e.apiURL,
		Token:      e.apiToken,
		HTTPClient: e.httpc,
		Scrubber:   e.scrubber,
	}
	if e.connection == connWebSocket {
		e.br = &bridge.Bridge{
			URL:      e.wsURL,
			Platform: e.platform,
			Sender:   e.wa,
			Logf:     e.logf,
		}
	}
	if e.geminiKey != "" {
		e.geminic = &gemini.Client{
			APIKey:     e.geminiKey,
			Model:      "gemini-1.5-flash",
			HTTPClient: e.httpc,
			Scrubber:   e.scrubber,
		}
	}

	e.kv, err = store.Open(ctx, e.storeDSN, kvTTL)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}

	e.flows = &flows.Engine{
		Dir:      e.flowsDir,
		WhatsApp: e.wa,
		Gemini:   e.geminic,
		Store:    e.kv,
		Logf:     e.logf,
	}
	if err := e.flows.Load(ctx); err != nil {
		return fmt.Errorf("loading flows: %w", err)
	}

	e.feed = &feed.Fetcher{
		Sender:     e.wa,
		Store:      e.kv,
		HTTPClient: e.httpc,
		Logf:       e.logf,
	}

	e.initRoutes()
	return nil
}

func (e *engine) setWebhook(ctx context.Context) error {
	if e.host == "" {
		return fmt.Errorf("host hasn't been set; pass it with the HOST environment variable")
	}
	u := &url.URL{
		Scheme: "https",
		Host:   e.host,
		Path:   "/whatsapp",
	}
	return e.wa.SetWebhook(ctx, u.String(), e.waVerifyToken)
}

func (e *engine) debugAuth(r *http.Request) bool {
	if !e.prod || e.debugToken == "" {
		return true
	}
	return r.Header.Get("X-Debug-Token") == e.debugToken
}

func (e *engine) ping(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, err := request.MakeJSON[request.IgnoreResponse](ctx, request.Params{
				Method: http.MethodGet,
				URL:    e.pingURL,
				Headers: map[string]string{
					"User-Agent": version.UserAgent(),
				},
				HTTPClient: e.httpc,
			})
			if err != nil {
				e.logf("ping: failed to send heartbeat: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (e *engine) feedLoop(ctx context.Context) {
	ticker := time.NewTicker(e.feedEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := e.feed.Run(ctx); err != nil {
				e.logf("feed: run failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
