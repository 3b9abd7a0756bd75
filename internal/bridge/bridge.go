// © 2025 Ikigai Labs. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package bridge maintains the persistent WebSocket connection between the
// bot and the Ikigai backend: it pushes platform events to the backend and
// delivers backend responses to WhatsApp users.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"go.ikigai.dev/wabot/internal/api/ikigai"
	"go.ikigai.dev/wabot/internal/api/whatsapp"
	"go.ikigai.dev/wabot/internal/logger"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// Sender delivers backend responses to platform users. It is implemented by
// [whatsapp.Client].
type Sender interface {
	SendText(ctx context.Context, to, text string, buttons ...whatsapp.Button) (string, error)
	SendImage(ctx context.Context, to, link, caption string) (string, error)
}

// Bridge manages a lazily established WebSocket connection to the backend.
//
// All fields must be set before the first call to any method and must not be
// changed afterwards.
type Bridge struct {
	// URL is the base WebSocket URL of the backend (e.g. "ws://electro:8000").
	URL string
	// Platform is the platform name the bot registers under.
	Platform string
	// Sender delivers backend responses to users.
	Sender Sender
	// Logf specifies a logger to use. If nil, log.Printf is used.
	Logf logger.Logf
	// Dialer is an optional WebSocket dialer. Defaults to
	// websocket.DefaultDialer.
	Dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

func (b *Bridge) logf(format string, args ...any) {
	logf := b.Logf
	if logf == nil {
		logf = log.Printf
	}
	logf(format, args...)
}

func (b *Bridge) socketURL() string {
	return b.URL + "/websocket/platform/" + b.Platform
}

// Send pushes an event to the backend, connecting first if necessary. A send
// that fails because the connection was closed is retried once on a fresh
// connection.
func (b *Bridge) Send(ctx context.Context, ev ikigai.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := b.write(ctx, data); err != nil {
		// The connection might have been closed from the other side while we
		// held it; try again on a fresh one.
		b.drop(nil)
		return b.write(ctx, data)
	}
	return nil
}

func (b *Bridge) write(ctx context.Context, data []byte) error {
	conn, err := b.get(ctx)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// get returns the current connection, dialing a new one if needed.
func (b *Bridge) get(ctx context.Context) (*websocket.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return b.conn, nil
	}

	dialer := b.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, b.socketURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: failed to connect to %s: %w", b.socketURL(), err)
	}
	b.conn = conn
	b.logf("Connected to %s.", b.socketURL())
	go b.listen(conn)
	return conn, nil
}

// drop closes and forgets the connection if it is still the current one.
// Passing nil drops whatever connection is current.
func (b *Bridge) drop(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if conn != nil && b.conn != conn {
		return
	}
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}

// Close shuts the connection down. The bridge remains usable; the next Send
// reconnects.
func (b *Bridge) Close() error {
	b.drop(nil)
	return nil
}

// Connected reports whether the bridge currently holds a connection.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// Health implements a health check for the /health endpoint.
func (b *Bridge) Health() (status string, ok bool) {
	if b.Connected() {
		return "connected", true
	}
	// Not having a connection is fine: it is established lazily and
	// re-established on the next send.
	return "not connected", true
}

// listen reads backend responses from conn until it fails.
func (b *Bridge) listen(conn *websocket.Conn) {
	defer b.drop(conn)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logf("Connection to backend closed unexpectedly: %v", err)
			}
			return
		}
		var resp ikigai.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			b.logf("Dropping malformed backend response: %v", err)
			continue
		}
		if err := b.deliver(context.Background(), &resp); err != nil {
			b.logf("Failed to deliver backend response %d: %v", resp.ID, err)
		}
	}
}

// deliver sends a backend response to its receiver on WhatsApp: first any
// attached files as images, then the text content with quick reply buttons.
func (b *Bridge) deliver(ctx context.Context, resp *ikigai.Response) error {
	to, err := resp.ReceiverID(b.Platform)
	if err != nil {
		return err
	}

	for _, f := range resp.Files {
		if _, err := b.Sender.SendImage(ctx, to, f.URL, ""); err != nil {
			return err
		}
	}

	if resp.Content == "" && len(resp.Buttons) == 0 {
		return nil
	}

	buttons := make([]whatsapp.Button, 0, len(resp.Buttons))
	for _, btn := range resp.Buttons {
		buttons = append(buttons, whatsapp.Button{
			ID:    btn.Data().Encode(),
			Title: btn.Label,
		})
	}
	_, err = b.Sender.SendText(ctx, to, resp.Content, buttons...)
	return err
}
