// © 2025 Ikigai Labs. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"go.ikigai.dev/wabot/internal/api/ikigai"
	"go.ikigai.dev/wabot/internal/api/whatsapp"
	"go.ikigai.dev/wabot/internal/web"

	"go.starlark.net/starlark"
)

// handleVerification answers the webhook verification handshake the WhatsApp
// Cloud API performs when the webhook is registered.
func (e *engine) handleVerification(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != e.waVerifyToken {
		web.RespondError(e.logf, w, web.ErrForbidden)
		return
	}
	io.WriteString(w, q.Get("hub.challenge"))
}

func (e *engine) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		web.RespondError(e.logf, w, err)
		return
	}
	// The signature covers the raw body, so it must be verified before
	// anything parses it.
	if e.waAppSecret != "" && !whatsapp.VerifySignature(e.waAppSecret, body, r.Header.Get(whatsapp.SignatureHeader)) {
		web.RespondError(e.logf, w, web.ErrUnauthorized)
		return
	}

	var upd whatsapp.Update
	if err := json.Unmarshal(body, &upd); err != nil {
		web.RespondError(e.logf, w, web.ErrBadRequest)
		return
	}

	// An authenticated update is always acknowledged with 200, even when
	// handling parts of it fails: the platform would otherwise keep
	// redelivering it.
	defer web.RespondJSON(w, map[string]string{"status": "ok"})

	msgs := upd.Messages()
	if len(msgs) == 0 {
		// Delivery status updates carry no messages. Drop them.
		return
	}

	// Offer the update to flows first. A flow error never blocks delivery to
	// the backend.
	consumed, err := e.flows.Handle(r.Context(), body)
	if err != nil {
		e.logFlowError(err)
	} else if consumed {
		return
	}

	for _, msg := range msgs {
		if err := e.processMessage(r.Context(), msg); err != nil {
			e.logf("Processing message %s: %v", msg.ID, err)
		}
	}
}

func (e *engine) processMessage(ctx context.Context, msg whatsapp.IncomingMessage) error {
	if err := e.wa.MarkRead(ctx, msg.ID); err != nil {
		e.logf("Marking message %s as read: %v", msg.ID, err)
	}

	switch msg.Type {
	case "text":
		if msg.Text == nil {
			return nil
		}
		handled, err := e.feed.HandleCommand(ctx, msg.From, msg.Text.Body)
		if handled || err != nil {
			return err
		}
		return e.forward(ctx, ikigai.MessageEvent(msg.From, msg.SenderName(), msg.Text.Body), msg.From)
	case "interactive":
		if msg.Interactive == nil || msg.Interactive.ButtonReply == nil {
			return nil
		}
		data, err := ikigai.DecodeButtonData(msg.Interactive.ButtonReply.ID)
		if err != nil {
			return err
		}
		return e.forward(ctx, ikigai.ButtonClickEvent(msg.From, msg.SenderName(), data), msg.From)
	default:
		e.logf("Ignoring message %s of unsupported type %q.", msg.ID, msg.Type)
		return nil
	}
}

// forward delivers an event to the backend. In WebSocket mode replies arrive
// asynchronously over the bridge; in API mode the immediate reply, if any, is
// sent back to the user.
func (e *engine) forward(ctx context.Context, ev ikigai.Event, from string) error {
	if e.br != nil {
		return e.br.Send(ctx, ev)
	}

	var (
		reply ikigai.Reply
		err   error
	)
	switch ev.Action {
	case ikigai.ActionButtonClick:
		reply, err = e.backend.PostButtonClick(ctx, ev)
	default:
		reply, err = e.backend.PostMessage(ctx, ev)
	}
	if err != nil {
		return err
	}
	if reply.Message != "" {
		_, err = e.wa.SendText(ctx, from, reply.Message)
	}
	return err
}

func (e *engine) logFlowError(err error) {
	msg := err.Error()
	if evalErr, ok := err.(*starlark.EvalError); ok {
		msg = evalErr.Backtrace()
	}
	if e.scrubber != nil {
		// Mask secrets in backtraces.
		msg = e.scrubber.Replace(msg)
	}
	e.logf("Flow failed: %s", msg)
}
