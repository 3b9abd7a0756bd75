// © 2025 Ikigai Labs. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Wabot connects WhatsApp to the Ikigai platform.

It receives message updates from the WhatsApp Cloud API via webhook, verifies
their signatures and forwards them to the Ikigai backend, either over a
persistent WebSocket connection or over plain HTTP. Responses coming back from
the backend are delivered to users as WhatsApp messages, optionally with
images and quick reply buttons attached.

Before forwarding, every update is offered to user-defined Starlark flows
that can answer simple requests without involving the backend. Users can also
subscribe to RSS and Atom feeds in chat and receive new items as messages.

# Usage

	$ wabot [flags...]

# Environment variables

Wabot is configured through environment variables:

	ADDR: The address to listen on (default "localhost:8080").
	HOST: The public hostname of the bot; used to register the webhook on
		startup when running in production mode.
	WHATSAPP_ACCESS_TOKEN: The WhatsApp Cloud API access token.
	WHATSAPP_PHONE_NUMBER_ID: The ID of the business phone number the bot
		sends from.
	WHATSAPP_VERIFY_TOKEN: The token used in the webhook verification
		handshake.
	WHATSAPP_APP_SECRET: The Meta app secret used to verify webhook payload
		signatures. If empty, signatures are not verified.
	WHATSAPP_APP_ID: The Meta app ID; required to register the webhook on
		startup.
	IKIGAI_API_URL: The base URL of the Ikigai backend HTTP API.
	IKIGAI_API_TOKEN: The bearer token for the Ikigai backend HTTP API.
	IKIGAI_WEBSOCKET_URL: The base WebSocket URL of the Ikigai backend.
	IKIGAI_PLATFORM_NAME: The platform name the bot registers under
		(default "whatsapp").
	IKIGAI_CONNECTION: How to talk to the backend: "websocket" or "api"
		(default "websocket").
	DATABASE_URL: Where to keep persistent state: a PostgreSQL URL, a path
		ending in ".json", or a SQLite database path. If empty, state is
		kept in STATE_DIRECTORY, or in memory when that is empty too.
	STATE_DIRECTORY: Directory for the default state file. Typically set by
		systemd.
	FLOWS_DIR: Directory with Starlark flows. If empty, flows are disabled.
	FEED_INTERVAL: How often to fetch subscribed feeds (default "30m").
	GEMINI_KEY: The Gemini API key, available to flows.
	DEBUG_TOKEN: The token protecting the debug interface in production
		mode.
	PING_URL: URL to periodically ping to keep the bot from idling.

# Flows

Flows are Starlark files in FLOWS_DIR. The entry point is main.star, which
must define a handle function taking a single update argument. See the
documentation of the flows package for the available modules.

# Debug interface

The debug interface is available at /debug/. In production mode it requires
the X-Debug-Token header to match DEBUG_TOKEN. Logs are streamed at
/debug/log.
*/
package main

import (
	_ "embed"

	"go.ikigai.dev/wabot/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
