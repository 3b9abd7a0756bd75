// © 2025 Ikigai Labs. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package ikigai provides a client for the Ikigai backend API and defines the
// event schema shared by the HTTP and WebSocket transports.
package ikigai

import (
	"context"
	"net/http"
	"strings"

	"go.ikigai.dev/wabot/internal/request"
)

// Client holds configuration for interacting with the Ikigai API over HTTP.
type Client struct {
	// BaseURL is the base URL of the Ikigai API, without a trailing slash.
	BaseURL string
	// Token is the bearer token used for authentication.
	Token string
	// HTTPClient is an optional HTTP client to use for requests. Defaults to
	// request.DefaultClient.
	HTTPClient *http.Client
	// Scrubber is an optional strings.Replacer that scrubs unwanted data from
	// error messages.
	Scrubber *strings.Replacer
}

// Reply is what the backend answers to a posted event. Message, if non-empty,
// is sent back to the user.
type Reply struct {
	Message string `json:"message"`
}

// PostMessage posts an ActionMessage event and returns the backend's reply.
func (c *Client) PostMessage(ctx context.Context, ev Event) (Reply, error) {
	return c.post(ctx, "message", ev)
}

// PostButtonClick posts an ActionButtonClick event and returns the backend's
// reply.
func (c *Client) PostButtonClick(ctx context.Context, ev Event) (Reply, error) {
	return c.post(ctx, "interaction", ev)
}

func (c *Client) post(ctx context.Context, path string, ev Event) (Reply, error) {
	return request.MakeJSON[Reply](ctx, request.Params{
		Method: http.MethodPost,
		URL:    c.BaseURL + "/" + path,
		Body:   ev,
		Headers: map[string]string{
			"Authorization": "Bearer " + c.Token,
		},
		HTTPClient: c.HTTPClient,
		Scrubber:   c.Scrubber,
	})
}
