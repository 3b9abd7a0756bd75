// © 2025 Ikigai Labs. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package whatsapp provides a minimal client for the WhatsApp Cloud API,
// covering the operations the bot actually uses: sending text, images and
// reply buttons, marking messages as read and managing the webhook
// subscription.
package whatsapp

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.ikigai.dev/wabot/internal/request"
)

// DefaultAPIURL is the Graph API endpoint used unless [Client.APIURL] is set.
const DefaultAPIURL = "https://graph.facebook.com"

// APIVersion is the Graph API version all requests are made against.
const APIVersion = "v21.0"

// Client holds configuration for interacting with the WhatsApp Cloud API.
type Client struct {
	// Token is the access token of the WhatsApp business account.
	Token string
	// PhoneNumberID is the ID of the phone number messages are sent from.
	PhoneNumberID string
	// AppID and AppSecret identify the Meta app; they are needed only for
	// webhook subscription management.
	AppID     string
	AppSecret string
	// APIURL overrides the Graph API endpoint. Defaults to DefaultAPIURL.
	APIURL string
	// HTTPClient is an optional HTTP client to use for requests. Defaults to
	// request.DefaultClient.
	HTTPClient *http.Client
	// Scrubber is an optional strings.Replacer that scrubs unwanted data from
	// error messages.
	Scrubber *strings.Replacer
}

func (c *Client) apiURL() string {
	if c.APIURL != "" {
		return c.APIURL
	}
	return DefaultAPIURL
}

func (c *Client) messagesURL() string {
	return c.apiURL() + "/" + APIVersion + "/" + c.PhoneNumberID + "/messages"
}

func (c *Client) authHeader() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.Token}
}

// Button is a quick reply button attached to an outgoing message.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText sends a text message to the user identified by to (a WhatsApp ID).
// If buttons are provided, the message is sent as an interactive message with
// quick reply buttons.
func (c *Client) SendText(ctx context.Context, to, text string, buttons ...Button) (id string, err error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
	}
	if len(buttons) > 0 {
		payload["type"] = "interactive"
		payload["interactive"] = map[string]any{
			"type":   "button",
			"body":   map[string]string{"text": text},
			"action": map[string]any{"buttons": replyButtons(buttons)},
		}
	} else {
		payload["type"] = "text"
		payload["text"] = map[string]any{
			"preview_url": false,
			"body":        text,
		}
	}
	return c.send(ctx, payload)
}

// SendImage sends an image by URL, with an optional caption.
func (c *Client) SendImage(ctx context.Context, to, link, caption string) (id string, err error) {
	image := map[string]any{"link": link}
	if caption != "" {
		image["caption"] = caption
	}
	return c.send(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "image",
		"image":             image,
	})
}

// MarkRead marks the message identified by messageID as read.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	_, err := request.MakeJSON[request.IgnoreResponse](ctx, request.Params{
		Method: http.MethodPost,
		URL:    c.messagesURL(),
		Body: map[string]any{
			"messaging_product": "whatsapp",
			"status":            "read",
			"message_id":        messageID,
		},
		Headers:    c.authHeader(),
		HTTPClient: c.HTTPClient,
		Scrubber:   c.Scrubber,
	})
	return err
}

func (c *Client) send(ctx context.Context, payload map[string]any) (string, error) {
	resp, err := request.MakeJSON[sendResponse](ctx, request.Params{
		Method:     http.MethodPost,
		URL:        c.messagesURL(),
		Body:       payload,
		Headers:    c.authHeader(),
		HTTPClient: c.HTTPClient,
		Scrubber:   c.Scrubber,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Messages) == 0 {
		return "", nil
	}
	return resp.Messages[0].ID, nil
}

func replyButtons(buttons []Button) []map[string]any {
	bs := make([]map[string]any, 0, len(buttons))
	for _, b := range buttons {
		bs = append(bs, map[string]any{
			"type":  "reply",
			"reply": b,
		})
	}
	return bs
}

// PhoneNumber describes the business phone number the bot sends from.
type PhoneNumber struct {
	ID                 string `json:"id"`
	VerifiedName       string `json:"verified_name"`
	DisplayPhoneNumber string `json:"display_phone_number"`
	QualityRating      string `json:"quality_rating"`
}

// PhoneNumber fetches information about the configured phone number. It is
// used on startup as a credential check.
func (c *Client) PhoneNumber(ctx context.Context) (PhoneNumber, error) {
	return request.MakeJSON[PhoneNumber](ctx, request.Params{
		Method:     http.MethodGet,
		URL:        c.apiURL() + "/" + APIVersion + "/" + c.PhoneNumberID + "?fields=verified_name,display_phone_number,quality_rating",
		Headers:    c.authHeader(),
		HTTPClient: c.HTTPClient,
		Scrubber:   c.Scrubber,
	})
}

// SetWebhook subscribes the Meta app to WhatsApp message events delivered to
// callbackURL. The platform immediately performs the verification handshake
// against callbackURL using verifyToken, so the webhook endpoint must be
// reachable before this call.
func (c *Client) SetWebhook(ctx context.Context, callbackURL, verifyToken string) error {
	if c.AppID == "" || c.AppSecret == "" {
		return fmt.Errorf("whatsapp: both AppID and AppSecret are required to set a webhook")
	}
	_, err := request.MakeJSON[request.IgnoreResponse](ctx, request.Params{
		Method: http.MethodPost,
		URL:    c.apiURL() + "/" + APIVersion + "/" + c.AppID + "/subscriptions",
		Body: map[string]any{
			"object":       "whatsapp_business_account",
			"callback_url": callbackURL,
			"verify_token": verifyToken,
			"fields":       "messages",
			"access_token": c.AppID + "|" + c.AppSecret,
		},
		HTTPClient: c.HTTPClient,
		Scrubber:   c.Scrubber,
	})
	return err
}
