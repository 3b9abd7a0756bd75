// © 2025 Ikigai Labs. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Webhook payload types. See
// https://developers.facebook.com/docs/whatsapp/cloud-api/webhooks/payload-examples
// for the shape of the payloads.

// Update is the top-level object the WhatsApp platform delivers to the
// webhook.
type Update struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups changes that happened to a single WhatsApp business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change describes a single change notification.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value carries the actual messages, contacts and statuses of a change.
type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
	Statuses         []Status  `json:"statuses,omitempty"`
}

// Metadata identifies the business phone number the update is for.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Contact describes the user a message came from.
type Contact struct {
	WAID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// Message is a single inbound message.
type Message struct {
	From        string       `json:"from"`
	ID          string       `json:"id"`
	Timestamp   string       `json:"timestamp"`
	Type        string       `json:"type"`
	Text        *Text        `json:"text,omitempty"`
	Image       *Media       `json:"image,omitempty"`
	Interactive *Interactive `json:"interactive,omitempty"`
}

// Time returns the message timestamp, or the zero time if it can't be parsed.
func (m Message) Time() time.Time {
	sec, err := strconv.ParseInt(m.Timestamp, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

// Text is the body of a text message.
type Text struct {
	Body string `json:"body"`
}

// Media describes an inbound media attachment.
type Media struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	Caption  string `json:"caption,omitempty"`
}

// Interactive is the payload of an interactive message reply.
type Interactive struct {
	Type        string       `json:"type"`
	ButtonReply *ButtonReply `json:"button_reply,omitempty"`
}

// ButtonReply identifies the quick reply button the user tapped.
type ButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Status is a delivery status notification for an outbound message.
type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// IncomingMessage pairs a message with the contact that sent it.
type IncomingMessage struct {
	Message
	Sender Contact
}

// SenderName returns the profile name of the sender, falling back to the
// WhatsApp ID.
func (im IncomingMessage) SenderName() string {
	if im.Sender.Profile.Name != "" {
		return im.Sender.Profile.Name
	}
	return im.Sender.WAID
}

// Messages flattens the update into a list of inbound messages, resolving the
// sending contact of each. Status-only updates produce an empty list.
func (u *Update) Messages() []IncomingMessage {
	var msgs []IncomingMessage
	for _, entry := range u.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			contacts := make(map[string]Contact)
			for _, c := range change.Value.Contacts {
				contacts[c.WAID] = c
			}
			for _, m := range change.Value.Messages {
				sender, ok := contacts[m.From]
				if !ok {
					sender = Contact{WAID: m.From}
				}
				msgs = append(msgs, IncomingMessage{Message: m, Sender: sender})
			}
		}
	}
	return msgs
}

// SignatureHeader is the name of the header carrying the webhook payload
// signature.
const SignatureHeader = "X-Hub-Signature-256"

// VerifySignature reports whether header is a valid signature of body under
// the app secret. The header has the form "sha256=<hex digest>", where the
// digest is an HMAC-SHA256 of the raw request body keyed with the app secret.
func VerifySignature(secret string, body []byte, header string) bool {
	hexDigest, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(hexDigest)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
