// © 2025 Ikigai Labs. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package ikigai

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Actions of events sent to the backend.
const (
	ActionMessage     = "message"
	ActionButtonClick = "button_click"
)

// Event is the envelope of everything the bot sends to the backend, over
// either transport.
type Event struct {
	Action  string `json:"action"`
	Content any    `json:"content"`
}

// PlatformID identifies a user or channel on the messaging platform.
type PlatformID struct {
	ID string `json:"id"`
}

// Author describes the user an event originated from. Guild is always null
// for WhatsApp: there are no servers, every conversation is a DM.
type Author struct {
	PlatformID PlatformID `json:"platform_id"`
	Username   string     `json:"username"`
	Guild      any        `json:"guild"`
}

// Channel describes the conversation an event originated from. On WhatsApp
// the channel of a user is the user itself.
type Channel struct {
	PlatformID PlatformID `json:"platform_id"`
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	Guild      any        `json:"guild"`
}

// MessageContent is the content of an ActionMessage event.
type MessageContent struct {
	Content string  `json:"content"`
	Author  Author  `json:"author"`
	Channel Channel `json:"channel"`
}

// ButtonClickContent is the content of an ActionButtonClick event.
type ButtonClickContent struct {
	ID       int     `json:"id"`
	CustomID string  `json:"custom_id"`
	User     Author  `json:"user"`
	Channel  Channel `json:"channel"`
}

// MessageEvent constructs an ActionMessage event for a text sent by the
// WhatsApp user identified by waID.
func MessageEvent(waID, username, text string) Event {
	return Event{
		Action: ActionMessage,
		Content: MessageContent{
			Content: text,
			Author:  author(waID, username),
			Channel: dmChannel(waID, username),
		},
	}
}

// ButtonClickEvent constructs an ActionButtonClick event for a button tap by
// the WhatsApp user identified by waID.
func ButtonClickEvent(waID, username string, button ButtonData) Event {
	return Event{
		Action: ActionButtonClick,
		Content: ButtonClickContent{
			ID:       button.ID,
			CustomID: button.CustomID,
			User:     author(waID, username),
			Channel:  dmChannel(waID, username),
		},
	}
}

func author(waID, username string) Author {
	return Author{PlatformID: PlatformID{ID: waID}, Username: username}
}

func dmChannel(waID, username string) Channel {
	return Channel{PlatformID: PlatformID{ID: waID}, Name: username, Type: "dm"}
}

// ButtonData is the information about a backend button that survives the
// round trip through WhatsApp. WhatsApp lets us attach only a short opaque
// string to a quick reply button, so the backend button ID and custom ID are
// packed into it with [ButtonData.Encode] and recovered with
// [DecodeButtonData].
type ButtonData struct {
	ID       int
	CustomID string
}

// buttonDataSep separates the fields of an encoded ButtonData. Custom IDs
// never contain it.
const buttonDataSep = "~"

// Encode packs the button data into a quick reply button ID string.
func (bd ButtonData) Encode() string {
	return strconv.Itoa(bd.ID) + buttonDataSep + bd.CustomID
}

// DecodeButtonData unpacks button data from a quick reply button ID string.
func DecodeButtonData(s string) (ButtonData, error) {
	idStr, customID, ok := strings.Cut(s, buttonDataSep)
	if !ok {
		return ButtonData{}, fmt.Errorf("ikigai: malformed button data %q", s)
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return ButtonData{}, fmt.Errorf("ikigai: malformed button data %q: %v", s, err)
	}
	return ButtonData{ID: id, CustomID: customID}, nil
}

// Backend response types, delivered over the WebSocket connection.

// Response is a message the backend wants delivered to a platform user.
type Response struct {
	ID       int              `json:"id"`
	Receiver *ResponseUser    `json:"receiver"`
	Channel  *ResponseChannel `json:"channel"`
	Content  string           `json:"content"`
	Files    []ResponseFile   `json:"files"`
	Buttons  []ResponseButton `json:"buttons"`
}

// ReceiverID returns the WhatsApp ID the response should be delivered to for
// the given platform name, or an error if the response doesn't carry one.
func (r *Response) ReceiverID(platform string) (string, error) {
	if r.Receiver == nil {
		return "", fmt.Errorf("ikigai: response %d has no receiver", r.ID)
	}
	id, ok := r.Receiver.PlatformIDs[platform]
	if !ok || id == "" {
		return "", fmt.Errorf("ikigai: response %d receiver has no %q platform ID", r.ID, platform)
	}
	return id, nil
}

// ResponseUser is the recipient of a backend response.
type ResponseUser struct {
	ID          int               `json:"id"`
	Username    string            `json:"username"`
	PlatformIDs map[string]string `json:"platform_ids"`
}

// ResponseChannel is the conversation a backend response belongs to.
type ResponseChannel struct {
	ID          int               `json:"id"`
	Name        string            `json:"name"`
	PlatformIDs map[string]string `json:"platform_ids"`
}

// ResponseFile is a file attached to a backend response.
type ResponseFile struct {
	ID   json.Number `json:"id"`
	Mime string      `json:"mime"`
	URL  string      `json:"url"`
}

// ResponseButton is a button attached to a backend response.
type ResponseButton struct {
	ID               int    `json:"id"`
	CustomID         string `json:"custom_id"`
	Style            int    `json:"style"`
	Label            string `json:"label"`
	Clicked          bool   `json:"clicked"`
	RemoveAfterClick bool   `json:"remove_after_click"`
}

// Data returns the part of the button that is carried through WhatsApp.
func (rb ResponseButton) Data() ButtonData {
	return ButtonData{ID: rb.ID, CustomID: rb.CustomID}
}
