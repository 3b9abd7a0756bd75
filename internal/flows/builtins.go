// © 2025 Ikigai Labs. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package flows

import (
	"errors"
	"fmt"

	"go.ikigai.dev/wabot/internal/api/gemini"
	"go.ikigai.dev/wabot/internal/api/whatsapp"
	"go.ikigai.dev/wabot/internal/version"

	starlarkjson "go.starlark.net/lib/json"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Starlark environment available to flows.

func (e *Engine) predeclared() starlark.StringDict {
	var phoneNumberID string
	if e.WhatsApp != nil {
		phoneNumberID = e.WhatsApp.PhoneNumberID
	}
	return starlark.StringDict{
		"config": starlarkstruct.FromStringDict(
			starlarkstruct.Default,
			starlark.StringDict{
				"phone_number_id": starlark.String(phoneNumberID),
				"version":         starlark.String(version.Version().Version),
			},
		),
		"fail": starlark.NewBuiltin("fail", starlarkFail),
		"gemini": &starlarkstruct.Module{
			Name: "gemini",
			Members: starlark.StringDict{
				"generate_content": starlark.NewBuiltin("gemini.generate_content", e.starlarkGenerateContent),
			},
		},
		"json": starlarkjson.Module,
		"kvcache": &starlarkstruct.Module{
			Name: "kvcache",
			Members: starlark.StringDict{
				"get": starlark.NewBuiltin("kvcache.get", e.starlarkCacheGet),
				"set": starlark.NewBuiltin("kvcache.set", e.starlarkCacheSet),
			},
		},
		"module": starlark.NewBuiltin("module", starlarkstruct.MakeModule),
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"time":   starlarktime.Module,
		"whatsapp": &starlarkstruct.Module{
			Name: "whatsapp",
			Members: starlark.StringDict{
				"mark_read":    starlark.NewBuiltin("whatsapp.mark_read", e.starlarkMarkRead),
				"send_image":   starlark.NewBuiltin("whatsapp.send_image", e.starlarkSendImage),
				"send_message": starlark.NewBuiltin("whatsapp.send_message", e.starlarkSendMessage),
			},
		},
	}
}

// fail Starlark function.
func starlarkFail(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var errStr string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "err", &errStr); err != nil {
		return nil, err
	}
	return nil, errors.New(errStr)
}

// whatsapp.send_message Starlark function.
func (e *Engine) starlarkSendMessage(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		to, text    string
		buttonsList *starlark.List
	)
	if err := starlark.UnpackArgs(
		b.Name(), args, kwargs,
		"to", &to,
		"text", &text,
		"buttons?", &buttonsList,
	); err != nil {
		return nil, err
	}

	var buttons []whatsapp.Button
	if buttonsList != nil {
		for i := range buttonsList.Len() {
			btn, err := unpackButton(b, buttonsList.Index(i), i)
			if err != nil {
				return nil, err
			}
			buttons = append(buttons, btn)
		}
	}

	id, err := e.WhatsApp.SendText(threadContext(thread), to, text, buttons...)
	if err != nil {
		return nil, err
	}
	return starlark.String(id), nil
}

// unpackButton converts a {"id": ..., "title": ...} dict to a quick reply
// button.
func unpackButton(b *starlark.Builtin, v starlark.Value, i int) (whatsapp.Button, error) {
	dict, ok := v.(*starlark.Dict)
	if !ok {
		return whatsapp.Button{}, fmt.Errorf("%s: buttons[%d] is not a dict", b.Name(), i)
	}
	var btn whatsapp.Button
	for _, field := range []struct {
		key string
		val *string
	}{
		{"id", &btn.ID},
		{"title", &btn.Title},
	} {
		v, found, err := dict.Get(starlark.String(field.key))
		if err != nil {
			return whatsapp.Button{}, err
		}
		s, ok := v.(starlark.String)
		if !found || !ok {
			return whatsapp.Button{}, fmt.Errorf("%s: buttons[%d] has no string %q key", b.Name(), i, field.key)
		}
		*field.val = string(s)
	}
	return btn, nil
}

// whatsapp.send_image Starlark function.
func (e *Engine) starlarkSendImage(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var to, link, caption string
	if err := starlark.UnpackArgs(
		b.Name(), args, kwargs,
		"to", &to,
		"link", &link,
		"caption?", &caption,
	); err != nil {
		return nil, err
	}
	id, err := e.WhatsApp.SendImage(threadContext(thread), to, link, caption)
	if err != nil {
		return nil, err
	}
	return starlark.String(id), nil
}

// whatsapp.mark_read Starlark function.
func (e *Engine) starlarkMarkRead(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var messageID string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "message_id", &messageID); err != nil {
		return nil, err
	}
	return starlark.None, e.WhatsApp.MarkRead(threadContext(thread), messageID)
}

// kvcache.get Starlark function.
func (e *Engine) starlarkCacheGet(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "key", &key); err != nil {
		return nil, err
	}
	data, err := e.Store.Get(threadContext(thread), key)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return starlark.None, nil
	}
	return decodeJSON(thread, data)
}

// kvcache.set Starlark function.
func (e *Engine) starlarkCacheSet(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		key   string
		value starlark.Value
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "key", &key, "value", &value); err != nil {
		return nil, err
	}
	data, err := encodeJSON(thread, value)
	if err != nil {
		return nil, err
	}
	return starlark.None, e.Store.Set(threadContext(thread), key, data)
}

// gemini.generate_content Starlark function.
//
// It accepts the text to generate from and optional system instructions:
//
//	reply = gemini.generate_content(
//	    contents=["Tell me a joke."],
//	    system_instructions="You are a helpful assistant.",
//	)
//
// Each even element of contents is marked as sent by the user, each odd one
// as sent by the model. Passing unsafe=True turns off the safety filters.
// The generated text is returned as a string.
func (e *Engine) starlarkGenerateContent(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if e.Gemini == nil {
		return nil, fmt.Errorf("%s: Gemini API is not available", b.Name())
	}

	var (
		contentsList       *starlark.List
		systemInstructions string
		unsafe             bool
	)
	if err := starlark.UnpackArgs(
		b.Name(), args, kwargs,
		"contents", &contentsList,
		"system_instructions?", &systemInstructions,
		"unsafe?", &unsafe,
	); err != nil {
		return nil, err
	}

	var contents []*gemini.Content
	for i := range contentsList.Len() {
		part, ok := contentsList.Index(i).(starlark.String)
		if !ok {
			return nil, fmt.Errorf("%s: contents[%d] is not a string", b.Name(), i)
		}
		role := "user"
		if i%2 == 1 {
			role = "model"
		}
		contents = append(contents, &gemini.Content{
			Parts: []*gemini.Part{{Text: string(part)}},
			Role:  role,
		})
	}

	params := gemini.GenerateContentParams{Contents: contents}
	if systemInstructions != "" {
		params.SystemInstruction = &gemini.Content{
			Parts: []*gemini.Part{{Text: systemInstructions}},
		}
	}
	if unsafe {
		params.SafetySettings = []*gemini.SafetySetting{
			{Category: gemini.DangerousContent, Threshold: gemini.BlockNone},
			{Category: gemini.Harassment, Threshold: gemini.BlockNone},
			{Category: gemini.HateSpeech, Threshold: gemini.BlockNone},
			{Category: gemini.SexuallyExplicit, Threshold: gemini.BlockNone},
		}
	}

	resp, err := e.Gemini.GenerateContent(threadContext(thread), params)
	if err != nil {
		return nil, err
	}
	text, err := resp.Text()
	if err != nil {
		return nil, err
	}
	return starlark.String(text), nil
}

// decodeJSON converts JSON data to a Starlark value using the json module.
func decodeJSON(thread *starlark.Thread, data []byte) (starlark.Value, error) {
	return starlark.Call(thread, starlarkjson.Module.Members["decode"], starlark.Tuple{starlark.String(data)}, nil)
}

// encodeJSON converts a Starlark value to JSON using the json module.
func encodeJSON(thread *starlark.Thread, v starlark.Value) ([]byte, error) {
	res, err := starlark.Call(thread, starlarkjson.Module.Members["encode"], starlark.Tuple{v}, nil)
	if err != nil {
		return nil, err
	}
	s, ok := res.(starlark.String)
	if !ok {
		return nil, fmt.Errorf("json.encode returned %s, not string", res.Type())
	}
	return []byte(s), nil
}
