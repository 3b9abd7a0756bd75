// © 2025 Ikigai Labs. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"go.ikigai.dev/wabot/internal/testutil"
)

const phoneNumberID = "106540352242922"

func testClient(t *testing.T, h func(w http.ResponseWriter, r *http.Request)) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST graph.facebook.com/"+APIVersion+"/"+phoneNumberID+"/messages", h)
	return &Client{
		Token:         "test-token",
		PhoneNumberID: phoneNumberID,
		HTTPClient:    testutil.MockHTTPClient(mux),
	}
}

func TestSendText(t *testing.T) {
	t.Parallel()

	var got map[string]any
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		testutil.AssertEqual(t, r.Header.Get("Authorization"), "Bearer test-token")
		b, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatal(err)
		}
		got = testutil.UnmarshalJSON[map[string]any](t, b)
		w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.test"}]}`))
	})

	id, err := c.SendText(context.Background(), "16505551234", "hello")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, id, "wamid.test")
	testutil.AssertEqual(t, got["type"], "text")
	testutil.AssertEqual(t, got["to"], "16505551234")
	text := got["text"].(map[string]any)
	testutil.AssertEqual(t, text["body"], "hello")
	testutil.AssertEqual(t, text["preview_url"], false)
}

func TestSendTextWithButtons(t *testing.T) {
	t.Parallel()

	var got map[string]any
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatal(err)
		}
		got = testutil.UnmarshalJSON[map[string]any](t, b)
		w.Write([]byte(`{"messages":[{"id":"wamid.test"}]}`))
	})

	_, err := c.SendText(context.Background(), "16505551234", "pick one", Button{ID: "1", Title: "Start"})
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, got["type"], "interactive")
	interactive := got["interactive"].(map[string]any)
	testutil.AssertEqual(t, interactive["type"], "button")
	action := interactive["action"].(map[string]any)
	buttons := action["buttons"].([]any)
	testutil.AssertEqual(t, len(buttons), 1)
	reply := buttons[0].(map[string]any)["reply"].(map[string]any)
	testutil.AssertEqual(t, reply["id"], "1")
	testutil.AssertEqual(t, reply["title"], "Start")
}

func TestSendImage(t *testing.T) {
	t.Parallel()

	var got map[string]any
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatal(err)
		}
		got = testutil.UnmarshalJSON[map[string]any](t, b)
		w.Write([]byte(`{"messages":[{"id":"wamid.test"}]}`))
	})

	_, err := c.SendImage(context.Background(), "16505551234", "https://example.com/pic.png", "a caption")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, got["type"], "image")
	image := got["image"].(map[string]any)
	testutil.AssertEqual(t, image["link"], "https://example.com/pic.png")
	testutil.AssertEqual(t, image["caption"], "a caption")
}

func TestMarkRead(t *testing.T) {
	t.Parallel()

	var got map[string]any
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatal(err)
		}
		got = testutil.UnmarshalJSON[map[string]any](t, b)
		w.Write([]byte(`{"success":true}`))
	})

	if err := c.MarkRead(context.Background(), "wamid.inbound"); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, got["status"], "read")
	testutil.AssertEqual(t, got["message_id"], "wamid.inbound")
}

// A realistic text message update, taken from the Cloud API payload examples.
const textUpdate = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "102290129340398",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {
          "display_phone_number": "15550783881",
          "phone_number_id": "106540352242922"
        },
        "contacts": [{
          "profile": {"name": "Samer"},
          "wa_id": "33601090133"
        }],
        "messages": [{
          "from": "33601090133",
          "id": "wamid.HBgLMTY0NjcwNDM1OTUVAgASGBQzQTVEMEE0OTMzMzk3QjI5REZFQgA=",
          "timestamp": "1661886191",
          "type": "text",
          "text": {"body": "Hello!"}
        }]
      }
    }]
  }]
}`

func TestUpdateMessages(t *testing.T) {
	t.Parallel()

	var u Update
	if err := json.Unmarshal([]byte(textUpdate), &u); err != nil {
		t.Fatal(err)
	}

	msgs := u.Messages()
	testutil.AssertEqual(t, len(msgs), 1)
	m := msgs[0]
	testutil.AssertEqual(t, m.Type, "text")
	testutil.AssertEqual(t, m.Text.Body, "Hello!")
	testutil.AssertEqual(t, m.Sender.WAID, "33601090133")
	testutil.AssertEqual(t, m.SenderName(), "Samer")
	testutil.AssertEqual(t, m.Time().Unix(), int64(1661886191))
}

func TestUpdateMessagesStatusOnly(t *testing.T) {
	t.Parallel()

	const statusUpdate = `{
	  "object": "whatsapp_business_account",
	  "entry": [{
	    "id": "102290129340398",
	    "changes": [{
	      "field": "messages",
	      "value": {
	        "messaging_product": "whatsapp",
	        "metadata": {"display_phone_number": "15550783881", "phone_number_id": "106540352242922"},
	        "statuses": [{"id": "wamid.out", "status": "delivered", "timestamp": "1661886200", "recipient_id": "33601090133"}]
	      }
	    }]
	  }]
	}`

	u := testutil.UnmarshalJSON[Update](t, []byte(statusUpdate))
	testutil.AssertEqual(t, len(u.Messages()), 0)
}

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	const secret = "app-secret"
	body := []byte(`{"object":"whatsapp_business_account"}`)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	header := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	cases := map[string]struct {
		secret string
		body   []byte
		header string
		want   bool
	}{
		"valid":            {secret, body, header, true},
		"wrong secret":     {"other-secret", body, header, false},
		"tampered body":    {secret, []byte(`{"object":"evil"}`), header, false},
		"missing prefix":   {secret, body, strings.TrimPrefix(header, "sha256="), false},
		"malformed digest": {secret, body, "sha256=nothex", false},
		"empty header":     {secret, body, "", false},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			testutil.AssertEqual(t, VerifySignature(tc.secret, tc.body, tc.header), tc.want)
		})
	}
}
