// © 2025 Ikigai Labs. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package gemini

import (
	"context"
	"net/http"
	"testing"

	"go.ikigai.dev/wabot/internal/testutil"
)

func TestGenerateContent(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST generativelanguage.googleapis.com/v1beta/models/gemini-1.5-flash:generateContent", func(w http.ResponseWriter, r *http.Request) {
		testutil.AssertEqual(t, r.Header.Get("x-goog-api-key"), "test-key")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Hello, "},{"text":"world!"}],"role":"model"}}]}`))
	})

	c := &Client{
		APIKey:     "test-key",
		Model:      "gemini-1.5-flash",
		HTTPClient: testutil.MockHTTPClient(mux),
	}

	resp, err := c.GenerateContent(context.Background(), GenerateContentParams{
		Contents: []*Content{{Parts: []*Part{{Text: "Say hello"}}, Role: "user"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	text, err := resp.Text()
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, text, "Hello, world!")
}

func TestGenerateContentNoModel(t *testing.T) {
	t.Parallel()

	c := &Client{APIKey: "test-key"}
	if _, err := c.GenerateContent(context.Background(), GenerateContentParams{}); err == nil {
		t.Fatal("expected error for empty model, got none")
	}
}

func TestTextNoCandidates(t *testing.T) {
	t.Parallel()

	var r *GenerateContentResponse
	if _, err := r.Text(); err == nil {
		t.Fatal("expected error for empty response, got none")
	}
}
