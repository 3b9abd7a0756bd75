// © 2025 Ikigai Labs. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.ikigai.dev/wabot/internal/testutil"
)

func TestRespondJSON(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	RespondJSON(w, map[string]string{"status": "ok"})

	res := w.Result()
	testutil.AssertEqual(t, res.Header.Get("Content-Type"), "application/json")
	testutil.AssertEqual(t, w.Body.String(), "{\n  \"status\": \"ok\"\n}\n")
}

func TestRespondError(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		err        error
		wantStatus int
	}{
		"status error": {
			err:        ErrNotFound,
			wantStatus: http.StatusNotFound,
		},
		"wrapped status error": {
			err:        fmt.Errorf("some resource %w", ErrNotFound),
			wantStatus: http.StatusNotFound,
		},
		"plain error": {
			err:        fmt.Errorf("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			RespondError(t.Logf, w, tc.err)
			testutil.AssertEqual(t, w.Result().StatusCode, tc.wantStatus)
		})
	}
}

func TestStatusErrError(t *testing.T) {
	t.Parallel()

	testutil.AssertEqual(t, ErrNotFound.Error(), "not found")
	testutil.AssertEqual(t, ErrBadRequest.Error(), "bad request")
}
