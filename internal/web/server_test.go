// © 2025 Ikigai Labs. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"

	"go.ikigai.dev/wabot/internal/testutil"
)

func TestListenAndServeConfig(t *testing.T) {
	cases := map[string]struct {
		c       *ListenAndServeConfig
		wantErr error
	}{
		"no Addr": {
			c: &ListenAndServeConfig{
				Addr: "",
				Mux:  http.NewServeMux(),
			},
			wantErr: errNoAddr,
		},
		"nil Mux": {
			c: &ListenAndServeConfig{
				Addr: ":3000",
				Mux:  nil,
			},
			wantErr: errNilMux,
		},
	}
	for _, tc := range cases {
		err := ListenAndServe(context.Background(), tc.c)

		// Don't use && because we want to trap all cases where err is nil.
		if err == nil {
			if tc.wantErr != nil {
				t.Fatalf("must fail with error: %v", tc.wantErr)
			}
		}

		if err != nil && !errors.Is(err, tc.wantErr) {
			t.Fatalf("got error: %v", err)
		}
	}
}

func TestListenAndServe(t *testing.T) {
	// Find a free port for us.
	port, err := getFreePort()
	if err != nil {
		t.Fatalf("Failed to find a free port: %v", err)
	}
	addr := fmt.Sprintf("localhost:%d", port)

	var wg sync.WaitGroup

	ready := make(chan struct{})
	errCh := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ListenAndServe(ctx, &ListenAndServeConfig{
			Addr:       addr,
			Mux:        http.NewServeMux(),
			Logf:       t.Logf,
			Debuggable: true,
			Ready: func() {
				ready <- struct{}{}
			},
		}); err != nil {
			errCh <- err
		}
	}()

	// Wait until the server is ready.
	select {
	case err := <-errCh:
		t.Fatalf("Test server crashed during startup or runtime: %v", err)
	case <-ready:
	}

	urls := []struct {
		url        string
		wantStatus int
	}{
		{url: "/health", wantStatus: http.StatusOK},
		{url: "/debug/", wantStatus: http.StatusOK},
	}

	for _, u := range urls {
		res, err := http.Get("http://" + addr + u.url)
		if err != nil {
			t.Fatal(err)
		}
		if res.StatusCode != u.wantStatus {
			t.Fatalf("GET %s: want status code %d, got %d", u.url, u.wantStatus, res.StatusCode)
		}
		testutil.AssertEqual(t, res.Header.Get("X-Content-Type-Options"), "nosniff")
	}

	// Try to gracefully shutdown the server.
	cancel()
	// Wait until the server shuts down.
	wg.Wait()
	// See if the server failed to shutdown.
	select {
	case err := <-errCh:
		t.Fatalf("Test server crashed during shutdown: %v", err)
	default:
	}
}

func TestDebugAuth(t *testing.T) {
	port, err := getFreePort()
	if err != nil {
		t.Fatalf("Failed to find a free port: %v", err)
	}
	addr := fmt.Sprintf("localhost:%d", port)

	ready := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ListenAndServe(ctx, &ListenAndServeConfig{
			Addr:       addr,
			Mux:        http.NewServeMux(),
			Logf:       t.Logf,
			Debuggable: true,
			DebugAuth: func(r *http.Request) bool {
				return r.Header.Get("X-Debug-Token") == "letmein"
			},
			Ready: func() {
				ready <- struct{}{}
			},
		})
	}()
	<-ready

	// Without the token debug endpoints pretend to not exist.
	res, err := http.Get("http://" + addr + "/debug/")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, res.StatusCode, http.StatusNotFound)

	req, err := http.NewRequest(http.MethodGet, "http://"+addr+"/debug/", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-Debug-Token", "letmein")
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, res.StatusCode, http.StatusOK)

	cancel()
	wg.Wait()
}

// getFreePort asks the kernel for a free open port that is ready to use.
// Copied from
// https://github.com/phayes/freeport/blob/74d24b5ae9f58fbe4057614465b11352f71cdbea/freeport.go.
func getFreePort() (port int, err error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
