// © 2025 Ikigai Labs. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package feed delivers RSS and Atom feed updates to WhatsApp users.
//
// Users manage their subscriptions in chat:
//
//	/subscribe https://example.com/feed.xml
//	/unsubscribe https://example.com/feed.xml
//	/feeds
//
// The Fetcher periodically fetches every subscribed feed and sends new items
// to subscribers as text messages. Feeds use conditional requests where the
// server supports them. A feed that keeps failing is disabled and its
// subscribers are notified.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"go.ikigai.dev/wabot/internal/api/whatsapp"
	"go.ikigai.dev/wabot/internal/logger"
	"go.ikigai.dev/wabot/internal/store"
	"go.ikigai.dev/wabot/internal/util/syncx"
	"go.ikigai.dev/wabot/internal/version"

	"github.com/mmcdole/gofeed"
)

const (
	// Failing continuously for errorThreshold fetches disables the feed.
	errorThreshold = 12
	// Fetches that can run at the same time.
	concurrencyLimit = 10

	subscriptionsKey = "feed/subscriptions"
	stateKeyPrefix   = "feed/state/"
)

// Sender delivers messages to WhatsApp users. It is implemented by
// [whatsapp.Client].
type Sender interface {
	SendText(ctx context.Context, to, text string, buttons ...whatsapp.Button) (string, error)
}

// Fetcher fetches feeds and delivers updates to their subscribers.
//
// All exported fields must be set before the first call to any method and
// must not be changed afterwards.
type Fetcher struct {
	// Sender delivers feed items to subscribers.
	Sender Sender
	// Store persists subscriptions and per-feed state.
	Store store.Store
	// HTTPClient is an optional HTTP client to use for fetching feeds.
	HTTPClient *http.Client
	// Logf specifies a logger to use. If nil, log.Printf is used.
	Logf logger.Logf

	fp syncx.Lazy[*gofeed.Parser]
}

// feedState tracks fetch bookkeeping for a single feed URL.
type feedState struct {
	Disabled     bool      `json:"disabled"`
	LastUpdated  time.Time `json:"last_updated"`
	LastModified string    `json:"last_modified,omitempty"`
	ETag         string    `json:"etag,omitempty"`
	ErrorCount   int       `json:"error_count,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

func (f *Fetcher) logf(format string, args ...any) {
	logf := f.Logf
	if logf == nil {
		logf = log.Printf
	}
	logf(format, args...)
}

func (f *Fetcher) parser() *gofeed.Parser {
	return f.fp.Get(gofeed.NewParser)
}

func (f *Fetcher) httpc() *http.Client {
	if f.HTTPClient != nil {
		return f.HTTPClient
	}
	return http.DefaultClient
}

// subscriptions maps a feed URL to the WhatsApp IDs subscribed to it.
type subscriptions map[string][]string

func (f *Fetcher) loadSubscriptions(ctx context.Context) (subscriptions, error) {
	data, err := f.Store.Get(ctx, subscriptionsKey)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return make(subscriptions), nil
	}
	var subs subscriptions
	if err := json.Unmarshal(data, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

func (f *Fetcher) saveSubscriptions(ctx context.Context, subs subscriptions) error {
	data, err := json.Marshal(subs)
	if err != nil {
		return err
	}
	return f.Store.Set(ctx, subscriptionsKey, data)
}

func (f *Fetcher) getState(ctx context.Context, url string) (*feedState, error) {
	data, err := f.Store.Get(ctx, stateKeyPrefix+url)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	state := new(feedState)
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}
	return state, nil
}

func (f *Fetcher) saveState(ctx context.Context, url string, state *feedState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return f.Store.Set(ctx, stateKeyPrefix+url, data)
}

// Subscribe adds a feed subscription for a WhatsApp user.
func (f *Fetcher) Subscribe(ctx context.Context, waID, feedURL string) error {
	u, err := url.Parse(feedURL)
	if err != nil || u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("feed: %q doesn't look like a feed URL", feedURL)
	}

	subs, err := f.loadSubscriptions(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(subs[feedURL], waID) {
		return fmt.Errorf("feed: already subscribed to %s", feedURL)
	}
	subs[feedURL] = append(subs[feedURL], waID)
	if err := f.saveSubscriptions(ctx, subs); err != nil {
		return err
	}

	// Start from now so a new subscription doesn't flood the user with every
	// item the feed ever published.
	state, err := f.getState(ctx, feedURL)
	if err != nil {
		return err
	}
	if state == nil {
		state = &feedState{LastUpdated: time.Now()}
		return f.saveState(ctx, feedURL, state)
	}
	if state.Disabled {
		// Someone resubscribed to a broken feed. Give it another chance.
		state.Disabled = false
		state.ErrorCount = 0
		state.LastError = ""
		return f.saveState(ctx, feedURL, state)
	}
	return nil
}

// Unsubscribe removes a feed subscription for a WhatsApp user.
func (f *Fetcher) Unsubscribe(ctx context.Context, waID, feedURL string) error {
	subs, err := f.loadSubscriptions(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(subs[feedURL], waID) {
		return fmt.Errorf("feed: not subscribed to %s", feedURL)
	}
	subs[feedURL] = slices.DeleteFunc(subs[feedURL], func(id string) bool { return id == waID })
	if len(subs[feedURL]) == 0 {
		delete(subs, feedURL)
	}
	return f.saveSubscriptions(ctx, subs)
}

// List returns the feed URLs a WhatsApp user is subscribed to, sorted.
func (f *Fetcher) List(ctx context.Context, waID string) ([]string, error) {
	subs, err := f.loadSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	var urls []string
	for feedURL, ids := range subs {
		if slices.Contains(ids, waID) {
			urls = append(urls, feedURL)
		}
	}
	slices.Sort(urls)
	return urls, nil
}

// Run fetches every subscribed feed once and delivers new items to
// subscribers. It is meant to be called periodically.
func (f *Fetcher) Run(ctx context.Context) error {
	subs, err := f.loadSubscriptions(ctx)
	if err != nil {
		return err
	}

	lwg := syncx.NewLimitedWaitGroup(concurrencyLimit)
	for feedURL, ids := range subs {
		lwg.Add(1)
		go func() {
			defer lwg.Done()
			f.fetch(ctx, feedURL, ids)
		}()
	}
	lwg.Wait()
	return nil
}

// fetch fetches a single feed and sends new items to its subscribers. Each
// fetch runs in its own goroutine.
func (f *Fetcher) fetch(ctx context.Context, feedURL string, subscribers []string) {
	state, err := f.getState(ctx, feedURL)
	if err != nil {
		f.logf("feed: reading state of %s: %v", feedURL, err)
		return
	}
	if state == nil {
		state = &feedState{LastUpdated: time.Now()}
	}
	if state.Disabled {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		f.fail(ctx, feedURL, state, subscribers, err)
		return
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if state.ETag != "" {
		req.Header.Set("If-None-Match", state.ETag)
	}
	if state.LastModified != "" {
		req.Header.Set("If-Modified-Since", state.LastModified)
	}

	res, err := f.httpc().Do(req)
	if err != nil {
		f.fail(ctx, feedURL, state, subscribers, err)
		return
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotModified {
		state.LastUpdated = time.Now()
		state.ErrorCount = 0
		state.LastError = ""
		f.put(ctx, feedURL, state)
		return
	}
	if res.StatusCode != http.StatusOK {
		f.fail(ctx, feedURL, state, subscribers, fmt.Errorf("want 200, got %d", res.StatusCode))
		return
	}

	parsed, err := f.parser().Parse(res.Body)
	if err != nil {
		f.fail(ctx, feedURL, state, subscribers, err)
		return
	}

	state.ETag = res.Header.Get("ETag")
	if lastModified := res.Header.Get("Last-Modified"); lastModified != "" {
		state.LastModified = lastModified
	}

	for _, item := range parsed.Items {
		if item.PublishedParsed == nil || item.PublishedParsed.Before(state.LastUpdated) {
			continue
		}
		f.deliver(ctx, item, subscribers)
	}

	state.LastUpdated = time.Now()
	state.ErrorCount = 0
	state.LastError = ""
	f.put(ctx, feedURL, state)
}

func (f *Fetcher) put(ctx context.Context, feedURL string, state *feedState) {
	if err := f.saveState(ctx, feedURL, state); err != nil {
		f.logf("feed: saving state of %s: %v", feedURL, err)
	}
}

func (f *Fetcher) deliver(ctx context.Context, item *gofeed.Item, subscribers []string) {
	title := item.Title
	if title == "" {
		title = item.Link
	}
	text := title + "\n" + item.Link

	for _, waID := range subscribers {
		if _, err := f.Sender.SendText(ctx, waID, text); err != nil {
			f.logf("feed: sending %s to %s: %v", item.Link, waID, err)
		}
	}
}

// fail records a fetch failure. Once a feed crosses the error threshold it is
// disabled and its subscribers are told.
func (f *Fetcher) fail(ctx context.Context, feedURL string, state *feedState, subscribers []string, err error) {
	state.ErrorCount++
	state.LastError = err.Error()
	f.logf("feed: fetching %s failed (%d of %d): %v", feedURL, state.ErrorCount, errorThreshold, err)

	if state.ErrorCount >= errorThreshold {
		state.Disabled = true
		text := fmt.Sprintf("Feed %s failed %d times in a row and was disabled. Subscribe to it again to reenable it.", feedURL, state.ErrorCount)
		for _, waID := range subscribers {
			if _, err := f.Sender.SendText(ctx, waID, text); err != nil {
				f.logf("feed: notifying %s: %v", waID, err)
			}
		}
	}
	f.put(ctx, feedURL, state)
}

// HandleCommand handles feed management commands sent in chat and reports
// whether text was one of them.
func (f *Fetcher) HandleCommand(ctx context.Context, from, text string) (handled bool, err error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false, nil
	}

	reply := func(format string, args ...any) error {
		_, err := f.Sender.SendText(ctx, from, fmt.Sprintf(format, args...))
		return err
	}

	switch fields[0] {
	case "/subscribe":
		if len(fields) != 2 {
			return true, reply("Usage: /subscribe <feed URL>")
		}
		if err := f.Subscribe(ctx, from, fields[1]); err != nil {
			return true, reply("%v", err)
		}
		return true, reply("Subscribed to %s.", fields[1])
	case "/unsubscribe":
		if len(fields) != 2 {
			return true, reply("Usage: /unsubscribe <feed URL>")
		}
		if err := f.Unsubscribe(ctx, from, fields[1]); err != nil {
			return true, reply("%v", err)
		}
		return true, reply("Unsubscribed from %s.", fields[1])
	case "/feeds":
		urls, err := f.List(ctx, from)
		if err != nil {
			return true, err
		}
		if len(urls) == 0 {
			return true, reply("You have no feed subscriptions.")
		}
		return true, reply("Your feeds:\n%s", strings.Join(urls, "\n"))
	}
	return false, nil
}
