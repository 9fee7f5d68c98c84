package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Example Feed</title>
  <item>
    <title>Second post</title>
    <link>https://example.com/2</link>
    <guid>post-2</guid>
    <pubDate>Sun, 23 Aug 2026 10:00:00 GMT</pubDate>
  </item>
  <item>
    <title>First post</title>
    <link>https://example.com/1</link>
    <guid>post-1</guid>
    <pubDate>Sat, 22 Aug 2026 10:00:00 GMT</pubDate>
  </item>
  <item>
    <title>No identity, skipped</title>
  </item>
</channel>
</rss>`

func TestRSSFetchPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != rssUserAgent {
			t.Errorf("user agent = %q", got)
		}
		fmt.Fprint(w, sampleFeed)
	}))
	t.Cleanup(srv.Close)

	rs := NewRSS()
	items, err := rs.FetchPage(context.Background(), Entity{Source: "rss", ID: srv.URL}, "", 0)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	first := items[0]
	if first.ID != "post-2" {
		t.Errorf("id = %q", first.ID)
	}
	if first.OrderKey != "2026-08-23T10:00:00Z" {
		t.Errorf("order key = %q", first.OrderKey)
	}
	if first.Attrs["title"] != "Second post" || first.Attrs["url"] != "https://example.com/2" {
		t.Errorf("attrs = %v", first.Attrs)
	}
	if first.Attrs["published"] != "2026-08-23T10:00:00Z" {
		t.Errorf("published = %v", first.Attrs["published"])
	}
}

func TestRSSFetchPage_RetriesThenSucceeds(t *testing.T) {
	origSleep := rssSleepFunc
	var slept []time.Duration
	rssSleepFunc = func(d time.Duration) { slept = append(slept, d) }
	t.Cleanup(func() { rssSleepFunc = origSleep })

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, sampleFeed)
	}))
	t.Cleanup(srv.Close)

	rs := NewRSS()
	items, err := rs.FetchPage(context.Background(), Entity{Source: "rss", ID: srv.URL}, "", 0)
	if err != nil {
		t.Fatalf("fetch after retries: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if len(slept) != 2 || slept[0] != time.Second || slept[1] != 2*time.Second {
		t.Errorf("unexpected backoff schedule: %v", slept)
	}
}

func TestRSSFetchPage_Unavailable(t *testing.T) {
	origSleep := rssSleepFunc
	rssSleepFunc = func(time.Duration) {}
	t.Cleanup(func() { rssSleepFunc = origSleep })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	rs := NewRSS()
	_, err := rs.FetchPage(context.Background(), Entity{Source: "rss", ID: srv.URL}, "", 0)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
