package source

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
)

const (
	rssSourceName   = "rss"
	rssFetchTimeout = 30 * time.Second
	rssUserAgent    = "Mozilla/5.0 (compatible; driftwatch/1.0)"
	rssMaxRetries   = 3
)

// rssSleepFunc is the function used for retry backoff delays.
// It defaults to time.Sleep but can be overridden in tests.
var rssSleepFunc = time.Sleep

// RSSSource fetches RSS/Atom feeds as full snapshots. The entity id is the
// feed URL.
type RSSSource struct {
	parser *gofeed.Parser
}

// NewRSS creates an RSS/Atom source.
func NewRSS() *RSSSource {
	fp := gofeed.NewParser()
	fp.Client = &http.Client{
		Timeout:   rssFetchTimeout,
		Transport: &rssTransport{base: http.DefaultTransport},
	}
	return &RSSSource{parser: fp}
}

func (rs *RSSSource) Name() string { return rssSourceName }

func (rs *RSSSource) Incremental() bool { return false }

func (rs *RSSSource) FetchPage(ctx context.Context, entity Entity, _ string, _ int) ([]Item, error) {
	feed, err := rs.fetchWithRetry(ctx, entity.ID)
	if err != nil {
		return nil, fmt.Errorf("rss: fetch %s: %w: %v", entity.ID, ErrUnavailable, err)
	}

	items := make([]Item, 0, len(feed.Items))
	for _, fi := range feed.Items {
		id := fi.GUID
		if id == "" {
			id = fi.Link
		}
		if id == "" {
			continue
		}

		attrs := map[string]any{
			"title": fi.Title,
			"url":   fi.Link,
		}
		orderKey := ""
		if ts := feedItemTime(fi); !ts.IsZero() {
			orderKey = ts.UTC().Format(time.RFC3339)
			attrs["published"] = orderKey
		}

		items = append(items, Item{ID: id, OrderKey: orderKey, Attrs: attrs})
	}
	return Dedup(items), nil
}

func (rs *RSSSource) fetchWithRetry(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	var lastErr error
	for attempt := 0; attempt < rssMaxRetries; attempt++ {
		feed, err := rs.parser.ParseURLWithContext(feedURL, ctx)
		if err == nil {
			return feed, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < rssMaxRetries-1 {
			backoff := time.Duration(1<<uint(attempt)) * time.Second // 1s, 2s, 4s
			rssSleepFunc(backoff)
		}
	}
	return nil, lastErr
}

func feedItemTime(fi *gofeed.Item) time.Time {
	if fi.PublishedParsed != nil {
		return *fi.PublishedParsed
	}
	if fi.UpdatedParsed != nil {
		return *fi.UpdatedParsed
	}
	return time.Time{}
}

// rssTransport injects a User-Agent header into every request.
type rssTransport struct {
	base http.RoundTripper
}

func (t *rssTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", rssUserAgent)
	return t.base.RoundTrip(req)
}
