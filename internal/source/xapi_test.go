package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newXTestServer(t *testing.T, tweetsHandler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/users/by/username/anthropic", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer token123" {
			t.Errorf("missing bearer token, got %q", got)
		}
		fmt.Fprint(w, `{"data":{"id":"1000"}}`)
	})
	mux.HandleFunc("/users/1000/tweets", tweetsHandler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewX_RequiresToken(t *testing.T) {
	if _, err := NewX("  "); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestXFetchPage(t *testing.T) {
	var gotQuery map[string]string
	srv := newXTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"since_id":    r.URL.Query().Get("since_id"),
			"max_results": r.URL.Query().Get("max_results"),
			"exclude":     r.URL.Query().Get("exclude"),
		}
		fmt.Fprint(w, `{"data":[
			{"id":"5","text":"newest","created_at":"2026-08-23T10:00:00Z","author_id":"1000",
			 "public_metrics":{"like_count":3}},
			{"id":"4","text":"older","created_at":"2026-08-23T09:00:00Z","author_id":"1000",
			 "referenced_tweets":[{"type":"replied_to","id":"2"}]}
		]}`)
	})

	x, err := NewX("token123", WithXBaseURL(srv.URL), WithXRateLimit(1000, 1000))
	if err != nil {
		t.Fatalf("new x: %v", err)
	}

	entity := Entity{Source: "x", ID: "anthropic", Exclude: []string{ExcludeReplies, ExcludeRetweets}}
	items, err := x.FetchPage(context.Background(), entity, "3", 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if gotQuery["since_id"] != "3" {
		t.Errorf("since_id = %q, want 3", gotQuery["since_id"])
	}
	if gotQuery["max_results"] != "10" {
		t.Errorf("max_results = %q, want 10", gotQuery["max_results"])
	}
	if gotQuery["exclude"] != "replies,retweets" {
		t.Errorf("exclude = %q", gotQuery["exclude"])
	}

	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ID != "5" || items[0].OrderKey != "5" {
		t.Errorf("unexpected first item: %+v", items[0])
	}
	if items[0].Attrs["text"] != "newest" {
		t.Errorf("text = %v", items[0].Attrs["text"])
	}
	if items[0].Attrs["url"] != "https://x.com/i/web/status/5" {
		t.Errorf("url = %v", items[0].Attrs["url"])
	}
	if items[1].Attrs["is_reply"] != true {
		t.Errorf("is_reply = %v", items[1].Attrs["is_reply"])
	}
	if items[0].Attrs["is_retweet"] != false {
		t.Errorf("is_retweet = %v", items[0].Attrs["is_retweet"])
	}
}

func TestXFetchPage_ClampsPageSize(t *testing.T) {
	var maxResults string
	srv := newXTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		maxResults = r.URL.Query().Get("max_results")
		fmt.Fprint(w, `{"data":[]}`)
	})

	x, _ := NewX("token123", WithXBaseURL(srv.URL), WithXRateLimit(1000, 1000))
	entity := Entity{Source: "x", ID: "anthropic"}

	if _, err := x.FetchPage(context.Background(), entity, "", 1); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if maxResults != "5" {
		t.Errorf("page size 1 should clamp to 5, got %q", maxResults)
	}

	if _, err := x.FetchPage(context.Background(), entity, "", 500); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if maxResults != "100" {
		t.Errorf("page size 500 should clamp to 100, got %q", maxResults)
	}
}

func TestXFetchPage_Unavailable(t *testing.T) {
	srv := newXTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	x, _ := NewX("token123", WithXBaseURL(srv.URL), WithXRateLimit(1000, 1000))
	_, err := x.FetchPage(context.Background(), Entity{Source: "x", ID: "anthropic"}, "", 10)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestXResolveUserID_Cached(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/users/by/username/anthropic", func(w http.ResponseWriter, _ *http.Request) {
		calls++
		fmt.Fprint(w, `{"data":{"id":"1000"}}`)
	})
	mux.HandleFunc("/users/1000/tweets", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	x, _ := NewX("token123", WithXBaseURL(srv.URL), WithXRateLimit(1000, 1000))
	entity := Entity{Source: "x", ID: "anthropic"}
	for n := 0; n < 3; n++ {
		if _, err := x.FetchPage(context.Background(), entity, "", 10); err != nil {
			t.Fatalf("fetch: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("user lookup called %d times, want 1", calls)
	}
}
