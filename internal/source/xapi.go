package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	xSourceName   = "x"
	xAPIBase      = "https://api.x.com/2"
	xFetchTimeout = 30 * time.Second

	// Documented bounds for the user-tweets endpoint.
	xMinPageSize = 5
	xMaxPageSize = 100

	xTweetFields = "id,text,created_at,author_id,public_metrics,referenced_tweets"
)

// Named exclusion filters understood by the X source.
const (
	ExcludeReplies  = "replies"
	ExcludeRetweets = "retweets"
)

// XSource fetches user tweets from the X API v2. It is incremental: the
// cursor is the newest tweet id already observed, passed as since_id.
type XSource struct {
	bearerToken string
	baseURL     string
	client      *http.Client
	limiter     *rate.Limiter

	mu      sync.Mutex
	userIDs map[string]string // username -> user id
}

// XOption configures an XSource.
type XOption func(*XSource)

// WithXBaseURL overrides the API endpoint, used in tests.
func WithXBaseURL(base string) XOption {
	return func(x *XSource) {
		if base != "" {
			x.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithXRateLimit caps outgoing API calls per second.
func WithXRateLimit(perSecond float64, burst int) XOption {
	return func(x *XSource) {
		if perSecond > 0 && burst > 0 {
			x.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// NewX creates an X API source. The bearer token is required.
func NewX(bearerToken string, opts ...XOption) (*XSource, error) {
	if strings.TrimSpace(bearerToken) == "" {
		return nil, errors.New("x: bearer token is required")
	}
	x := &XSource{
		bearerToken: bearerToken,
		baseURL:     xAPIBase,
		client:      &http.Client{Timeout: xFetchTimeout},
		limiter:     rate.NewLimiter(rate.Limit(1), 3),
		userIDs:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x, nil
}

func (x *XSource) Name() string { return xSourceName }

func (x *XSource) Incremental() bool { return true }

// FetchPage returns the entity's tweets, newest first as the API delivers
// them. With a cursor, only tweets with id greater than since_id come back.
func (x *XSource) FetchPage(ctx context.Context, entity Entity, cursor string, pageSize int) ([]Item, error) {
	userID, err := x.resolveUserID(ctx, entity.ID)
	if err != nil {
		return nil, err
	}

	if pageSize < xMinPageSize {
		pageSize = xMinPageSize
	}
	if pageSize > xMaxPageSize {
		pageSize = xMaxPageSize
	}

	params := url.Values{}
	params.Set("max_results", fmt.Sprint(pageSize))
	params.Set("tweet.fields", xTweetFields)
	if cursor != "" {
		params.Set("since_id", cursor)
	}
	if ex := excludeParam(entity.Exclude); ex != "" {
		params.Set("exclude", ex)
	}

	var resp xTweetsResponse
	endpoint := fmt.Sprintf("%s/users/%s/tweets?%s", x.baseURL, userID, params.Encode())
	if err := x.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("x: fetch tweets for @%s: %w", entity.ID, err)
	}

	items := make([]Item, 0, len(resp.Data))
	for _, tw := range resp.Data {
		items = append(items, tw.item())
	}
	return items, nil
}

func (x *XSource) resolveUserID(ctx context.Context, username string) (string, error) {
	x.mu.Lock()
	if id, ok := x.userIDs[username]; ok {
		x.mu.Unlock()
		return id, nil
	}
	x.mu.Unlock()

	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	endpoint := fmt.Sprintf("%s/users/by/username/%s", x.baseURL, url.PathEscape(username))
	if err := x.getJSON(ctx, endpoint, &resp); err != nil {
		return "", fmt.Errorf("x: resolve user @%s: %w", username, err)
	}
	if resp.Data.ID == "" {
		return "", fmt.Errorf("x: resolve user @%s: no id in response: %w", username, ErrUnavailable)
	}

	x.mu.Lock()
	x.userIDs[username] = resp.Data.ID
	x.mu.Unlock()
	return resp.Data.ID, nil
}

func (x *XSource) getJSON(ctx context.Context, endpoint string, out any) error {
	if err := x.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+x.bearerToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := x.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}

type xTweetsResponse struct {
	Data []xTweet `json:"data"`
}

type xTweet struct {
	ID               string         `json:"id"`
	Text             string         `json:"text"`
	CreatedAt        string         `json:"created_at"`
	AuthorID         string         `json:"author_id"`
	PublicMetrics    map[string]any `json:"public_metrics"`
	ReferencedTweets []struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"referenced_tweets"`
}

func (tw xTweet) item() Item {
	attrs := map[string]any{
		"text":       tw.Text,
		"created_at": tw.CreatedAt,
		"author_id":  tw.AuthorID,
		"url":        "https://x.com/i/web/status/" + tw.ID,
		"is_reply":   tw.references("replied_to"),
		"is_retweet": tw.references("retweeted"),
	}
	if len(tw.PublicMetrics) > 0 {
		attrs["metrics"] = tw.PublicMetrics
	}
	return Item{ID: tw.ID, OrderKey: tw.ID, Attrs: attrs}
}

func (tw xTweet) references(kind string) bool {
	for _, ref := range tw.ReferencedTweets {
		if ref.Type == kind {
			return true
		}
	}
	return false
}

func excludeParam(exclude []string) string {
	var parts []string
	for _, e := range exclude {
		switch e {
		case ExcludeReplies, ExcludeRetweets:
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, ",")
}
