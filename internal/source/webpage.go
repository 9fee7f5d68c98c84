package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	webSourceName   = "webpage"
	webFetchTimeout = 20 * time.Second
	webUserAgent    = "Mozilla/5.0 (compatible; driftwatch/1.0)"
)

// PageSpec describes how to extract an item list from one HTML page.
// Selectors are standard CSS selectors evaluated against the document.
type PageSpec struct {
	URL           string `yaml:"url"`
	ItemSelector  string `yaml:"item_selector"`            // repeated element, one per item
	IDAttr        string `yaml:"id_attr,omitempty"`        // attribute carrying the identity key (default "href")
	TitleSelector string `yaml:"title_selector,omitempty"` // relative to the item element
	DateSelector  string `yaml:"date_selector,omitempty"`  // element with a datetime attribute or text date
	LinkPrefix    string `yaml:"link_prefix,omitempty"`    // prepended to relative hrefs
}

// WebSource scrapes configured pages into item snapshots. It is not
// incremental: every fetch returns the full current item set, and deletions
// surface through the diff.
type WebSource struct {
	pages  map[string]PageSpec // keyed by entity id
	client *http.Client
}

// NewWeb creates a webpage source from the configured page specs.
func NewWeb(pages map[string]PageSpec) (*WebSource, error) {
	if len(pages) == 0 {
		return nil, errors.New("webpage: at least one page spec is required")
	}
	for id, spec := range pages {
		if strings.TrimSpace(spec.URL) == "" {
			return nil, fmt.Errorf("webpage: page %q: url is required", id)
		}
		if strings.TrimSpace(spec.ItemSelector) == "" {
			return nil, fmt.Errorf("webpage: page %q: item_selector is required", id)
		}
	}
	return &WebSource{
		pages:  pages,
		client: &http.Client{Timeout: webFetchTimeout},
	}, nil
}

func (ws *WebSource) Name() string { return webSourceName }

func (ws *WebSource) Incremental() bool { return false }

func (ws *WebSource) FetchPage(ctx context.Context, entity Entity, _ string, _ int) ([]Item, error) {
	spec, ok := ws.pages[entity.ID]
	if !ok {
		return nil, fmt.Errorf("webpage: no page spec for entity %q", entity.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("webpage: build request: %w", err)
	}
	req.Header.Set("User-Agent", webUserAgent)

	resp, err := ws.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webpage: fetch %s: %w: %v", spec.URL, ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webpage: fetch %s: %w: status %d", spec.URL, ErrUnavailable, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("webpage: parse %s: %w: %v", spec.URL, ErrUnavailable, err)
	}

	return Dedup(extractItems(doc, spec)), nil
}

func extractItems(doc *goquery.Document, spec PageSpec) []Item {
	idAttr := spec.IDAttr
	if idAttr == "" {
		idAttr = "href"
	}

	var items []Item
	doc.Find(spec.ItemSelector).Each(func(_ int, sel *goquery.Selection) {
		id, ok := sel.Attr(idAttr)
		if !ok || strings.TrimSpace(id) == "" {
			return
		}
		id = strings.TrimSpace(id)

		attrs := map[string]any{}
		title := itemTitle(sel, spec.TitleSelector)
		if title != "" {
			attrs["title"] = title
		}
		date := itemDate(sel, spec.DateSelector)
		if date != "" {
			attrs["date"] = date
		}
		attrs["url"] = absoluteURL(id, spec.LinkPrefix)

		items = append(items, Item{
			ID:       id,
			OrderKey: date,
			Attrs:    attrs,
		})
	})
	return items
}

func itemTitle(sel *goquery.Selection, titleSelector string) string {
	if titleSelector == "" {
		return strings.TrimSpace(sel.Text())
	}
	return strings.TrimSpace(sel.Find(titleSelector).First().Text())
}

// itemDate prefers a machine-readable datetime attribute, falling back to the
// element text. Result is normalized to YYYY-MM-DD when parseable.
func itemDate(sel *goquery.Selection, dateSelector string) string {
	if dateSelector == "" {
		return ""
	}
	el := sel.Find(dateSelector).First()
	if el.Length() == 0 {
		return ""
	}

	raw, _ := el.Attr("datetime")
	raw = strings.TrimSpace(raw)
	if raw != "" {
		if ts, err := time.Parse(time.RFC3339, strings.Replace(raw, ".000Z", "Z", 1)); err == nil {
			return ts.Format("2006-01-02")
		}
	}

	text := strings.TrimSpace(el.Text())
	if ts, err := time.Parse("January 2, 2006", text); err == nil {
		return ts.Format("2006-01-02")
	}
	return text
}

func absoluteURL(href, prefix string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return strings.TrimRight(prefix, "/") + href
}
