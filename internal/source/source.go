// Package source defines the items, entities, and fetchers driftwatch observes.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"

	jsoniter "github.com/json-iterator/go"
)

// ErrUnavailable marks a source that could not be reached or returned a
// malformed response. The caller keeps its cursor and retries next round.
var ErrUnavailable = errors.New("source unavailable")

var itemJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Item is a single observed record. The ID names it across observations;
// OrderKey positions it in the source's ordering (tweet id, publish time).
// Items are immutable once observed.
type Item struct {
	ID       string
	OrderKey string
	Attrs    map[string]any
}

// Entity is one monitored unit: an account, a page, a feed.
type Entity struct {
	Source          string   `yaml:"source"`
	ID              string   `yaml:"id"`
	Label           string   `yaml:"label"`
	PageSize        int      `yaml:"page_size"`
	Exclude         []string `yaml:"exclude"`          // source-defined filters, e.g. "replies", "retweets"
	ExcludePatterns []string `yaml:"exclude_patterns"` // regexes; matching items are dropped after fetch
	IgnoreFields    []string `yaml:"ignore_fields"`    // volatile attributes excluded from change detection
}

// Key uniquely identifies an entity across sources.
func (e Entity) Key() string {
	return e.Source + ":" + e.ID
}

// DisplayLabel falls back to the external id when no label is configured.
func (e Entity) DisplayLabel() string {
	if e.Label != "" {
		return e.Label
	}
	return e.ID
}

// Source fetches items for a monitored entity.
//
// Incremental sources honor the cursor: FetchPage returns items whose ordering
// key is newer than cursor (best effort; the caller re-filters). Snapshot
// sources ignore the cursor and return the full current item set.
type Source interface {
	// Name returns the source identifier (e.g. "x", "webpage", "rss").
	Name() string

	// Incremental reports whether the source supports cursor-based fetching.
	Incremental() bool

	// FetchPage retrieves up to pageSize items for the entity. An empty
	// cursor means "never observed". Failures wrap ErrUnavailable.
	FetchPage(ctx context.Context, entity Entity, cursor string, pageSize int) ([]Item, error)
}

// MarshalJSON flattens attributes into the item object, alongside the
// reserved "id" and "ordering_key" fields. This is the on-disk record shape.
func (it Item) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(it.Attrs)+2)
	for k, v := range it.Attrs {
		if k == "id" || k == "ordering_key" {
			continue
		}
		flat[k] = v
	}
	flat["id"] = it.ID
	flat["ordering_key"] = it.OrderKey
	return itemJSON.Marshal(flat)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (it *Item) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := itemJSON.Unmarshal(data, &flat); err != nil {
		return err
	}

	id, ok := flat["id"].(string)
	if !ok || id == "" {
		return fmt.Errorf("item: missing id in %s", data)
	}
	orderKey, _ := flat["ordering_key"].(string)
	delete(flat, "id")
	delete(flat, "ordering_key")

	it.ID = id
	it.OrderKey = orderKey
	if len(flat) > 0 {
		it.Attrs = flat
	} else {
		it.Attrs = nil
	}
	return nil
}

// AttrsJSON returns the canonical encoding of the attribute payload, used for
// byte-for-byte change detection. Map keys are emitted in sorted order.
func (it Item) AttrsJSON() []byte {
	if len(it.Attrs) == 0 {
		return nil
	}
	data, err := itemJSON.Marshal(it.Attrs)
	if err != nil {
		return nil
	}
	return data
}

// SortNewestFirst orders items by descending ordering key, breaking ties by id
// so output is reproducible.
func SortNewestFirst(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if c := CompareKeys(items[i].OrderKey, items[j].OrderKey); c != 0 {
			return c > 0
		}
		return items[i].ID > items[j].ID
	})
}

// Dedup drops items whose identity key was already seen, preserving order.
func Dedup(items []Item) []Item {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, it := range items {
		if seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		out = append(out, it)
	}
	return out
}
