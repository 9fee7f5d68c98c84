// Package fetch wraps a source with cursor bookkeeping: it retrieves only
// items newer than the last observed cursor and derives the next cursor.
package fetch

import (
	"context"
	"fmt"

	"github.com/mzaremba/driftwatch/internal/filter"
	"github.com/mzaremba/driftwatch/internal/source"
)

const (
	// DefaultPageSize applies when an entity does not set one.
	DefaultPageSize = 10

	minPageSize = 5
	maxPageSize = 100
)

// Result is the outcome of one fetch: the new items, newest first, and the
// cursor to persist once they are committed. The caller must not advance the
// stored cursor until commit succeeds.
type Result struct {
	Items  []source.Item
	Cursor string
}

// Initial fetches the most recent page for a never-observed entity. The
// returned cursor is the newest item's ordering key, or empty when the
// source is not incremental or returned nothing.
func Initial(ctx context.Context, src source.Source, entity source.Entity) (Result, error) {
	return Since(ctx, src, entity, "")
}

// Since fetches items strictly newer than cursor. Items whose ordering key is
// not greater than the cursor are discarded rather than trusted, so the
// cursor only ever advances. An empty cursor means "never observed".
func Since(ctx context.Context, src source.Source, entity source.Entity, cursor string) (Result, error) {
	patterns, err := filter.Compile(entity.ExcludePatterns)
	if err != nil {
		return Result{}, fmt.Errorf("entity %s: %w", entity.Key(), err)
	}

	items, err := src.FetchPage(ctx, entity, cursor, clampPageSize(entity.PageSize))
	if err != nil {
		return Result{}, err
	}

	items = filter.Drop(source.Dedup(items), patterns)

	if !src.Incremental() {
		source.SortNewestFirst(items)
		return Result{Items: items}, nil
	}

	return incrementalResult(items, cursor), nil
}

func incrementalResult(items []source.Item, cursor string) Result {
	kept := items[:0]
	next := cursor
	for _, it := range items {
		// Clock skew or a pagination bug can echo items at or below the
		// cursor; dropping them keeps cursor advancement monotonic.
		if cursor != "" && source.CompareKeys(it.OrderKey, cursor) <= 0 {
			continue
		}
		kept = append(kept, it)
		next = source.MaxKey(next, it.OrderKey)
	}
	source.SortNewestFirst(kept)
	return Result{Items: kept, Cursor: next}
}

func clampPageSize(n int) int {
	if n <= 0 {
		n = DefaultPageSize
	}
	if n < minPageSize {
		return minPageSize
	}
	if n > maxPageSize {
		return maxPageSize
	}
	return n
}
