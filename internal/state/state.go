// Package state persists per-entity observation state: the resume cursor,
// the last observed snapshot, and the merged item history.
package state

import (
	"context"
	"time"

	"github.com/mzaremba/driftwatch/internal/source"
)

// Record is the durable state of one monitored entity. Items hold the full
// observed history, newest first; Snapshot lists the identity keys seen in
// the most recent observation (full-snapshot sources only).
type Record struct {
	EntityID    string        `json:"entity_id"`
	Cursor      string        `json:"cursor,omitempty"`
	LastUpdated time.Time     `json:"last_updated"`
	Snapshot    []string      `json:"snapshot,omitempty"`
	Items       []source.Item `json:"items"`
}

// SnapshotItems returns the items belonging to the last observed snapshot.
// For cursor sources (no snapshot recorded) it returns nil.
func (r *Record) SnapshotItems() []source.Item {
	if r == nil || r.Snapshot == nil {
		return nil
	}
	inSnapshot := make(map[string]bool, len(r.Snapshot))
	for _, id := range r.Snapshot {
		inSnapshot[id] = true
	}
	items := make([]source.Item, 0, len(r.Snapshot))
	for _, it := range r.Items {
		if inSnapshot[it.ID] {
			items = append(items, it)
		}
	}
	return items
}

// Update is one atomic state transition: the new items are merged into the
// history, the cursor advances, and the snapshot key set is replaced, all as
// a single logical write. A torn commit (cursor advanced without items, or
// the reverse) must be impossible.
type Update struct {
	EntityID string
	Cursor   string        // empty for snapshot sources
	Items    []source.Item // newly observed items
	Snapshot []string      // identity keys of the full observed snapshot; nil for cursor sources
}

// Meta is the index entry for one entity, enough to list previously
// monitored entities at startup without loading full histories.
type Meta struct {
	EntityID    string    `json:"-"`
	Cursor      string    `json:"cursor,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
	ItemCount   int       `json:"items"`
}

// Store is the durable state backend. Commit is idempotent (committing the
// same items twice leaves the same history) and must be safe for concurrent
// use across different entities; callers serialize per entity.
type Store interface {
	// Load returns the entity's record, or nil if it was never observed.
	Load(ctx context.Context, entityID string) (*Record, error)

	// Commit applies one atomic state transition.
	Commit(ctx context.Context, up Update) error

	// List enumerates known entities with their cursor and last-updated
	// metadata, sorted by entity id.
	List(ctx context.Context) ([]Meta, error)

	// Delete removes all state for an entity. Unregistering is an explicit
	// operator action, never implicit.
	Delete(ctx context.Context, entityID string) error

	Close() error
}

// merge combines existing history with newly observed items, deduplicating by
// identity key (new observations win) and re-sorting newest first. Merging
// the same items twice yields the same history.
func merge(existing, incoming []source.Item) []source.Item {
	byID := make(map[string]int, len(existing)+len(incoming))
	merged := make([]source.Item, 0, len(existing)+len(incoming))
	for _, it := range existing {
		byID[it.ID] = len(merged)
		merged = append(merged, it)
	}
	for _, it := range incoming {
		if i, ok := byID[it.ID]; ok {
			merged[i] = it
			continue
		}
		byID[it.ID] = len(merged)
		merged = append(merged, it)
	}
	source.SortNewestFirst(merged)
	return merged
}

// nextCursor keeps cursor advancement monotonic: an empty or older incoming
// cursor never regresses the stored one.
func nextCursor(stored, incoming string) string {
	if incoming == "" {
		return stored
	}
	return source.MaxKey(stored, incoming)
}
