// Package diff computes the change set between two observations of an entity.
package diff

import (
	"bytes"
	"sort"

	"github.com/mzaremba/driftwatch/internal/source"
)

// Delta is the result of comparing a previous snapshot against a new one.
// Added, Removed, and Updated are disjoint by identity key and sorted by
// identity key so output is reproducible.
type Delta struct {
	Added   []source.Item // present only in the new snapshot
	Removed []source.Item // present only in the previous snapshot
	Updated []source.Item // present in both with changed attributes (new version)

	// Initial marks the first observation of an entity: everything is
	// "added", and callers typically persist without notifying.
	Initial bool
}

// Empty reports whether the delta carries no changes.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Updated) == 0
}

// Equal reports whether two attribute payloads should be considered the same.
type Equal func(prev, curr source.Item) bool

// ByteEqual is the default equality: byte-for-byte comparison of the
// canonical attribute JSON.
func ByteEqual(prev, curr source.Item) bool {
	return bytes.Equal(prev.AttrsJSON(), curr.AttrsJSON())
}

// IgnoringFields builds an equality that disregards the named attributes,
// e.g. volatile engagement counters.
func IgnoringFields(fields []string) Equal {
	if len(fields) == 0 {
		return ByteEqual
	}
	ignored := make(map[string]bool, len(fields))
	for _, f := range fields {
		ignored[f] = true
	}
	return func(prev, curr source.Item) bool {
		return bytes.Equal(stripped(prev, ignored), stripped(curr, ignored))
	}
}

func stripped(it source.Item, ignored map[string]bool) []byte {
	if len(it.Attrs) == 0 {
		return nil
	}
	kept := make(map[string]any, len(it.Attrs))
	for k, v := range it.Attrs {
		if ignored[k] {
			continue
		}
		kept[k] = v
	}
	return source.Item{Attrs: kept}.AttrsJSON()
}

// Snapshots compares two full snapshots. A nil previous snapshot marks
// initialization: every current item is added and nothing is removed.
// The eq function defaults to ByteEqual when nil.
func Snapshots(prev, curr []source.Item, eq Equal) Delta {
	if eq == nil {
		eq = ByteEqual
	}

	if prev == nil {
		d := Delta{Added: sortedByID(curr), Initial: true}
		return d
	}

	prevByID := make(map[string]source.Item, len(prev))
	for _, it := range prev {
		prevByID[it.ID] = it
	}

	var d Delta
	currIDs := make(map[string]bool, len(curr))
	for _, it := range curr {
		currIDs[it.ID] = true
		old, ok := prevByID[it.ID]
		if !ok {
			d.Added = append(d.Added, it)
			continue
		}
		if !eq(old, it) {
			d.Updated = append(d.Updated, it)
		}
	}
	for _, it := range prev {
		if !currIDs[it.ID] {
			d.Removed = append(d.Removed, it)
		}
	}

	d.Added = sortedByID(d.Added)
	d.Removed = sortedByID(d.Removed)
	d.Updated = sortedByID(d.Updated)
	return d
}

// Fetched degenerates a cursor-source fetch into a delta. Deletions are not
// observable once a cursor advances past them, so Removed is always empty and
// Updated is never computed; this is inherent to cursor-based observation.
func Fetched(items []source.Item, initial bool) Delta {
	return Delta{Added: sortedByID(items), Initial: initial}
}

func sortedByID(items []source.Item) []source.Item {
	if len(items) == 0 {
		return nil
	}
	out := make([]source.Item, len(items))
	copy(out, items)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
