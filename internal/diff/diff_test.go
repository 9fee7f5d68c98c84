package diff

import (
	"testing"

	"github.com/mzaremba/driftwatch/internal/source"
)

func page(id, title string) source.Item {
	return source.Item{ID: id, Attrs: map[string]any{"title": title}}
}

func ids(items []source.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func sameIDs(got []source.Item, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i].ID != want[i] {
			return false
		}
	}
	return true
}

func TestSnapshots(t *testing.T) {
	prev := []source.Item{page("a", "A"), page("b", "B"), page("c", "C")}
	curr := []source.Item{page("b", "B"), page("c", "C2"), page("d", "D")}

	d := Snapshots(prev, curr, nil)
	if d.Initial {
		t.Error("delta against an existing snapshot must not be initial")
	}
	if !sameIDs(d.Added, "d") {
		t.Errorf("added = %v, want [d]", ids(d.Added))
	}
	if !sameIDs(d.Removed, "a") {
		t.Errorf("removed = %v, want [a]", ids(d.Removed))
	}
	if !sameIDs(d.Updated, "c") {
		t.Errorf("updated = %v, want [c]", ids(d.Updated))
	}
	if d.Updated[0].Attrs["title"] != "C2" {
		t.Errorf("updated should carry the new version, got %v", d.Updated[0].Attrs)
	}
}

func TestSnapshots_Initial(t *testing.T) {
	curr := []source.Item{page("b", "B"), page("a", "A")}
	d := Snapshots(nil, curr, nil)
	if !d.Initial {
		t.Error("nil previous snapshot must mark initial")
	}
	if !sameIDs(d.Added, "a", "b") {
		t.Errorf("added = %v, want sorted [a b]", ids(d.Added))
	}
	if len(d.Removed) != 0 || len(d.Updated) != 0 {
		t.Errorf("initial delta should only add: %+v", d)
	}
}

func TestSnapshots_EmptyPrevIsNotInitial(t *testing.T) {
	d := Snapshots([]source.Item{}, []source.Item{page("a", "A")}, nil)
	if d.Initial {
		t.Error("empty (non-nil) previous snapshot is an observed empty state")
	}
	if !sameIDs(d.Added, "a") {
		t.Errorf("added = %v", ids(d.Added))
	}
}

func TestSnapshots_NoChanges(t *testing.T) {
	items := []source.Item{page("a", "A"), page("b", "B")}
	d := Snapshots(items, items, nil)
	if !d.Empty() {
		t.Fatalf("identical snapshots should produce empty delta: %+v", d)
	}
}

func TestSnapshots_Deterministic(t *testing.T) {
	prev := []source.Item{page("a", "A")}
	curr := []source.Item{page("z", "Z"), page("m", "M"), page("b", "B")}
	d := Snapshots(prev, curr, nil)
	if !sameIDs(d.Added, "b", "m", "z") {
		t.Errorf("added not sorted by id: %v", ids(d.Added))
	}
}

func TestByteEqual(t *testing.T) {
	a := source.Item{Attrs: map[string]any{"x": "1", "y": "2"}}
	b := source.Item{Attrs: map[string]any{"y": "2", "x": "1"}}
	if !ByteEqual(a, b) {
		t.Error("key order must not affect equality")
	}
	c := source.Item{Attrs: map[string]any{"x": "1", "y": "3"}}
	if ByteEqual(a, c) {
		t.Error("changed value should not be equal")
	}
}

func TestIgnoringFields(t *testing.T) {
	eq := IgnoringFields([]string{"metrics"})
	a := source.Item{Attrs: map[string]any{"text": "hi", "metrics": map[string]any{"likes": 1}}}
	b := source.Item{Attrs: map[string]any{"text": "hi", "metrics": map[string]any{"likes": 999}}}
	if !eq(a, b) {
		t.Error("ignored field changes should compare equal")
	}
	c := source.Item{Attrs: map[string]any{"text": "edited", "metrics": map[string]any{"likes": 1}}}
	if eq(a, c) {
		t.Error("non-ignored changes must still differ")
	}
}

func TestSnapshots_IgnoringFieldsSuppressesUpdate(t *testing.T) {
	prev := []source.Item{{ID: "1", Attrs: map[string]any{"text": "hi", "metrics": "5"}}}
	curr := []source.Item{{ID: "1", Attrs: map[string]any{"text": "hi", "metrics": "9"}}}
	d := Snapshots(prev, curr, IgnoringFields([]string{"metrics"}))
	if !d.Empty() {
		t.Fatalf("metric-only change should be suppressed: %+v", d)
	}
}

func TestFetched(t *testing.T) {
	d := Fetched([]source.Item{page("5", "E"), page("4", "D")}, false)
	if !sameIDs(d.Added, "4", "5") {
		t.Errorf("added = %v", ids(d.Added))
	}
	if len(d.Removed) != 0 || len(d.Updated) != 0 {
		t.Error("cursor fetches never produce removed or updated")
	}
	if d.Initial {
		t.Error("not initial")
	}

	init := Fetched(nil, true)
	if !init.Initial || !init.Empty() {
		t.Errorf("empty initial fetch: %+v", init)
	}
}
