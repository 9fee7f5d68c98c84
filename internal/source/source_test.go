package source

import (
	"encoding/json"
	"testing"
)

func TestItemJSONRoundTrip(t *testing.T) {
	it := Item{
		ID:       "42",
		OrderKey: "42",
		Attrs: map[string]any{
			"title": "hello",
			"url":   "https://example.com/42",
		},
	}

	data, err := json.Marshal(it)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// Attributes are flattened next to the reserved fields.
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatalf("unmarshal flat: %v", err)
	}
	if flat["id"] != "42" || flat["ordering_key"] != "42" || flat["title"] != "hello" {
		t.Fatalf("unexpected flat encoding: %v", flat)
	}

	var back Item
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal item: %v", err)
	}
	if back.ID != it.ID || back.OrderKey != it.OrderKey {
		t.Fatalf("round trip lost identity: %+v", back)
	}
	if back.Attrs["title"] != "hello" || back.Attrs["url"] != "https://example.com/42" {
		t.Fatalf("round trip lost attributes: %v", back.Attrs)
	}
}

func TestItemUnmarshalMissingID(t *testing.T) {
	var it Item
	if err := json.Unmarshal([]byte(`{"ordering_key":"1"}`), &it); err == nil {
		t.Fatal("expected error for missing id")
	}
}

func TestAttrsJSONDeterministic(t *testing.T) {
	a := Item{Attrs: map[string]any{"b": "2", "a": "1", "c": "3"}}
	first := string(a.AttrsJSON())
	for n := 0; n < 10; n++ {
		if got := string(a.AttrsJSON()); got != first {
			t.Fatalf("AttrsJSON not deterministic: %q vs %q", got, first)
		}
	}
	if first != `{"a":"1","b":"2","c":"3"}` {
		t.Fatalf("unexpected canonical encoding: %q", first)
	}
}

func TestSortNewestFirst(t *testing.T) {
	items := []Item{
		{ID: "1", OrderKey: "1"},
		{ID: "5", OrderKey: "5"},
		{ID: "3", OrderKey: "3"},
	}
	SortNewestFirst(items)
	if items[0].ID != "5" || items[1].ID != "3" || items[2].ID != "1" {
		t.Fatalf("unexpected order: %v", items)
	}
}

func TestDedup(t *testing.T) {
	items := []Item{
		{ID: "a", Attrs: map[string]any{"title": "first"}},
		{ID: "b"},
		{ID: "a", Attrs: map[string]any{"title": "second"}},
	}
	out := Dedup(items)
	if len(out) != 2 {
		t.Fatalf("expected 2 items, got %d", len(out))
	}
	if out[0].Attrs["title"] != "first" {
		t.Fatalf("dedup should keep the first occurrence, got %v", out[0].Attrs)
	}
}

func TestEntityKeyAndLabel(t *testing.T) {
	e := Entity{Source: "x", ID: "AnthropicAI"}
	if e.Key() != "x:AnthropicAI" {
		t.Errorf("key = %q", e.Key())
	}
	if e.DisplayLabel() != "AnthropicAI" {
		t.Errorf("label fallback = %q", e.DisplayLabel())
	}
	e.Label = "Anthropic"
	if e.DisplayLabel() != "Anthropic" {
		t.Errorf("label = %q", e.DisplayLabel())
	}
}
