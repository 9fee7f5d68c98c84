package notify

import (
	"context"
	"strings"
	"testing"

	"github.com/mzaremba/driftwatch/internal/diff"
	"github.com/mzaremba/driftwatch/internal/source"
)

func TestConsoleNotify(t *testing.T) {
	var sb strings.Builder
	n := NewConsole(&sb)
	entity := source.Entity{Source: "webpage", ID: "news", Label: "News"}

	if err := n.Notify(context.Background(), entity, sampleDelta()); err != nil {
		t.Fatalf("notify: %v", err)
	}

	out := sb.String()
	for _, want := range []string{
		"[News] 1 added, 1 removed, 1 updated",
		"+ a new tweet  (https://x.com/i/web/status/5)",
		"- Old article",
		"~ Changed article",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConsoleNotify_InitialAndEmpty(t *testing.T) {
	var sb strings.Builder
	n := NewConsole(&sb)
	entity := source.Entity{Source: "rss", ID: "https://example.com/feed.xml", Label: "Feed"}

	initial := diff.Delta{Added: []source.Item{{ID: "1"}, {ID: "2"}}, Initial: true}
	if err := n.Notify(context.Background(), entity, initial); err != nil {
		t.Fatalf("notify initial: %v", err)
	}
	if err := n.Notify(context.Background(), entity, diff.Delta{}); err != nil {
		t.Fatalf("notify empty: %v", err)
	}

	out := sb.String()
	if !strings.Contains(out, "[Feed] initialized with 2 items") {
		t.Errorf("missing init line:\n%s", out)
	}
	if !strings.Contains(out, "[Feed] no changes") {
		t.Errorf("missing no-changes line:\n%s", out)
	}
}
