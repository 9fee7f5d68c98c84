package notify

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/mzaremba/driftwatch/internal/diff"
	"github.com/mzaremba/driftwatch/internal/source"
)

// ConsoleNotifier writes deltas to a writer, one compact block per entity.
type ConsoleNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole creates a console notifier writing to w.
func NewConsole(w io.Writer) *ConsoleNotifier {
	return &ConsoleNotifier{w: w}
}

func (c *ConsoleNotifier) Name() string { return "console" }

func (c *ConsoleNotifier) Notify(_ context.Context, entity source.Entity, delta diff.Delta) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	label := entity.DisplayLabel()
	switch {
	case delta.Initial:
		fmt.Fprintf(c.w, "[%s] initialized with %d items\n", label, len(delta.Added))
		return nil
	case delta.Empty():
		fmt.Fprintf(c.w, "[%s] no changes\n", label)
		return nil
	}

	fmt.Fprintf(c.w, "[%s] %d added, %d removed, %d updated\n",
		label, len(delta.Added), len(delta.Removed), len(delta.Updated))
	c.writeItems("+", delta.Added)
	c.writeItems("-", delta.Removed)
	c.writeItems("~", delta.Updated)
	return nil
}

func (c *ConsoleNotifier) writeItems(marker string, items []source.Item) {
	for _, it := range items {
		line := fmt.Sprintf("  %s %s", marker, itemTitle(it))
		if url := itemURL(it); url != "" {
			line += "  (" + url + ")"
		}
		fmt.Fprintln(c.w, line)
	}
}
