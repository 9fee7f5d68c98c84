// Package notify delivers per-entity deltas to notification sinks.
package notify

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mzaremba/driftwatch/internal/diff"
	"github.com/mzaremba/driftwatch/internal/monitor"
	"github.com/mzaremba/driftwatch/internal/source"
)

// DefaultTimeout bounds a single notification delivery so a slow sink cannot
// stall the scheduler.
const DefaultTimeout = 10 * time.Second

// Notifier delivers one entity's delta somewhere a human will see it.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, entity source.Entity, delta diff.Delta) error
}

// Bind adapts a notifier into a monitor callback. Each delivery runs under
// its own timeout; failures are logged and never propagated.
func Bind(n Notifier, timeout time.Duration, log *zap.Logger) monitor.Callback {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return func(entity source.Entity, delta diff.Delta) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := n.Notify(ctx, entity, delta); err != nil {
			log.Warn("notification failed",
				zap.String("notifier", n.Name()),
				zap.String("entity", entity.Key()),
				zap.Error(err))
		}
	}
}

// itemTitle picks a human-readable label for an item: title, then text
// (truncated), then the identity key.
func itemTitle(it source.Item) string {
	if t, ok := it.Attrs["title"].(string); ok && t != "" {
		return t
	}
	if t, ok := it.Attrs["text"].(string); ok && t != "" {
		return firstNRunes(strings.ReplaceAll(t, "\n", " "), 120)
	}
	return it.ID
}

func itemURL(it source.Item) string {
	if u, ok := it.Attrs["url"].(string); ok {
		return u
	}
	return ""
}

func firstNRunes(s string, n int) string {
	if n <= 0 || s == "" {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
