package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mzaremba/driftwatch/internal/config"
	"github.com/mzaremba/driftwatch/internal/source"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <entity-key>",
	Short: "Print the stored item history for one entity",
	Long:  "Prints the durable item history for an entity key such as x:elonmusk or rss:https://example.com/feed.xml, newest first.",
	Args:  cobra.ExactArgs(1),
	RunE:  historyAction,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "print at most this many items (0 = all)")
}

func historyAction(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer func() { _ = st.Close() }()

	rec, err := st.Load(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("load entity: %w", err)
	}
	if rec == nil {
		fmt.Printf("No state recorded for %s.\n", args[0])
		return nil
	}

	fmt.Printf("%s  cursor=%s  %d items\n", rec.EntityID, printable(rec.Cursor), len(rec.Items))
	items := rec.Items
	if historyLimit > 0 && len(items) > historyLimit {
		items = items[:historyLimit]
	}
	for _, it := range items {
		fmt.Printf("  %-24s  %s\n", it.OrderKey, itemSummary(it))
	}
	return nil
}

func printable(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func itemSummary(it source.Item) string {
	if t, ok := it.Attrs["title"].(string); ok && t != "" {
		return t
	}
	if t, ok := it.Attrs["text"].(string); ok && t != "" {
		return t
	}
	return it.ID
}
