package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mzaremba/driftwatch/internal/config"
)

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "List previously monitored entities and their cursors",
	RunE:  entitiesAction,
}

func entitiesAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer func() { _ = st.Close() }()

	metas, err := st.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("list entities: %w", err)
	}

	if len(metas) == 0 {
		fmt.Println("No entities observed yet.")
		return nil
	}

	for _, m := range metas {
		cursor := m.Cursor
		if cursor == "" {
			cursor = "-"
		}
		fmt.Printf("%-40s  cursor=%-22s  %4d items  last checked %s\n",
			m.EntityID, cursor, m.ItemCount, humanize.Time(m.LastUpdated))
	}
	return nil
}
