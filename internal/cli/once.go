package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mzaremba/driftwatch/internal/config"
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single round over all entities, then exit",
	Long:  "Runs one fetch/diff/commit/notify round, suitable for cron. Entity failures are reported but do not fail the run; the next invocation retries them from the unchanged cursor.",
	RunE:  onceAction,
}

func onceAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := newLogger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer func() { _ = st.Close() }()

	m, err := buildMonitor(cfg, st, log)
	if err != nil {
		return err
	}

	results := m.RunOnce(cmd.Context())

	failed := 0
	changed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Printf("warning: %s: %v\n", r.Entity.Key(), r.Err)
			continue
		}
		if !r.Delta.Empty() && !r.Delta.Initial {
			changed++
		}
	}

	fmt.Printf("Checked %d entities: %d changed", len(results), changed)
	if failed > 0 {
		fmt.Printf(" (%d failed, retried next run)", failed)
	}
	fmt.Println()
	return nil
}
