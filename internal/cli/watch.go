package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mzaremba/driftwatch/internal/config"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll all configured entities until interrupted",
	RunE:  watchAction,
}

func watchAction(cmd *cobra.Command, _ []string) error {
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

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return m.Run(ctx)
}
