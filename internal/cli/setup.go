package cli

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mzaremba/driftwatch/internal/config"
	"github.com/mzaremba/driftwatch/internal/monitor"
	"github.com/mzaremba/driftwatch/internal/notify"
	"github.com/mzaremba/driftwatch/internal/source"
	"github.com/mzaremba/driftwatch/internal/state"
)

func newLogger() (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Encoding = "console"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return zcfg.Build()
}

func openStore(cfg *config.Config) (state.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		return state.OpenSQLite(cfg.Storage.Path)
	default:
		return state.OpenFile(cfg.Storage.Path)
	}
}

func buildSources(cfg *config.Config) (map[string]source.Source, error) {
	sources := make(map[string]source.Source)

	if cfg.Sources.X.BearerToken != "" {
		var opts []source.XOption
		if cfg.Sources.X.RatePerSecond > 0 {
			opts = append(opts, source.WithXRateLimit(cfg.Sources.X.RatePerSecond, 3))
		}
		x, err := source.NewX(cfg.Sources.X.BearerToken, opts...)
		if err != nil {
			return nil, fmt.Errorf("create x source: %w", err)
		}
		sources[x.Name()] = x
	}

	if len(cfg.Sources.Webpage.Pages) > 0 {
		web, err := source.NewWeb(cfg.Sources.Webpage.Pages)
		if err != nil {
			return nil, fmt.Errorf("create webpage source: %w", err)
		}
		sources[web.Name()] = web
	}

	rss := source.NewRSS()
	sources[rss.Name()] = rss

	return sources, nil
}

// buildMonitor wires store, sources, entities, and notification sinks into a
// ready-to-run monitor.
func buildMonitor(cfg *config.Config, st state.Store, log *zap.Logger) (*monitor.Monitor, error) {
	sources, err := buildSources(cfg)
	if err != nil {
		return nil, err
	}

	m := monitor.New(st, sources,
		monitor.WithInterval(cfg.PollInterval.Duration),
		monitor.WithFetchLimit(cfg.FetchLimit),
		monitor.WithLogger(log),
	)

	for _, e := range cfg.Entities {
		if err := m.Add(e); err != nil {
			return nil, fmt.Errorf("register entity: %w", err)
		}
	}

	if cfg.Notify.Console {
		m.Subscribe(notify.Bind(notify.NewConsole(os.Stdout), cfg.Notify.Timeout.Duration, log))
	}
	if cfg.Notify.SlackWebhook != "" {
		slack, err := notify.NewSlack(cfg.Notify.SlackWebhook)
		if err != nil {
			return nil, fmt.Errorf("create slack notifier: %w", err)
		}
		m.Subscribe(notify.Bind(slack, cfg.Notify.Timeout.Duration, log))
	}

	return m, nil
}
