// Package config loads and validates the driftwatch configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mzaremba/driftwatch/internal/source"
)

const (
	DefaultConfigFile   = "config.yaml"
	DefaultEnvFile      = ".env"
	DefaultFilePath     = ".driftwatch/state"
	DefaultSQLitePath   = ".driftwatch/driftwatch.db"
	DefaultPollInterval = time.Minute
	DefaultNotifyWait   = 10 * time.Second
	DefaultFetchLimit   = 4
)

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "90s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	PollInterval Duration        `yaml:"poll_interval"`
	FetchLimit   int             `yaml:"fetch_limit"`
	Storage      StorageConfig   `yaml:"storage"`
	Sources      SourcesConfig   `yaml:"sources"`
	Entities     []source.Entity `yaml:"entities"`
	Notify       NotifyConfig    `yaml:"notify"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type SourcesConfig struct {
	X       XConfig       `yaml:"x"`
	Webpage WebpageConfig `yaml:"webpage"`
}

type XConfig struct {
	BearerTokenEnv string  `yaml:"bearer_token_env"`
	RatePerSecond  float64 `yaml:"rate_per_second"`

	// Resolved from the env var at load time.
	BearerToken string `yaml:"-"`
}

type WebpageConfig struct {
	Pages map[string]source.PageSpec `yaml:"pages"`
}

type NotifyConfig struct {
	SlackWebhookEnv string   `yaml:"slack_webhook_env"`
	Timeout         Duration `yaml:"timeout"`
	Console         bool     `yaml:"console"`

	// Resolved from the env var at load time.
	SlackWebhook string `yaml:"-"`
}

// Load reads config.yaml from dir, loads .env if present, applies defaults,
// resolves env vars, and validates. Any failure here is fatal at startup.
func Load(dir string) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config dir is required")
	}

	// .env is optional; real env vars win over file values.
	_ = godotenv.Load(filepath.Join(dir, DefaultEnvFile))

	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	resolveEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.PollInterval.Duration == 0 {
		cfg.PollInterval.Duration = DefaultPollInterval
	}
	if cfg.FetchLimit == 0 {
		cfg.FetchLimit = DefaultFetchLimit
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendFile
	}
	if cfg.Storage.Path == "" {
		if cfg.Storage.Backend == BackendSQLite {
			cfg.Storage.Path = DefaultSQLitePath
		} else {
			cfg.Storage.Path = DefaultFilePath
		}
	}
	if cfg.Notify.Timeout.Duration == 0 {
		cfg.Notify.Timeout.Duration = DefaultNotifyWait
	}
}

func resolveEnv(cfg *Config) {
	if cfg.Sources.X.BearerTokenEnv != "" {
		cfg.Sources.X.BearerToken = os.Getenv(cfg.Sources.X.BearerTokenEnv)
	}
	if cfg.Notify.SlackWebhookEnv != "" {
		cfg.Notify.SlackWebhook = os.Getenv(cfg.Notify.SlackWebhookEnv)
	}
}

func validate(cfg *Config) error {
	if cfg.PollInterval.Duration <= 0 {
		return errors.New("poll_interval: must be positive")
	}
	if cfg.FetchLimit < 0 {
		return errors.New("fetch_limit: must not be negative")
	}

	switch cfg.Storage.Backend {
	case BackendFile, BackendSQLite:
		// valid
	default:
		return fmt.Errorf("storage.backend: unknown backend %q (want file or sqlite)", cfg.Storage.Backend)
	}

	if len(cfg.Entities) == 0 {
		return errors.New("entities: at least one entity must be configured")
	}

	seen := make(map[string]bool, len(cfg.Entities))
	for i, e := range cfg.Entities {
		if e.ID == "" {
			return fmt.Errorf("entities[%d]: id is required", i)
		}
		if seen[e.Key()] {
			return fmt.Errorf("entities[%d]: duplicate entity %s", i, e.Key())
		}
		seen[e.Key()] = true

		switch e.Source {
		case "x":
			if cfg.Sources.X.BearerTokenEnv == "" {
				return fmt.Errorf("entities[%d]: source x requires sources.x.bearer_token_env", i)
			}
			if cfg.Sources.X.BearerToken == "" {
				return fmt.Errorf("entities[%d]: env %s is not set (X bearer token)", i, cfg.Sources.X.BearerTokenEnv)
			}
		case "webpage":
			if _, ok := cfg.Sources.Webpage.Pages[e.ID]; !ok {
				return fmt.Errorf("entities[%d]: no sources.webpage.pages entry for %q", i, e.ID)
			}
		case "rss":
			// feed URL is the entity id; nothing else to configure
		default:
			return fmt.Errorf("entities[%d]: unknown source %q (want x, webpage, or rss)", i, e.Source)
		}
	}

	if cfg.Notify.SlackWebhookEnv != "" && cfg.Notify.SlackWebhook == "" {
		return fmt.Errorf("notify: env %s is not set (Slack webhook)", cfg.Notify.SlackWebhookEnv)
	}

	return nil
}
