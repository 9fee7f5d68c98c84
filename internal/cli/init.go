package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mzaremba/driftwatch/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config directory with an example config",
	RunE:  initAction,
}

func initAction(_ *cobra.Command, _ []string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	configPath := filepath.Join(configDir, config.DefaultConfigFile)
	wrote, err := writeIfNotExists(configPath, []byte(exampleConfig))
	if err != nil {
		return err
	}

	if !wrote {
		fmt.Printf("Config directory %s already initialized.\n", configDir)
		return nil
	}
	fmt.Printf("Initialized %s. Edit config.yaml and set credentials in .env.\n", configDir)
	return nil
}

func writeIfNotExists(path string, data []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

const exampleConfig = `poll_interval: 60s
fetch_limit: 4

storage:
  backend: file          # or sqlite
  path: .driftwatch/state

sources:
  x:
    bearer_token_env: X_BEARER_TOKEN
    rate_per_second: 1
  webpage:
    pages:
      figure-news:
        url: https://www.figure.ai/news
        item_selector: "a.article-list-item"
        title_selector: "h1.article-list-item__heading"
        date_selector: "time.article-list-item__publication-date"
        link_prefix: https://www.figure.ai

entities:
  - source: x
    id: AnthropicAI
    label: Anthropic
    page_size: 10
    exclude: [replies, retweets]
    ignore_fields: [metrics]
  - source: webpage
    id: figure-news
    label: Figure News
  - source: rss
    id: https://hnrss.org/frontpage
    label: HN Frontpage

notify:
  console: true
  # slack_webhook_env: SLACK_WEBHOOK_URL
  timeout: 10s
`
