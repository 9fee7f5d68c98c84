// Package cli provides the command-line interface for driftwatch.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

var (
	configDir string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "driftwatch",
	Short: "Watch external sources and report what changed",
	Long:  "driftwatch polls X accounts, company web pages, and RSS feeds, diffs each observation against the last one, and reports added, removed, and updated items without duplicates across restarts.",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("driftwatch %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "directory holding config.yaml and .env")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(entitiesCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(initCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
