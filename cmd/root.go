// Package cmd defines the CLI commands for the arachne executable.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "arachne",
		Short: "Concurrent web crawler with optional headless rendering",
		Long: `arachne crawls a site from a seed URL, deduplicates pages through an
interned visited store, and streams completed page records as they arrive.
Pages can be fetched plainly or rendered in headless Chrome with wait
conditions and scripted automation.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.AddCommand(newCrawlCmd())
	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
