// Package cli implements the pagelore command line interface.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/pagelore/pagelore/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	verbose    bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "pagelore",
	Short: "Ingest web pages and ask questions about them",
	Long: `Pagelore turns extracted web pages into a queryable knowledge base.
Pages are chunked, embedded and stored locally; questions are answered
from the ingested content with citations back to the source text.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ~/.pagelore/config.toml)")
}

// Execute runs the root command.
func Execute() error {
	defer closeApp()
	return rootCmd.Execute()
}
