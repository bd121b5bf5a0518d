// Package cli implements the lakemart command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var version = "dev"

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:           "lakemart",
		Short:         "Incremental medallion warehouse ETL",
		Long:          "Checkpointed ingestion, SCD dimension merges and fact builds over a DuckDB warehouse.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to .env file")

	rootCmd.AddCommand(
		newServeCmd(&envFile),
		newRunCmd(&envFile),
		newStatusCmd(&envFile),
		newCheckpointCmd(&envFile),
		newQuarantineCmd(&envFile),
		newMigrateCmd(&envFile),
	)
	return rootCmd
}

// addOutputFlag registers the shared --output flag on a command flag set.
func addOutputFlag(fs *pflag.FlagSet, output *string) {
	fs.StringVarP(output, "output", "o", "table", "Output format (table, json)")
}
