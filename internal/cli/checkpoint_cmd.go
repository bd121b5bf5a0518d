package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newCheckpointCmd(envFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect and reset ingestion checkpoints",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <stream>",
		Short: "List consumed files for a stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			defer rt.Close()

			consumed, err := rt.app.Checkpoints.ListConsumed(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			files := make([]string, 0, len(consumed))
			for id := range consumed {
				files = append(files, id)
			}
			sort.Strings(files)
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d files consumed\n", len(files))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset <stream>",
		Short: "Clear the checkpoint for a stream",
		Long: "Clears the consumed-file ledger so the next ingest run re-reads every file. " +
			"Bronze writes stay idempotent, so this does not duplicate rows.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			defer rt.Close()

			deleted, err := rt.app.Checkpoints.Reset(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checkpoint reset for %s: %d entries cleared\n", args[0], deleted)
			return nil
		},
	})

	return cmd
}
