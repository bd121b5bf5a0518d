package cli

import (
	"github.com/spf13/cobra"
)

func newStatusCmd(envFile *string) *cobra.Command {
	var output string
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recent stage runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			defer rt.Close()

			reports, err := rt.app.Runs.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printReports(cmd.OutOrStdout(), output, reports)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to show")
	addOutputFlag(cmd.Flags(), &output)
	return cmd
}
