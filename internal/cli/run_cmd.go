package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"lakemart/internal/domain"
)

func newRunCmd(envFile *string) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "run [stage]",
		Short: "Run the full pipeline or a single stage",
		Long: "Without arguments, runs every stage in dependency order. " +
			"With a stage name (ingest, conform, scd1, scd2, fact), runs just that stage.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			defer rt.Close()

			var reports []domain.RunReport
			var runErr error
			if len(args) == 1 {
				report, err := rt.app.Pipeline.RunStage(cmd.Context(), args[0])
				if report != nil {
					reports = append(reports, *report)
				}
				runErr = err
			} else {
				reports, runErr = rt.app.Pipeline.RunAll(cmd.Context())
			}

			if err := printReports(cmd.OutOrStdout(), output, reports); err != nil {
				return err
			}
			if runErr != nil {
				return fmt.Errorf("pipeline: %w", runErr)
			}
			return nil
		},
	}
	cmd.ValidArgs = []string{
		domain.StageIngest, domain.StageConform,
		domain.StageSCD1, domain.StageSCD2, domain.StageFact,
	}
	addOutputFlag(cmd.Flags(), &output)
	return cmd
}
