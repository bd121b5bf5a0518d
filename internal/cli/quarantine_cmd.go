package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newQuarantineCmd(envFile *string) *cobra.Command {
	var output string
	var limit int

	cmd := &cobra.Command{
		Use:   "quarantine",
		Short: "List quarantined rows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			defer rt.Close()

			rows, err := rt.app.Quarantine.List(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if output == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tENTITY\tKEY\tRULE\tCREATED")
			for _, q := range rows {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					q.ID, q.Entity, q.NaturalKey, q.Rule, q.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows to show")
	addOutputFlag(cmd.Flags(), &output)
	return cmd
}
