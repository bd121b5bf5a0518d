package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"lakemart/internal/domain"
)

// printReports renders run reports as a table or JSON.
func printReports(w io.Writer, output string, reports []domain.RunReport) error {
	if output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tSTATUS\tREAD\tINGESTED\tNEW\tUPDATED\tUNCHANGED\tQUARANTINED\tFAILED FILES\tSTARTED")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.Stage, r.Status,
			r.RowsRead, r.RowsIngested,
			r.MergedNew, r.MergedUpdated, r.Unchanged,
			r.Quarantined, r.FailedFiles,
			r.StartedAt.Format(time.RFC3339),
		)
	}
	return tw.Flush()
}
