package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newTablesCmd() *cobra.Command {
	var flags connFlags
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "List tables of a database",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := apiClient(cmd).Tables(context.Background(), flags.Connection())
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(cmd, report)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TABLE\tENGINE\tROWS\tSIZE_MB")
			for _, t := range report.Tables {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%.1f\n", t.Name, t.Engine, t.RowCount, t.TotalMB)
			}
			return tw.Flush()
		},
	}
	flags.AddFlags(cmd)
	return cmd
}
