package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Manage database scans",
	}
	cmd.AddCommand(newScanStartCmd())
	cmd.AddCommand(newScanStatusCmd())
	cmd.AddCommand(newScanResultsCmd())
	cmd.AddCommand(newScanCancelCmd())
	cmd.AddCommand(newScanResumeCmd())
	return cmd
}

func newScanStartCmd() *cobra.Command {
	var flags connFlags
	var scanType string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := apiClient(cmd).StartScan(context.Background(), flags.Connection(), scanType)
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(cmd, job)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scan %s %s\n", job.JobID, job.Status)
			return nil
		},
	}
	flags.AddFlags(cmd)
	cmd.Flags().StringVar(&scanType, "type", "intelligence", "scan type (full|intelligence|workload)")
	return cmd
}

func newScanStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <scan-id>",
		Short: "Show scan status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := apiClient(cmd).ScanStatus(context.Background(), args[0])
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(cmd, job)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "SCAN\t%s\n", job.ScanID)
			fmt.Fprintf(tw, "STATUS\t%s\n", job.Status)
			fmt.Fprintf(tw, "DATABASE\t%s\n", job.Database)
			fmt.Fprintf(tw, "PROGRESS\t%.2f%% (%d/%d)\n", job.ProgressPercentage, job.ProcessedTables, job.TotalTables)
			if job.CurrentTable != "" {
				fmt.Fprintf(tw, "CURRENT\t%s\n", job.CurrentTable)
			}
			fmt.Fprintf(tw, "ISSUES\t%d\n", job.Stats.IssuesFound)
			fmt.Fprintf(tw, "ERRORS\t%d\n", len(job.Errors))
			return tw.Flush()
		},
	}
	return cmd
}

func newScanResultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results <scan-id>",
		Short: "Show per-table scan results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := apiClient(cmd).ScanResults(context.Background(), args[0])
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(cmd, res)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TABLE\tSIZE_MB\tROWS\tINDEXES\tISSUES")
			for _, t := range res.Tables {
				fmt.Fprintf(tw, "%s\t%.1f\t%d\t%d\t%d\n", t.TableName, t.SizeMB, t.RowCount, len(t.Indexes), len(t.Issues))
			}
			return tw.Flush()
		},
	}
	return cmd
}

func newScanCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <scan-id>",
		Short: "Cancel a running scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := apiClient(cmd).CancelScan(context.Background(), args[0])
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(cmd, job)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scan %s %s\n", job.JobID, job.Status)
			return nil
		},
	}
	return cmd
}

func newScanResumeCmd() *cobra.Command {
	var flags connFlags
	cmd := &cobra.Command{
		Use:   "resume <scan-id>",
		Short: "Resume an interrupted scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := apiClient(cmd).ResumeScan(context.Background(), args[0], flags.Connection())
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(cmd, job)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scan %s %s\n", job.JobID, job.Status)
			return nil
		},
	}
	flags.AddFlags(cmd)
	return cmd
}
