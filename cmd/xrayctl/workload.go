package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newWorkloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workload",
		Short: "Manage workload analyses",
	}
	cmd.AddCommand(newWorkloadStartCmd())
	cmd.AddCommand(newWorkloadStatusCmd())
	cmd.AddCommand(newWorkloadCancelCmd())
	return cmd
}

func newWorkloadStartCmd() *cobra.Command {
	var flags connFlags
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a workload analysis",
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := apiClient(cmd).StartWorkload(context.Background(), flags.Connection())
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(cmd, job)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "analysis %s %s\n", job.JobID, job.Status)
			return nil
		},
	}
	flags.AddFlags(cmd)
	return cmd
}

func newWorkloadStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <analysis-id>",
		Short: "Show workload analysis status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := apiClient(cmd).WorkloadStatus(context.Background(), args[0])
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(cmd, job)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "ANALYSIS\t%s\n", job.AnalysisID)
			fmt.Fprintf(tw, "STATUS\t%s\n", job.Status)
			fmt.Fprintf(tw, "DATABASE\t%s\n", job.Database)
			fmt.Fprintf(tw, "PROGRESS\t%.0f%%\n", job.ProgressPercentage)
			fmt.Fprintf(tw, "PHASE\t%s\n", job.CurrentPhase)
			fmt.Fprintf(tw, "COMPLETED\t%s\n", strings.Join(job.PhasesCompleted, ","))
			if err := tw.Flush(); err != nil {
				return err
			}
			for _, r := range job.Recommendations {
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", r.Priority, r.Message, r.Action)
			}
			return nil
		},
	}
	return cmd
}

func newWorkloadCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <analysis-id>",
		Short: "Cancel a running workload analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := apiClient(cmd).CancelWorkload(context.Background(), args[0])
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(cmd, job)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "analysis %s %s\n", job.JobID, job.Status)
			return nil
		},
	}
	return cmd
}
