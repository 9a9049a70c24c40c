package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/aescanero/modjob/pkg/domain"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List queued jobs in dispatch order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := newClientFromConfig().Queue(cmd.Context())
		if err != nil {
			return err
		}
		printJobs(cmd, records)
		return nil
	},
}

var activeCmd = &cobra.Command{
	Use:   "active",
	Short: "List running jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := newClientFromConfig().Active(cmd.Context())
		if err != nil {
			return err
		}
		printJobs(cmd, records)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-operation job statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := newClientFromConfig().Stats(cmd.Context())
		if err != nil {
			return err
		}
		if len(stats) == 0 {
			cmd.Println("No jobs recorded")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PATH\tCONSTRUCTED\tSUCCESSFUL\tFAILED\tAVERAGE")
		for _, s := range stats {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", s.Path, s.Constructed, s.Successful, s.Failed, formatDuration(s.AverageTime))
		}
		return w.Flush()
	},
}

var jobCmd = &cobra.Command{
	Use:   "job [job_id]",
	Short: "Show a queued, running or completed job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		record, err := newClientFromConfig().Job(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		cmd.Printf("ID:         %s\n", record.ID)
		cmd.Printf("Path:       %s\n", record.Path())
		cmd.Printf("Status:     %s\n", record.Status)
		cmd.Printf("Priority:   %d\n", record.Priority)
		if record.ParentID != "" {
			cmd.Printf("Parent:     %s\n", record.ParentID)
		}
		cmd.Printf("Created:    %s\n", formatTime(&record.CreatedAt))
		cmd.Printf("Started:    %s\n", formatTime(record.StartedAt))
		cmd.Printf("Completed:  %s\n", formatTime(record.CompletedAt))

		if res := record.Result; res != nil {
			cmd.Printf("Result:     %s (%s)\n", res.Status, formatDuration(res.Duration))
			if res.Message != "" {
				cmd.Printf("Message:    %s\n", res.Message)
			}
			if res.Data != nil {
				out, err := json.MarshalIndent(res.Data, "            ", "  ")
				if err != nil {
					return fmt.Errorf("failed to format result: %w", err)
				}
				cmd.Printf("Data:       %s\n", out)
			}
		}
		return nil
	},
}

func printJobs(cmd *cobra.Command, records []*domain.JobRecord) {
	if len(records) == 0 {
		cmd.Println("No jobs")
		return
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPATH\tPRIORITY\tSTATUS\tCREATED")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", r.ID, r.Path(), r.Priority, r.Status, r.CreatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}

func init() {
	rootCmd.AddCommand(queueCmd, activeCmd, statsCmd, jobCmd)
}
