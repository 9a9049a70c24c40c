package cmd

import (
	"encoding/json"
	"fmt"

	apihttp "github.com/aescanero/modjob/pkg/api/http"
	"github.com/aescanero/modjob/pkg/domain"
	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit [module] [operation]",
	Short: "Submit a job and wait for its result",
	Long: `Submit a job to module.operation. The server waits a short time for the
result; jobs that take longer are reported as QUEUED with their id, which
can be looked up later with 'modjobctl job <id>'.

Example:
  modjobctl submit utils ping
  modjobctl submit utils sleep --payload '{"ms": 250}' --priority 1`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		rawPayload, _ := flags.GetString("payload")
		correlationID, _ := flags.GetString("correlation-id")

		req := apihttp.JobSubmitRequest{
			Module:        args[0],
			Operation:     args[1],
			CorrelationID: correlationID,
		}
		if rawPayload != "" {
			var payload domain.Payload
			if err := json.Unmarshal([]byte(rawPayload), &payload); err != nil {
				return fmt.Errorf("invalid --payload: %w", err)
			}
			req.Payload = payload
		}
		if flags.Changed("priority") {
			priority, _ := flags.GetInt("priority")
			req.Priority = &priority
		}

		result, err := newClientFromConfig().Submit(cmd.Context(), req)
		if err != nil {
			return err
		}

		if result.Status == string(domain.JobStatusQueued) {
			cmd.Printf("Job queued\n  Job ID: %s\n", result.JobID)
			return nil
		}

		cmd.Printf("Job completed in %dms\n  Job ID: %s\n", result.DurationMs, result.JobID)
		if result.Result != nil {
			out, err := json.MarshalIndent(result.Result, "  ", "  ")
			if err != nil {
				return fmt.Errorf("failed to format result: %w", err)
			}
			cmd.Printf("  Result: %s\n", out)
		}
		return nil
	},
}

func init() {
	submitCmd.Flags().String("payload", "", "job payload as a JSON object")
	submitCmd.Flags().Int("priority", 0, "job priority, lower runs first (server default when unset)")
	submitCmd.Flags().String("correlation-id", "", "client correlation id echoed in the result")

	rootCmd.AddCommand(submitCmd)
}
