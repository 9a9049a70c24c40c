package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/aescanero/modjob/pkg/domain"
	"github.com/spf13/cobra"
)

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List modules with their status, dependencies and operations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		modules, err := newClientFromConfig().Modules(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTATUS\tDEPENDS ON\tOPERATIONS")
		for _, m := range modules {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Name, m.Status, list(m.Dependencies), list(m.Operations))
		}
		return w.Flush()
	},
}

var setStatusCmd = &cobra.Command{
	Use:   "set-status [module] [status]",
	Short: "Force a module status, for example to recover from ERROR",
	Long: `Force the status of a module. Jobs for a module only run while it is
STARTED, so setting a recovered module back to STARTED releases its queued
jobs.

Example:
  modjobctl modules set-status billing STARTED`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status := domain.ModuleStatus(strings.ToUpper(args[1]))
		if !status.Valid() {
			return fmt.Errorf("invalid module status: %s", args[1])
		}

		if err := newClientFromConfig().SetModuleStatus(cmd.Context(), args[0], status); err != nil {
			return err
		}
		cmd.Printf("Module %s is now %s\n", args[0], status)
		return nil
	},
}

func list(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}

func init() {
	modulesCmd.AddCommand(setStatusCmd)
	rootCmd.AddCommand(modulesCmd)
}
