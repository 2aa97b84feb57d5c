package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <execution-id>",
		Short: "Show the state of a generation run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, status)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Execution: %s\n", status.ExecutionID)
			fmt.Fprintf(out, "Status:    %s\n", status.Status)
			for _, key := range slices.Sorted(maps.Keys(status.Output)) {
				fmt.Fprintf(out, "  %s: %s\n", key, status.Output[key])
			}
			if status.Error != "" {
				fmt.Fprintf(out, "Error:     %s\n", status.Error)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}
