package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"worldsmith/internal/workflow"
)

func newDefinitionCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "definition",
		Short: "Print the workflow state machine as a JSON document",
		Long: `Print the state machine the daemon drives runs through, with worker
classes, timeouts, and retry policy resolved from the configuration. The
document is informational; the embedded engine executes the same chain.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			doc, err := workflow.DefaultDefinition(cfg).Document()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(doc))
			return nil
		},
	}
}
