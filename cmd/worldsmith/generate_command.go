package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"worldsmith/internal/api"
	"worldsmith/internal/apiclient"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var seed int64
	var classes string
	var wait bool
	var waitTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Submit a prompt to the daemon for world generation",
		Long: `Submit a prompt to the worldsmith daemon. The daemon derives a theme,
expands the prompt when a text model is configured, and drives the run
through panorama generation, layer decomposition, world composition, and
registration.

Examples:
  worldsmith generate "a misty harbor at dawn"
  worldsmith generate --seed 7 "floating islands above a storm"
  worldsmith generate --wait "a kelp forest"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.TrimSpace(strings.Join(args, " "))
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}

			ack, err := client.Generate(cmd.Context(), api.GenerateRequest{
				Prompt:  prompt,
				Seed:    seed,
				Classes: classes,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Accepted %s\n", ack.ExecutionID)
			fmt.Fprintf(out, "  Theme:  %s\n", ack.Theme)
			if ack.PromptExpanded != "" && ack.PromptExpanded != prompt {
				fmt.Fprintf(out, "  Prompt: %s\n", ack.PromptExpanded)
			}

			if !wait {
				fmt.Fprintf(out, "Follow progress with `worldsmith status %s`.\n", ack.ExecutionID)
				return nil
			}
			return followExecution(cmd, client, ack.ExecutionID, waitTimeout)
		},
	}

	cmd.Flags().Int64Var(&seed, "seed", 0, "Generation seed (0 uses the configured default)")
	cmd.Flags().StringVar(&classes, "classes", "", "Scene classes hint for layer decomposition (e.g. outdoor)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Block until the run finishes")
	cmd.Flags().DurationVar(&waitTimeout, "timeout", 2*time.Hour, "Maximum time to block with --wait")

	return cmd
}

// followExecution polls the daemon until the execution reaches a terminal
// state, echoing each transition once.
func followExecution(cmd *cobra.Command, client *apiclient.Client, id string, timeout time.Duration) error {
	out := cmd.OutOrStdout()
	pollCtx := cmd.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(pollCtx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	lastStatus := ""
	for {
		status, err := client.Status(pollCtx, id)
		if err != nil {
			if errors.Is(pollCtx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("timed out after %s waiting for execution %s", timeout, id)
			}
			return err
		}
		if status.Status != lastStatus {
			fmt.Fprintf(out, "  status: %s\n", status.Status)
			lastStatus = status.Status
		}

		switch status.Status {
		case "succeeded":
			if worldID := status.Output["worldId"]; worldID != "" {
				fmt.Fprintf(out, "World registered: %s\n", worldID)
			}
			fmt.Fprintln(out, "Generation complete")
			return nil
		case "failed":
			return fmt.Errorf("generation failed: %s", status.Error)
		}

		select {
		case <-pollCtx.Done():
			if errors.Is(pollCtx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("timed out after %s waiting for execution %s", timeout, id)
			}
			return pollCtx.Err()
		case <-ticker.C:
		}
	}
}
