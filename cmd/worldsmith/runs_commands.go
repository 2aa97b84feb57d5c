package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"worldsmith/internal/pipeline"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and repair the run store",
	}

	runsCmd.AddCommand(newRunsListCommand(ctx))
	runsCmd.AddCommand(newRunsShowCommand(ctx))
	runsCmd.AddCommand(newRunsRetryCommand(ctx))
	runsCmd.AddCommand(newRunsClearCommand(ctx))
	runsCmd.AddCommand(newRunsResetCommand(ctx))

	return runsCmd
}

// withRunStore opens the run store for one maintenance operation and closes
// it afterwards.
func withRunStore(ctx *commandContext, fn func(*pipeline.Store) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	store, err := pipeline.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List generation runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunStore(ctx, func(store *pipeline.Store) error {
				var statuses []pipeline.Status
				if trimmed := strings.TrimSpace(statusFilter); trimmed != "" {
					status, ok := pipeline.ParseStatus(trimmed)
					if !ok {
						return fmt.Errorf("unknown status %q (valid: %s)", trimmed, statusNames())
					}
					statuses = append(statuses, status)
				}

				runs, err := store.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded.")
					return nil
				}

				rows := make([][]string, 0, len(runs))
				for _, run := range runs {
					rows = append(rows, []string{
						run.ID,
						string(run.Status),
						progressLabel(run),
						run.UpdatedAt.Local().Format("2006-01-02 15:04"),
					})
				}
				fmt.Fprintln(out, renderTable([]string{"Run", "Status", "Progress", "Updated"}, rows))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Only show runs in this status")
	return cmd
}

func newRunsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunStore(ctx, func(store *pipeline.Store) error {
				id := strings.TrimSpace(args[0])
				run, err := store.GetByID(cmd.Context(), id)
				if err != nil {
					return err
				}
				if run == nil {
					return fmt.Errorf("run %s not found", id)
				}

				if asJSON {
					return writeJSON(cmd, runDetail(run))
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Run:     %s\n", run.ID)
				fmt.Fprintf(out, "Theme:   %s\n", run.Theme)
				fmt.Fprintf(out, "Status:  %s\n", run.Status)
				fmt.Fprintf(out, "Prompt:  %s\n", run.Prompt)
				if run.RawPrompt != "" && run.RawPrompt != run.Prompt {
					fmt.Fprintf(out, "Raw:     %s\n", run.RawPrompt)
				}
				fmt.Fprintf(out, "Seed:    %d\n", run.Seed)
				if run.Classes != "" {
					fmt.Fprintf(out, "Classes: %s\n", run.Classes)
				}
				if label := progressLabel(run); label != "" {
					fmt.Fprintf(out, "Progress: %s\n", label)
				}
				if run.PanoramaURI != "" {
					fmt.Fprintf(out, "Panorama: %s\n", run.PanoramaURI)
				}
				if run.WorldID != "" {
					fmt.Fprintf(out, "World:   %s\n", run.WorldID)
				}
				if run.ErrorMessage != "" {
					fmt.Fprintf(out, "Error:   %s\n", run.ErrorMessage)
				}
				fmt.Fprintf(out, "Created: %s\n", run.CreatedAt.Local().Format(time.RFC3339))
				fmt.Fprintf(out, "Updated: %s\n", run.UpdatedAt.Local().Format(time.RFC3339))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newRunsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <run-id>...",
		Short: "Requeue failed runs from the beginning",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunStore(ctx, func(store *pipeline.Store) error {
				count, err := store.RetryFailed(cmd.Context(), args...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d run(s)\n", count)
				if int(count) < len(args) {
					fmt.Fprintln(cmd.OutOrStdout(), "Runs not in the failed state were left untouched.")
				}
				return nil
			})
		},
	}
}

func newRunsClearCommand(ctx *commandContext) *cobra.Command {
	var clearCompleted, clearFailed, clearAll bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete runs from the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			selected := 0
			for _, flag := range []bool{clearCompleted, clearFailed, clearAll} {
				if flag {
					selected++
				}
			}
			if selected != 1 {
				return fmt.Errorf("specify exactly one of --completed, --failed, or --all")
			}

			return withRunStore(ctx, func(store *pipeline.Store) error {
				var count int64
				var err error
				var label string
				switch {
				case clearCompleted:
					count, err = store.ClearCompleted(cmd.Context())
					label = "completed run(s)"
				case clearFailed:
					count, err = store.ClearFailed(cmd.Context())
					label = "failed run(s)"
				default:
					count, err = store.Clear(cmd.Context())
					label = "run(s)"
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d %s\n", count, label)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearCompleted, "completed", false, "Remove completed runs")
	cmd.Flags().BoolVar(&clearFailed, "failed", false, "Remove failed runs")
	cmd.Flags().BoolVar(&clearAll, "all", false, "Remove every run")
	return cmd
}

func newRunsResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Return interrupted runs to pending",
		Long: `Return runs stuck in a processing status to pending so the daemon picks
them up again. Only use this while the daemon is stopped; a running daemon
reclaims its own interrupted work.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunStore(ctx, func(store *pipeline.Store) error {
				count, err := store.ResetStuckProcessing(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Returned %d run(s) to pending\n", count)
				return nil
			})
		},
	}
}

func progressLabel(run *pipeline.Run) string {
	if run.ProgressStage == "" {
		return ""
	}
	label := fmt.Sprintf("%s %d%%", run.ProgressStage, int(run.ProgressPercent))
	if run.ProgressMessage != "" {
		label += " (" + run.ProgressMessage + ")"
	}
	return label
}

func runDetail(run *pipeline.Run) map[string]any {
	detail := map[string]any{
		"id":        run.ID,
		"theme":     run.Theme,
		"status":    string(run.Status),
		"prompt":    run.Prompt,
		"seed":      run.Seed,
		"createdAt": run.CreatedAt,
		"updatedAt": run.UpdatedAt,
	}
	if run.RawPrompt != "" {
		detail["rawPrompt"] = run.RawPrompt
	}
	if run.Classes != "" {
		detail["classes"] = run.Classes
	}
	if run.PanoramaURI != "" {
		detail["panoramaUri"] = run.PanoramaURI
	}
	if run.WorldID != "" {
		detail["worldId"] = run.WorldID
	}
	if run.ErrorMessage != "" {
		detail["error"] = run.ErrorMessage
	}
	return detail
}

func statusNames() string {
	statuses := pipeline.AllStatuses()
	names := make([]string, 0, len(statuses))
	for _, status := range statuses {
		names = append(names, string(status))
	}
	return strings.Join(names, ", ")
}
