package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"worldsmith/internal/logging"
	"worldsmith/internal/logs"
	"worldsmith/internal/services"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		follow bool
		lines  int
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := logging.FilePath(cfg)
			if path == "" {
				return services.Wrap(services.ErrConfiguration, "logs", "resolve",
					"File logging is disabled; set paths.log_dir to enable it", nil)
			}

			out := cmd.OutOrStdout()
			recent, offset, err := logs.Tail(path, lines)
			if err != nil {
				return err
			}
			for _, line := range recent {
				fmt.Fprintln(out, line)
			}
			if !follow {
				return nil
			}
			return logs.Follow(cmd.Context(), path, offset, func(line string) error {
				_, err := fmt.Fprintln(out, line)
				return err
			})
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming appended log lines")
	cmd.Flags().IntVarP(&lines, "lines", "n", 200, "Number of recent lines to print")
	return cmd
}
