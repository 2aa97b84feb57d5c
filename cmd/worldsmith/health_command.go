package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"worldsmith/internal/deps"
	"worldsmith/internal/services"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show daemon, dependency, and storage health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(out, line)
			}
			client, err := ctx.apiClient()
			if err != nil {
				fmt.Fprintln(out, renderStatusLine("API", statusError, services.Details(err).Message, colorize))
			} else if health, err := client.Health(cmd.Context()); err != nil {
				fmt.Fprintln(out, renderStatusLine("API", statusError, services.Details(err).Message, colorize))
			} else {
				fmt.Fprintln(out, renderStatusLine("API", statusOK, cfg.Paths.APIBind, colorize))
				if len(health.Runs) > 0 {
					rows := make([][]string, 0, 5)
					for _, key := range []string{"pending", "processing", "failed", "completed", "total"} {
						rows = append(rows, []string{key, strconv.Itoa(health.Runs[key])})
					}
					fmt.Fprintln(out, renderTable([]string{"Runs", "Count"}, rows, 1))
				}
			}
			fmt.Fprintln(out)

			for _, line := range renderSectionHeader("Dependencies", colorize) {
				fmt.Fprintln(out, line)
			}
			printDependencyStatus(cmd, deps.CheckEngine(cfg.Engine.Binary), colorize)
			for _, status := range deps.CheckBinaries(deps.GPURequirements()) {
				printDependencyStatus(cmd, status, colorize)
			}
			fmt.Fprintln(out)

			for _, line := range renderSectionHeader("Storage", colorize) {
				fmt.Fprintln(out, line)
			}
			if cfg.Storage.Endpoint == "" {
				fmt.Fprintln(out, renderStatusLine("Endpoint", statusError, "not configured; set storage.endpoint", colorize))
			} else {
				fmt.Fprintln(out, renderStatusLine("Endpoint", statusOK,
					fmt.Sprintf("%s (ssl: %s)", cfg.Storage.Endpoint, yesNo(cfg.Storage.UseSSL)), colorize))
				fmt.Fprintln(out, renderStatusLine("Bucket", statusInfo,
					fmt.Sprintf("%s/%s", cfg.Storage.Bucket, cfg.Storage.RootPrefix), colorize))
			}
			fmt.Fprintln(out)

			for _, line := range renderSectionHeader("Paths", colorize) {
				fmt.Fprintln(out, line)
			}
			printPathStatus(cmd, "Work dir", cfg.Paths.WorkDir, colorize)
			printPathStatus(cmd, "Log dir", cfg.Paths.LogDir, colorize)
			printPathStatus(cmd, "Data dir", cfg.Paths.DataDir, colorize)

			return nil
		},
	}
}

func printDependencyStatus(cmd *cobra.Command, status deps.Status, colorize bool) {
	out := cmd.OutOrStdout()
	kind := statusOK
	detail := status.Command
	if !status.Available {
		detail = status.Detail
		if status.Optional {
			kind = statusWarn
		} else {
			kind = statusError
		}
	}
	fmt.Fprintln(out, renderStatusLine(status.Name, kind, detail, colorize))
}

func printPathStatus(cmd *cobra.Command, label, path string, colorize bool) {
	out := cmd.OutOrStdout()
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(out, renderStatusLine(label, statusWarn, path+" (missing; created on daemon start)", colorize))
		return
	}
	fmt.Fprintln(out, renderStatusLine(label, statusOK, path, colorize))
}
