package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"worldsmith/internal/registry"
)

func newWorldsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var showAssets bool

	cmd := &cobra.Command{
		Use:   "worlds",
		Short: "List registered worlds with download URLs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			worlds, err := client.Worlds(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, map[string]any{"worlds": worlds})
			}

			out := cmd.OutOrStdout()
			if len(worlds) == 0 {
				fmt.Fprintln(out, "No worlds registered yet.")
				return nil
			}

			rows := make([][]string, 0, len(worlds))
			for _, world := range worlds {
				rows = append(rows, []string{
					world.ID,
					displayTitle(world.Theme),
					strconv.Itoa(len(world.MeshURLs)),
					world.CreatedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			fmt.Fprintln(out, renderTable([]string{"ID", "World", "Meshes", "Created"}, rows, 2))

			if showAssets {
				for _, world := range worlds {
					printWorldAssets(cmd, world)
				}
			} else {
				fmt.Fprintln(out, "Use --assets to print presigned download URLs.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	cmd.Flags().BoolVar(&showAssets, "assets", false, "Print presigned asset URLs per world")
	return cmd
}

func printWorldAssets(cmd *cobra.Command, world registry.World) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n%s (%s)\n", displayTitle(world.Theme), world.ID)
	if world.ImageURL != "" {
		fmt.Fprintf(out, "  panorama: %s\n", world.ImageURL)
	}
	for i, mesh := range world.MeshURLs {
		fmt.Fprintf(out, "  mesh %d:   %s\n", i+1, mesh)
	}
}

// displayTitle converts a kebab-case theme into a human title.
func displayTitle(theme string) string {
	cleaned := strings.TrimSpace(strings.ReplaceAll(theme, "-", " "))
	if cleaned == "" {
		return "Untitled World"
	}
	return cases.Title(language.Und).String(cleaned)
}
