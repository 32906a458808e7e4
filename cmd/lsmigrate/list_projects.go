package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/langchain-ai/langsmith-data-migration-tool/internal/migrate"
	"github.com/langchain-ai/langsmith-data-migration-tool/internal/ui"
)

var listProjectsDest bool

var listProjectsCmd = &cobra.Command{
	Use:   "list-projects",
	Short: "List tracing projects on the source or destination",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newMigrationContext(false)
		if err != nil {
			return err
		}
		side := "source"
		if listProjectsDest {
			side = "destination"
		}
		projects, err := migrate.ListProjects(rootCtx, c, side)
		if err != nil {
			return err
		}
		fmt.Println(ui.RenderHeader(fmt.Sprintf("%d projects on %s", len(projects), side)))
		for _, p := range projects {
			line := fmt.Sprintf("%-36s  %s", p.ID, p.Name)
			if p.RunCount > 0 {
				line += fmt.Sprintf("  (%d runs)", p.RunCount)
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	listProjectsCmd.Flags().BoolVar(&listProjectsDest, "dest", false, "List destination projects instead of source")
	rootCmd.AddCommand(listProjectsCmd)
}
