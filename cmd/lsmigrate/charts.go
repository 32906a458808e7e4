package main

import (
	"github.com/spf13/cobra"

	"github.com/langchain-ai/langsmith-data-migration-tool/internal/migrate"
)

var chartsCmd = &cobra.Command{
	Use:   "charts",
	Short: "Migrate custom dashboard charts and their sections",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newMigrationContext(true)
		if err != nil {
			return err
		}
		_, err = migrate.NewChartMigrator(c).MigrateAll(rootCtx)
		printSummary(c)
		return err
	},
}

func init() {
	rootCmd.AddCommand(chartsCmd)
}
