package main

import (
	"github.com/spf13/cobra"

	"github.com/langchain-ai/langsmith-data-migration-tool/internal/migrate"
)

var queuesCmd = &cobra.Command{
	Use:   "queues",
	Short: "Migrate annotation queues (without their queued runs)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newMigrationContext(true)
		if err != nil {
			return err
		}
		_, err = migrate.NewQueueMigrator(c).MigrateAll(rootCtx)
		printSummary(c)
		return err
	},
}

func init() {
	rootCmd.AddCommand(queuesCmd)
}
