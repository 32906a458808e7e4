package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/langchain-ai/langsmith-data-migration-tool/internal/ui"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Verify connectivity to both instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newMigrationContext(false)
		if err != nil {
			return err
		}
		sourceErr, destErr := c.TestConnections(rootCtx)

		report := func(side, url string, err error) {
			if err != nil {
				fmt.Printf("%s %s (%s): %v\n", ui.IconFail, side, url, err)
				return
			}
			fmt.Printf("%s %s (%s)\n", ui.IconPass, side, url)
		}
		report("source", cfg.Source.BaseURL, sourceErr)
		report("destination", cfg.Dest.BaseURL, destErr)

		if sourceErr != nil || destErr != nil {
			return fmt.Errorf("connection test failed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(testCmd)
}
