package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/langchain-ai/langsmith-data-migration-tool/internal/session"
	"github.com/langchain-ai/langsmith-data-migration-tool/internal/ui"
)

var cleanAll bool

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List saved migration sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := session.NewStore(flagStateDir)
		if err != nil {
			return err
		}
		summaries, err := store.List()
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Println(ui.RenderMuted("no saved sessions"))
			return nil
		}
		for _, sum := range summaries {
			started := time.Unix(int64(sum.StartedAt), 0).Format("2006-01-02 15:04:05")
			line := fmt.Sprintf("%s  %s  %s -> %s", sum.SessionID, started, sum.SourceURL, sum.DestinationURL)
			if sum.Statistics != nil && sum.Statistics.Total > 0 {
				line += fmt.Sprintf("  (%d items, %.0f%% complete, %d failed)",
					sum.Statistics.Total, sum.Statistics.CompletionPercent, sum.Statistics.Failed)
			}
			fmt.Println(line)
		}
		return nil
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean [session-id...]",
	Short: "Delete saved sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := session.NewStore(flagStateDir)
		if err != nil {
			return err
		}
		if cleanAll {
			n, err := store.DeleteAll()
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d sessions\n", n)
			return nil
		}
		if len(args) == 0 {
			return fmt.Errorf("pass session IDs or --all")
		}
		for _, id := range args {
			if err := store.Delete(id); err != nil {
				return err
			}
		}
		fmt.Printf("deleted %d sessions\n", len(args))
		return nil
	},
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanAll, "all", false, "Delete every saved session")
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(cleanCmd)
}
