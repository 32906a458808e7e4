package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/langchain-ai/langsmith-data-migration-tool/internal/migrate"
)

var (
	promptsAll        bool
	promptsAllCommits bool
	promptsNoConflict bool
)

var promptsCmd = &cobra.Command{
	Use:   "prompts [handle...]",
	Short: "Migrate prompt repos and their commit history",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !promptsAll {
			return fmt.Errorf("pass prompt handles or --all")
		}
		c, err := newMigrationContext(true)
		if err != nil {
			return err
		}

		opts := migrate.DefaultPromptOptions()
		opts.IncludeAllCommits = promptsAllCommits
		if promptsNoConflict {
			opts.ConflictMeansUpToDate = false
		}

		m := migrate.NewPromptMigrator(c)
		if len(args) == 0 {
			_, err = m.MigrateAll(rootCtx, opts)
			printSummary(c)
			return err
		}

		repos, err := m.ListRepos(rootCtx)
		if err != nil {
			return err
		}
		wanted := map[string]bool{}
		for _, handle := range args {
			wanted[handle] = true
		}
		failed := 0
		for _, repo := range repos {
			handle, _ := repo["repo_handle"].(string)
			if !wanted[handle] {
				continue
			}
			delete(wanted, handle)
			if _, err := m.MigrateRepo(rootCtx, repo, opts); err != nil {
				log.Errorf("prompt %q: %v", handle, err)
				failed++
			}
		}
		for handle := range wanted {
			log.Warnf("prompt %q not found on the source", handle)
		}
		printSummary(c)
		if failed > 0 {
			return fmt.Errorf("%d prompts failed", failed)
		}
		return nil
	},
}

func init() {
	promptsCmd.Flags().BoolVar(&promptsAll, "all", false, "Migrate every prompt repo")
	promptsCmd.Flags().BoolVar(&promptsAllCommits, "include-all-commits", false, "Replay the full commit chain instead of only the latest")
	promptsCmd.Flags().BoolVar(&promptsNoConflict, "strict-conflicts", false, "Treat commit conflicts as failures instead of up-to-date markers")
	rootCmd.AddCommand(promptsCmd)
}
