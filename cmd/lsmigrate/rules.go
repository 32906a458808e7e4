package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/langchain-ai/langsmith-data-migration-tool/internal/migrate"
)

var (
	rulesStripProjects  bool
	rulesProjectMapping string
	rulesCreateDisabled bool
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Migrate run automation rules",
	Long: `Migrates automation rules, remapping their project, dataset, and
annotation-queue references onto the destination. Missing destination
projects are created from their source counterparts unless
--strip-projects is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		overrides, err := migrate.ParseProjectMapping(rulesProjectMapping, os.ReadFile)
		if err != nil {
			return err
		}
		c, err := newMigrationContext(true)
		if err != nil {
			return err
		}
		opts := migrate.RuleOptions{
			StripProjects:    rulesStripProjects,
			ProjectOverrides: overrides,
			CreateDisabled:   rulesCreateDisabled,
		}
		_, err = migrate.NewRuleMigrator(c).MigrateAll(rootCtx, opts)
		printSummary(c)
		return err
	},
}

func init() {
	rulesCmd.Flags().BoolVar(&rulesStripProjects, "strip-projects", false, "Drop project scoping; migrate only dataset-scoped rules")
	rulesCmd.Flags().StringVar(&rulesProjectMapping, "project-mapping", "", "Project ID overrides: inline JSON or a path to a JSON file")
	rulesCmd.Flags().BoolVar(&rulesCreateDisabled, "create-disabled", false, "Create every rule disabled for review before enabling")
	rootCmd.AddCommand(rulesCmd)
}
