package main

import (
	"github.com/spf13/cobra"

	"github.com/langchain-ai/langsmith-data-migration-tool/internal/migrate"
)

var (
	allSkipDatasets    bool
	allSkipPrompts     bool
	allSkipQueues      bool
	allSkipRules       bool
	allSkipCharts      bool
	allSkipExperiments bool
	allStripProjects   bool
	allAllCommits      bool
)

var migrateAllCmd = &cobra.Command{
	Use:   "migrate-all",
	Short: "Migrate every supported resource kind",
	Long: `Runs the full pipeline in dependency order: datasets (with examples,
experiments, runs, and feedback), then prompts, annotation queues,
automation rules, and dashboard charts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newMigrationContext(true)
		if err != nil {
			return err
		}

		opts := migrate.DefaultOptions()
		opts.Datasets = !allSkipDatasets
		opts.Prompts = !allSkipPrompts
		opts.Queues = !allSkipQueues
		opts.Rules = !allSkipRules
		opts.Charts = !allSkipCharts
		opts.IncludeExperiments = !allSkipExperiments
		opts.PromptOpts.IncludeAllCommits = allAllCommits
		opts.RuleOpts.StripProjects = allStripProjects

		err = migrate.NewOrchestrator(c).MigrateEverything(rootCtx, opts)
		printSummary(c)
		return err
	},
}

func init() {
	f := migrateAllCmd.Flags()
	f.BoolVar(&allSkipDatasets, "skip-datasets", false, "Skip the dataset phase")
	f.BoolVar(&allSkipPrompts, "skip-prompts", false, "Skip the prompt phase")
	f.BoolVar(&allSkipQueues, "skip-queues", false, "Skip the annotation queue phase")
	f.BoolVar(&allSkipRules, "skip-rules", false, "Skip the rule phase")
	f.BoolVar(&allSkipCharts, "skip-charts", false, "Skip the chart phase")
	f.BoolVar(&allSkipExperiments, "skip-experiments", false, "Migrate datasets without experiments, runs, or feedback")
	f.BoolVar(&allStripProjects, "strip-projects", false, "Drop project scoping from rules")
	f.BoolVar(&allAllCommits, "include-all-commits", false, "Replay full prompt commit chains")
	rootCmd.AddCommand(migrateAllCmd)
}
