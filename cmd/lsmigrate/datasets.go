package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/langchain-ai/langsmith-data-migration-tool/internal/migrate"
)

var (
	datasetsAll          bool
	datasetsExperiments  bool
	datasetsSkipExamples bool
	datasetsSkipExisting bool
)

var datasetsCmd = &cobra.Command{
	Use:   "datasets [dataset-id...]",
	Short: "Migrate datasets with their examples, experiments, runs, and feedback",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !datasetsAll {
			return fmt.Errorf("pass dataset IDs or --all")
		}
		cfg.Migration.SkipExisting = datasetsSkipExisting
		c, err := newMigrationContext(true)
		if err != nil {
			return err
		}

		opts := migrate.DefaultOptions()
		opts.IncludeExamples = !datasetsSkipExamples
		opts.IncludeExperiments = datasetsExperiments

		err = migrate.NewOrchestrator(c).MigrateDatasets(rootCtx, args, opts)
		printSummary(c)
		return err
	},
}

func init() {
	datasetsCmd.Flags().BoolVar(&datasetsAll, "all", false, "Migrate every source dataset")
	datasetsCmd.Flags().BoolVar(&datasetsExperiments, "include-experiments", false, "Also migrate experiments, runs, and feedback")
	datasetsCmd.Flags().BoolVar(&datasetsSkipExamples, "skip-examples", false, "Migrate dataset shells only")
	datasetsCmd.Flags().BoolVar(&datasetsSkipExisting, "skip-existing", false, "Skip resources that already exist instead of updating them")
	rootCmd.AddCommand(datasetsCmd)
}
