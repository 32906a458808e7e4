package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/langchain-ai/langsmith-data-migration-tool/internal/config"
	"github.com/langchain-ai/langsmith-data-migration-tool/internal/migrate"
	"github.com/langchain-ai/langsmith-data-migration-tool/internal/session"
	"github.com/langchain-ai/langsmith-data-migration-tool/internal/telemetry"
	"github.com/langchain-ai/langsmith-data-migration-tool/internal/ui"
)

var (
	cfg *config.Config
	log *ui.Logger

	// Signal-aware context for graceful cancellation.
	rootCtx    context.Context
	rootCancel context.CancelFunc

	// Persistent flags; non-zero values override the environment.
	flagSourceKey string
	flagDestKey   string
	flagSourceURL string
	flagDestURL   string
	flagNoSSL     bool
	flagBatchSize int
	flagWorkers   int
	flagDryRun    bool
	flagVerbose   bool
	flagStateDir  string
)

var rootCmd = &cobra.Command{
	Use:   "lsmigrate",
	Short: "lsmigrate - copy LangSmith resources between instances",
	Long: `Migrates datasets, examples, experiments, runs, feedback, prompts,
annotation queues, automation rules, and dashboard charts from one
LangSmith instance to another.

Connection settings come from the environment (LANGSMITH_OLD_API_KEY,
LANGSMITH_NEW_API_KEY, LANGSMITH_OLD_BASE_URL, LANGSMITH_NEW_BASE_URL);
flags override them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		applyFlagOverrides(cmd)
		log = ui.NewLogger(os.Stderr, cfg.Migration.Verbose)

		if err := telemetry.Init(rootCtx, "lsmigrate", version); err != nil {
			log.Warnf("telemetry disabled: %v", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
		if rootCancel != nil {
			rootCancel()
		}
	},
}

func applyFlagOverrides(cmd *cobra.Command) {
	if cmd.Flags().Changed("source-key") {
		cfg.Source.APIKey = flagSourceKey
	}
	if cmd.Flags().Changed("dest-key") {
		cfg.Dest.APIKey = flagDestKey
	}
	if cmd.Flags().Changed("source-url") {
		cfg.Source.BaseURL = flagSourceURL
	}
	if cmd.Flags().Changed("dest-url") {
		cfg.Dest.BaseURL = flagDestURL
	}
	if flagNoSSL {
		cfg.Source.VerifyTLS = false
		cfg.Dest.VerifyTLS = false
	}
	if cmd.Flags().Changed("batch-size") {
		cfg.Migration.BatchSize = flagBatchSize
	}
	if cmd.Flags().Changed("workers") {
		cfg.Migration.Workers = flagWorkers
	}
	if flagDryRun {
		cfg.Migration.DryRun = true
	}
	if flagVerbose {
		cfg.Migration.Verbose = true
	}
}

// newMigrationContext validates the configuration and wires a Context. When
// track is true a fresh session is created so progress survives interrupts.
func newMigrationContext(track bool) (*migrate.Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := session.NewStore(flagStateDir)
	if err != nil {
		return nil, err
	}
	var state *session.State
	if track {
		state, err = store.CreateSession(cfg.Source.BaseURL, cfg.Dest.BaseURL)
		if err != nil {
			return nil, err
		}
		log.Debugf("session %s", state.SessionID)
	}
	return migrate.NewContext(cfg, store, state, log), nil
}

// printSummary renders the per-kind outcome table after a command.
func printSummary(c *migrate.Context) {
	if c.State == nil {
		return
	}
	stats := c.State.Stats()
	if stats.Total == 0 {
		return
	}
	fmt.Println()
	fmt.Println(ui.RenderHeader("migration summary"))
	if c.Progress != nil {
		fmt.Println(c.Progress.Summary())
	}
	for kind, ks := range stats.ByKind {
		line := fmt.Sprintf("%-12s %d migrated, %d skipped, %d failed",
			kind, ks.Completed, ks.Skipped, ks.Failed)
		switch {
		case ks.Failed > 0:
			fmt.Println(ui.RenderFail(line))
		case ks.Skipped == ks.Total:
			fmt.Println(ui.RenderWarn(line))
		default:
			fmt.Println(ui.RenderPass(line))
		}
	}
	fmt.Println(ui.RenderMuted(fmt.Sprintf("completion %.0f%%, session %s",
		stats.CompletionPercent, c.State.SessionID)))
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagSourceKey, "source-key", "", "Source API key (default: $LANGSMITH_OLD_API_KEY)")
	pf.StringVar(&flagDestKey, "dest-key", "", "Destination API key (default: $LANGSMITH_NEW_API_KEY)")
	pf.StringVar(&flagSourceURL, "source-url", "", "Source base URL (default: $LANGSMITH_OLD_BASE_URL)")
	pf.StringVar(&flagDestURL, "dest-url", "", "Destination base URL (default: $LANGSMITH_NEW_BASE_URL)")
	pf.BoolVar(&flagNoSSL, "no-ssl", false, "Skip TLS certificate verification on both sides")
	pf.IntVar(&flagBatchSize, "batch-size", config.DefaultBatchSize, "Items per batch POST (1-1000)")
	pf.IntVar(&flagWorkers, "workers", config.DefaultWorkers, "Concurrent dataset workers (1-10)")
	pf.BoolVar(&flagDryRun, "dry-run", false, "Log every write without performing it")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug output")
	pf.StringVar(&flagStateDir, "state-dir", "", "Session state directory (default: ~/.langsmith-migrator/state)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if log != nil {
			log.Errorf("%v", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
