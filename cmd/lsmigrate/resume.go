package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/langchain-ai/langsmith-data-migration-tool/internal/migrate"
	"github.com/langchain-ai/langsmith-data-migration-tool/internal/session"
)

var resumeSession string

var resumeCmd = &cobra.Command{
	Use:   "resume [session-id]",
	Short: "Retry the unfinished items of a saved session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		store, err := session.NewStore(flagStateDir)
		if err != nil {
			return err
		}

		sessionID := resumeSession
		if len(args) == 1 {
			sessionID = args[0]
		}
		var state *session.State
		if sessionID == "" {
			state, err = store.Latest()
		} else {
			state, err = store.Load(sessionID)
		}
		if err != nil {
			return err
		}
		if state == nil {
			return fmt.Errorf("no saved session found")
		}
		if !state.Resumable() {
			log.Infof("session %s has nothing to resume", state.SessionID)
			return nil
		}

		c := migrate.NewContext(cfg, store, state, log)
		err = migrate.NewOrchestrator(c).Resume(rootCtx, migrate.DefaultOptions())
		printSummary(c)
		return err
	},
}

func init() {
	resumeCmd.Flags().StringVar(&resumeSession, "session", "", "Session ID to resume (default: most recent)")
	rootCmd.AddCommand(resumeCmd)
}
