// Package migrate implements the resource-graph migration engine: one
// migrator per resource kind sharing a common upsert contract, composed by
// an orchestrator that drives a bounded worker pool, maintains cross-kind ID
// maps, and persists progress through the session store.
package migrate

import (
	"context"

	"github.com/langchain-ai/langsmith-data-migration-tool/internal/api"
	"github.com/langchain-ai/langsmith-data-migration-tool/internal/config"
	"github.com/langchain-ai/langsmith-data-migration-tool/internal/session"
	"github.com/langchain-ai/langsmith-data-migration-tool/internal/telemetry"
	"github.com/langchain-ai/langsmith-data-migration-tool/internal/ui"
)

// Context carries everything a migrator needs. There are no package-level
// singletons; every call receives this value explicitly.
type Context struct {
	Cfg     *config.Config
	Source  *api.Client
	Dest    *api.Client
	Store   *session.Store
	State   *session.State
	Log     *ui.Logger
	Metrics *telemetry.ClientMetrics

	// Progress, when set, is advanced as tracked items finish so the CLI
	// can render a live tally across concurrent workers.
	Progress *ui.Progress
}

// NewContext wires clients, store, and session state from a validated
// configuration.
func NewContext(cfg *config.Config, store *session.Store, state *session.State, log *ui.Logger) *Context {
	metrics := telemetry.NewClientMetrics()
	source := api.NewClient(cfg.Source, "source", log, metrics)
	dest := api.NewClient(cfg.Dest, "destination", log, metrics)
	source.RateDelay = cfg.Migration.RateLimitDelay
	dest.RateDelay = cfg.Migration.RateLimitDelay
	return &Context{
		Cfg:      cfg,
		Source:   source,
		Dest:     dest,
		Store:    store,
		State:    state,
		Log:      log,
		Metrics:  metrics,
		Progress: ui.NewProgress(0),
	}
}

func (c *Context) DryRun() bool       { return c.Cfg.Migration.DryRun }
func (c *Context) SkipExisting() bool { return c.Cfg.Migration.SkipExisting }
func (c *Context) BatchSize() int     { return c.Cfg.Migration.BatchSize }

// DryRunID is the placeholder destination ID reported for skipped writes in
// dry-run mode.
func DryRunID(sourceID string) string { return "dry-run-" + sourceID }

// SaveState persists the session file; failures are logged, not fatal, so a
// full disk never aborts a migration mid-batch.
func (c *Context) SaveState() {
	if c.Store == nil || c.State == nil {
		return
	}
	if err := c.Store.Save(c.State); err != nil {
		c.Log.Warnf("could not save session state: %v", err)
	}
}

// TrackItem registers an item in the session (no-op without a session).
func (c *Context) TrackItem(kind Kind, sourceID, name string) string {
	if c.State == nil {
		return ""
	}
	itemID := string(kind) + ":" + sourceID
	c.State.AddItem(&session.Item{
		ID:       itemID,
		Kind:     string(kind),
		Name:     name,
		SourceID: sourceID,
	})
	return itemID
}

// FinishItem records the outcome of a tracked item, advances the progress
// counter, and persists state.
func (c *Context) FinishItem(itemID string, status session.Status, destID string, err error) {
	if c.Progress != nil {
		switch status {
		case session.StatusCompleted:
			c.Progress.Done()
		case session.StatusSkipped:
			c.Progress.Skipped()
		case session.StatusFailed:
			c.Progress.Failed()
		}
	}
	if c.State == nil || itemID == "" {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	c.State.UpdateStatus(itemID, status, destID, msg)
	c.SaveState()
}

// MapID records a source→destination mapping for a kind, in the session
// when present.
func (c *Context) MapID(kind Kind, sourceID, destID string) {
	if c.State != nil {
		c.State.MapID(string(kind), sourceID, destID)
	}
}

// LookupID resolves a source ID through the session's map for a kind.
func (c *Context) LookupID(kind Kind, sourceID string) (string, bool) {
	if c.State == nil {
		return "", false
	}
	return c.State.LookupID(string(kind), sourceID)
}

// IDMap returns a copy of the kind's source→destination map.
func (c *Context) IDMap(kind Kind) map[string]string {
	if c.State == nil {
		return map[string]string{}
	}
	return c.State.IDMap(string(kind))
}

// TestConnections probes both sides and returns per-side errors.
func (c *Context) TestConnections(ctx context.Context) (sourceErr, destErr error) {
	return c.Source.TestConnection(ctx), c.Dest.TestConnection(ctx)
}
