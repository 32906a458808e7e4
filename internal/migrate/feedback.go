package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// FeedbackMigrator copies feedback records attached to migrated runs.
// Records are created one at a time; the feedback endpoint has no bulk
// variant.
type FeedbackMigrator struct {
	ctx *Context
}

func NewFeedbackMigrator(c *Context) *FeedbackMigrator {
	return &FeedbackMigrator{ctx: c}
}

// listForSession fetches the feedback attached to one source experiment.
func (m *FeedbackMigrator) listForSession(ctx context.Context, sessionID string) ([]Record, error) {
	q := url.Values{"session": {sessionID}}
	var records []Record
	err := m.ctx.Source.Paginate(ctx, "/feedback", q, 100, func(item json.RawMessage) error {
		rec, err := decodeRecord(item)
		if err != nil {
			return nil
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list feedback for session %s: %w", sessionID, err)
	}
	return records, nil
}

// MigrateForExperiments copies the feedback of every source experiment.
// runMap is the source→destination run ID map from the run phase; records
// pointing at unmapped runs are skipped.
func (m *FeedbackMigrator) MigrateForExperiments(ctx context.Context, sourceExperimentIDs []string, runMap map[string]string) (int, error) {
	c := m.ctx
	migrated, skipped, failed := 0, 0, 0
	for _, sessionID := range sourceExperimentIDs {
		records, err := m.listForSession(ctx, sessionID)
		if err != nil {
			return migrated, err
		}
		for _, rec := range records {
			id := str(rec, "id")
			runID := str(rec, "run_id")
			key := str(rec, "key")
			destRun, ok := runMap[runID]
			switch {
			case runID == "" || !ok:
				c.Log.Debugf("feedback %s skipped: run %s was not migrated", id, runID)
				skipped++
				continue
			case key == "":
				c.Log.Debugf("feedback %s skipped: no key", id)
				skipped++
				continue
			}
			if c.DryRun() {
				migrated++
				continue
			}
			payload := Record{"run_id": destRun, "key": key}
			for _, field := range []string{"score", "value", "comment", "correction", "feedback_source"} {
				if v, present := rec[field]; present && v != nil {
					payload[field] = v
				}
			}
			if _, err := c.Dest.Post(ctx, "/feedback", payload); err != nil {
				c.Log.Errorf("could not create feedback %s: %v", id, err)
				failed++
				continue
			}
			migrated++
		}
	}
	if c.DryRun() {
		c.Log.Infof("[dry run] would migrate %d feedback records", migrated)
		return migrated, nil
	}
	c.Metrics.Migrated(ctx, string(KindFeedback), int64(migrated))
	c.Log.Infof("feedback: %d migrated, %d skipped, %d failed", migrated, skipped, failed)
	if failed > 0 {
		return migrated, fmt.Errorf("%d feedback records failed", failed)
	}
	return migrated, nil
}
