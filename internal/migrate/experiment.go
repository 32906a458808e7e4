package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/langchain-ai/langsmith-data-migration-tool/internal/session"
)

// Experiment is a session bound to a reference dataset.
type Experiment struct {
	ID                 string                 `json:"id"`
	Name               string                 `json:"name"`
	Description        string                 `json:"description,omitempty"`
	ReferenceDatasetID string                 `json:"reference_dataset_id,omitempty"`
	StartTime          string                 `json:"start_time,omitempty"`
	EndTime            string                 `json:"end_time,omitempty"`
	Extra              map[string]interface{} `json:"extra,omitempty"`
	TraceTier          string                 `json:"trace_tier,omitempty"`
}

// ExperimentMigrator copies the experiments attached to a dataset.
type ExperimentMigrator struct {
	ctx *Context
}

func NewExperimentMigrator(c *Context) *ExperimentMigrator {
	return &ExperimentMigrator{ctx: c}
}

// ListForDataset fetches the source experiments referencing a dataset.
func (m *ExperimentMigrator) ListForDataset(ctx context.Context, datasetID string) ([]Experiment, error) {
	q := url.Values{"reference_dataset": {datasetID}}
	var experiments []Experiment
	err := m.ctx.Source.Paginate(ctx, "/sessions", q, 100, func(item json.RawMessage) error {
		var exp Experiment
		if err := json.Unmarshal(item, &exp); err != nil {
			return nil
		}
		experiments = append(experiments, exp)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list experiments for dataset %s: %w", datasetID, err)
	}
	return experiments, nil
}

// findExisting matches a destination experiment on name within the
// destination dataset's experiments.
func (m *ExperimentMigrator) findExisting(ctx context.Context, name, destDatasetID string) (string, error) {
	q := url.Values{"reference_dataset": {destDatasetID}}
	found := ""
	err := m.ctx.Dest.Paginate(ctx, "/sessions", q, 100, func(item json.RawMessage) error {
		var exp Experiment
		if err := json.Unmarshal(item, &exp); err != nil {
			return nil
		}
		if exp.Name == name && found == "" {
			found = exp.ID
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("find experiment %q: %w", name, err)
	}
	return found, nil
}

// Create writes one experiment against the destination dataset, with its
// evaluator metadata normalized.
func (m *ExperimentMigrator) Create(ctx context.Context, exp *Experiment, destDatasetID string) (string, error) {
	c := m.ctx
	if c.DryRun() {
		c.Log.Infof("[dry run] would create experiment %q", exp.Name)
		return DryRunID(exp.ID), nil
	}
	extra := normalizeEvaluatorExtra(exp.Extra, exp.Name, c)
	payload := stripNulls(Record{
		"name":                 exp.Name,
		"description":          exp.Description,
		"reference_dataset_id": destDatasetID,
		"start_time":           exp.StartTime,
		"end_time":             exp.EndTime,
		"extra":                extra,
		"trace_tier":           exp.TraceTier,
	})
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.Dest.PostJSON(ctx, "/sessions", payload, &resp); err != nil {
		return "", fmt.Errorf("create experiment %q: %w", exp.Name, err)
	}
	return resp.ID, nil
}

// Update patches the mutable attributes of an existing destination
// experiment. The name is the matching key and the dataset binding is fixed
// at creation; neither is sent.
func (m *ExperimentMigrator) Update(ctx context.Context, destID string, exp *Experiment) error {
	c := m.ctx
	extra := normalizeEvaluatorExtra(exp.Extra, exp.Name, c)
	payload := stripNulls(Record{
		"description": exp.Description,
		"end_time":    exp.EndTime,
		"extra":       extra,
		"trace_tier":  exp.TraceTier,
	})
	if _, err := c.Dest.Patch(ctx, "/sessions/"+url.PathEscape(destID), payload); err != nil {
		return fmt.Errorf("update experiment %q: %w", exp.Name, err)
	}
	return nil
}

// MigrateForDataset copies every experiment of one dataset and returns the
// source→destination experiment ID map.
func (m *ExperimentMigrator) MigrateForDataset(ctx context.Context, sourceDatasetID, destDatasetID string) (map[string]string, error) {
	c := m.ctx
	experiments, err := m.ListForDataset(ctx, sourceDatasetID)
	if err != nil {
		return nil, err
	}
	mapping := make(map[string]string, len(experiments))
	failed := 0
	for i := range experiments {
		exp := &experiments[i]
		itemID := c.TrackItem(KindExperiment, exp.ID, exp.Name)

		destID, err := m.findExisting(ctx, exp.Name, destDatasetID)
		if err != nil {
			c.FinishItem(itemID, session.StatusFailed, "", err)
			failed++
			continue
		}
		if destID != "" {
			mapping[exp.ID] = destID
			c.MapID(KindExperiment, exp.ID, destID)
			if c.SkipExisting() {
				c.Log.Warnf("experiment %q already exists, skipping", exp.Name)
				c.FinishItem(itemID, session.StatusSkipped, destID, nil)
				continue
			}
			if c.DryRun() {
				c.Log.Infof("[dry run] would update experiment %q", exp.Name)
				c.FinishItem(itemID, session.StatusCompleted, destID, nil)
				continue
			}
			if err := m.Update(ctx, destID, exp); err != nil {
				c.Log.Errorf("could not update experiment %q: %v", exp.Name, err)
				c.FinishItem(itemID, session.StatusFailed, "", err)
				failed++
				continue
			}
			c.Log.Successf("updated experiment %q -> %s", exp.Name, destID)
			c.FinishItem(itemID, session.StatusCompleted, destID, nil)
			continue
		}
		destID, err = m.Create(ctx, exp, destDatasetID)
		if err != nil {
			c.Log.Errorf("could not create experiment %q: %v", exp.Name, err)
			c.FinishItem(itemID, session.StatusFailed, "", err)
			failed++
			continue
		}
		c.Log.Successf("created experiment %q -> %s", exp.Name, destID)
		mapping[exp.ID] = destID
		c.MapID(KindExperiment, exp.ID, destID)
		c.FinishItem(itemID, session.StatusCompleted, destID, nil)
	}
	c.Metrics.Migrated(ctx, string(KindExperiment), int64(len(mapping)))
	if failed > 0 {
		return mapping, fmt.Errorf("%d of %d experiments failed", failed, len(experiments))
	}
	return mapping, nil
}

// normalizeEvaluatorExtra rewrites extra.metadata.evaluators so each entry
// has a recognized type ("Code" or "LLM") and a feedback key. Unrecognized
// types fall back to "Code" with a warning.
func normalizeEvaluatorExtra(extra map[string]interface{}, experimentName string, c *Context) map[string]interface{} {
	if extra == nil {
		return nil
	}
	meta, ok := extra["metadata"].(map[string]interface{})
	if !ok {
		return extra
	}
	rawList, ok := meta["evaluators"].([]interface{})
	if !ok {
		return extra
	}
	for _, raw := range rawList {
		ev, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		ev["type"] = normalizeEvaluatorType(str(ev, "type"), experimentName, c)
		if str(ev, "feedback_key") == "" {
			key := firstStr(ev, "name", "key", "metric_name")
			if key == "" {
				key = experimentName + "_key"
			}
			ev["feedback_key"] = key
		}
	}
	return extra
}

func normalizeEvaluatorType(t, experimentName string, c *Context) string {
	switch strings.ToLower(t) {
	case "code", "function":
		return "Code"
	case "llm", "model", "prompt_template":
		return "LLM"
	case "":
		return "Code"
	default:
		c.Log.Warnf("experiment %q: unknown evaluator type %q, defaulting to Code", experimentName, t)
		return "Code"
	}
}
