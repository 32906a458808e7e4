package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/langchain-ai/langsmith-data-migration-tool/internal/session"
)

const rulesPath = "/runs/rules"

// ruleFields is the full set of create-payload fields carried over from a
// source rule. group_by is create-only on the API and therefore included.
var ruleFields = []string{
	"display_name", "is_enabled", "sampling_rate",
	"filter", "trace_filter", "tree_filter", "group_by",
	"add_to_dataset_prefer_correction", "use_corrections_dataset",
	"num_few_shot_examples", "extend_only", "transient", "backfill_from",
	"code_evaluators", "alerts", "webhooks",
}

// RuleOptions control automation-rule migration.
type RuleOptions struct {
	// StripProjects drops project scoping: rules keep only their dataset
	// scope, and rules without a mappable dataset are skipped.
	StripProjects bool
	// ProjectOverrides is merged over the name-derived project ID map.
	ProjectOverrides map[string]string
	// CreateDisabled forces every migrated rule off, so automations do not
	// fire on the destination before it has been reviewed.
	CreateDisabled bool
}

// RuleMigrator copies run automation rules, remapping their project,
// dataset, and queue references and re-resolving evaluator models.
type RuleMigrator struct {
	ctx *Context
}

func NewRuleMigrator(c *Context) *RuleMigrator {
	return &RuleMigrator{ctx: c}
}

// List fetches every source rule.
func (m *RuleMigrator) List(ctx context.Context) ([]Record, error) {
	var rules []Record
	err := m.ctx.Source.Paginate(ctx, rulesPath, nil, 100, func(item json.RawMessage) error {
		rec, err := decodeRecord(item)
		if err != nil {
			return nil
		}
		rules = append(rules, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rules, nil
}

// ruleKey is the destination matching key: a same-named rule in a different
// scope is a different rule.
func ruleKey(name, datasetID, sessionID string) string {
	return name + "\x00" + datasetID + "\x00" + sessionID
}

// destRules indexes existing destination rules by (name, scope) so re-runs
// upsert instead of duplicating.
func (m *RuleMigrator) destRules(ctx context.Context) (map[string]string, error) {
	rules := map[string]string{}
	err := m.ctx.Dest.Paginate(ctx, rulesPath, nil, 100, func(item json.RawMessage) error {
		rec, err := decodeRecord(item)
		if err != nil {
			return nil
		}
		name, id := str(rec, "display_name"), str(rec, "id")
		if name == "" || id == "" {
			return nil
		}
		rules[ruleKey(name, str(rec, "dataset_id"), str(rec, "session_id"))] = id
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list destination rules: %w", err)
	}
	return rules, nil
}

// ruleUpdatePayload trims a create payload to the fields the server accepts
// on PATCH. group_by is create-only.
func ruleUpdatePayload(payload Record) Record {
	out := make(Record, len(payload))
	for k, v := range payload {
		if k == "group_by" {
			continue
		}
		out[k] = v
	}
	return out
}

// MigrateAll moves every automation rule. Returns the number migrated.
func (m *RuleMigrator) MigrateAll(ctx context.Context, opts RuleOptions) (int, error) {
	c := m.ctx
	rules, err := m.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(rules) == 0 {
		return 0, nil
	}

	var projectMap map[string]string
	if !opts.StripProjects {
		pm := NewProjectMapper(c)
		pm.Overrides = opts.ProjectOverrides
		projectMap, err = pm.Mapping(ctx)
		if err != nil {
			return 0, fmt.Errorf("project mapping: %w", err)
		}
	}
	datasetMap, err := NewDatasetMapper(c).Mapping(ctx)
	if err != nil {
		return 0, fmt.Errorf("dataset mapping: %w", err)
	}
	queueMap := c.IDMap(KindQueue)

	existing := map[string]string{}
	if !c.DryRun() {
		existing, err = m.destRules(ctx)
		if err != nil {
			return 0, err
		}
	}

	migrated, updated, skipped, failed := 0, 0, 0, 0
	for _, rule := range rules {
		id, name := str(rule, "id"), str(rule, "display_name")
		itemID := c.TrackItem(KindRule, id, name)

		payload, reason := m.buildPayload(ctx, rule, opts, projectMap, datasetMap, queueMap)
		if payload == nil {
			c.Log.Warnf("rule %q skipped: %s", name, reason)
			c.FinishItem(itemID, session.StatusSkipped, "", nil)
			skipped++
			continue
		}
		// Match against the mapped scope: the payload carries destination IDs.
		if destID, ok := existing[ruleKey(name, str(payload, "dataset_id"), str(payload, "session_id"))]; ok {
			c.MapID(KindRule, id, destID)
			if c.SkipExisting() {
				c.Log.Warnf("rule %q already exists, skipping", name)
				c.FinishItem(itemID, session.StatusSkipped, destID, nil)
				skipped++
				continue
			}
			if _, err := c.Dest.Patch(ctx, rulesPath+"/"+destID, ruleUpdatePayload(payload)); err != nil {
				c.Log.Errorf("could not update rule %q: %v", name, err)
				c.FinishItem(itemID, session.StatusFailed, "", err)
				failed++
				continue
			}
			c.Log.Successf("updated rule %q -> %s", name, destID)
			c.FinishItem(itemID, session.StatusCompleted, destID, nil)
			updated++
			continue
		}
		if c.DryRun() {
			c.Log.Infof("[dry run] would create rule %q", name)
			c.FinishItem(itemID, session.StatusCompleted, DryRunID(id), nil)
			migrated++
			continue
		}
		var resp struct {
			ID string `json:"id"`
		}
		if err := c.Dest.PostJSON(ctx, rulesPath, payload, &resp); err != nil {
			c.Log.Errorf("could not create rule %q: %v", name, err)
			c.FinishItem(itemID, session.StatusFailed, "", err)
			failed++
			continue
		}
		c.Log.Successf("created rule %q -> %s", name, resp.ID)
		c.MapID(KindRule, id, resp.ID)
		c.FinishItem(itemID, session.StatusCompleted, resp.ID, nil)
		migrated++
	}
	c.Metrics.Migrated(ctx, string(KindRule), int64(migrated+updated))
	c.Log.Infof("rules: %d created, %d updated, %d skipped, %d failed", migrated, updated, skipped, failed)
	if failed > 0 {
		return migrated + updated, fmt.Errorf("%d of %d rules failed", failed, len(rules))
	}
	return migrated + updated, nil
}

// buildPayload rewrites one rule for the destination. A nil payload means
// the rule cannot be migrated; reason says why.
func (m *RuleMigrator) buildPayload(ctx context.Context, rule Record, opts RuleOptions, projectMap, datasetMap, queueMap map[string]string) (Record, string) {
	c := m.ctx
	payload := Record{}
	for _, field := range ruleFields {
		if v, ok := rule[field]; ok && v != nil {
			payload[field] = v
		}
	}
	if opts.CreateDisabled {
		payload["is_enabled"] = false
	}

	datasetID := str(rule, "dataset_id")
	mappedDataset := ""
	if datasetID != "" {
		mappedDataset = datasetMap[datasetID]
	}

	if opts.StripProjects {
		if mappedDataset == "" {
			return nil, fmt.Sprintf("dataset %s not migrated and project scope stripped", datasetID)
		}
		payload["dataset_id"] = mappedDataset
	} else {
		if sessionID := str(rule, "session_id"); sessionID != "" {
			mapped, ok := projectMap[sessionID]
			if !ok {
				return nil, fmt.Sprintf("project %s has no destination mapping", sessionID)
			}
			payload["session_id"] = mapped
		}
		if datasetID != "" {
			if mappedDataset == "" {
				return nil, fmt.Sprintf("dataset %s not migrated", datasetID)
			}
			payload["dataset_id"] = mappedDataset
		}
	}
	if str(payload, "session_id") == "" && str(payload, "dataset_id") == "" {
		return nil, "rule has neither session_id nor dataset_id"
	}

	if target := str(rule, "add_to_dataset_id"); target != "" {
		if mapped, ok := datasetMap[target]; ok {
			payload["add_to_dataset_id"] = mapped
		} else {
			c.Log.Warnf("rule %q: target dataset %s not migrated, dropping the action", str(rule, "display_name"), target)
		}
	}
	if target := str(rule, "add_to_annotation_queue_id"); target != "" {
		if mapped, ok := queueMap[target]; ok {
			payload["add_to_annotation_queue_id"] = mapped
		} else {
			c.Log.Warnf("rule %q: target queue %s not migrated, dropping the action", str(rule, "display_name"), target)
		}
	}

	if evaluators, ok := rule["evaluators"].([]interface{}); ok && len(evaluators) > 0 {
		cleaned, reason := m.prepareEvaluators(ctx, evaluators)
		if reason != "" {
			return nil, reason
		}
		payload["evaluators"] = cleaned
	}
	if payload["evaluators"] == nil {
		structured, reason := m.rebuildStructuredEvaluator(ctx, rule)
		if reason != "" {
			return nil, reason
		}
		if structured != nil {
			payload["evaluators"] = []interface{}{
				map[string]interface{}{"structured": structured},
			}
		}
	}
	return payload, ""
}

// rebuildStructuredEvaluator reassembles evaluators[0].structured from the
// flattened v3 fields (evaluator_prompt_handle, evaluator_commit_hash_or_tag,
// evaluator_variable_mapping) some rules carry instead of an evaluators list.
// Returns (nil, "") when the rule has no flattened evaluator.
func (m *RuleMigrator) rebuildStructuredEvaluator(ctx context.Context, rule Record) (map[string]interface{}, string) {
	handle := str(rule, "evaluator_prompt_handle")
	if handle == "" {
		return nil, ""
	}
	hubRef := handle
	if ref := str(rule, "evaluator_commit_hash_or_tag"); ref != "" {
		hubRef += ":" + ref
	}
	model, err := m.harvestModel(ctx, hubRef)
	if err != nil {
		return nil, fmt.Sprintf("evaluator model for %q unavailable: %v", hubRef, err)
	}
	if model == nil {
		return nil, fmt.Sprintf("evaluator prompt %q carries no model configuration", hubRef)
	}
	structured := map[string]interface{}{"hub_ref": hubRef, "model": model}
	if vm := rule["evaluator_variable_mapping"]; vm != nil {
		structured["variable_mapping"] = vm
	}
	return structured, ""
}

// prepareEvaluators null-cleans the evaluator tree and re-resolves the model
// of structured (prompt-backed) evaluators from the referenced commit.
func (m *RuleMigrator) prepareEvaluators(ctx context.Context, evaluators []interface{}) (interface{}, string) {
	cleaned, ok := cleanNulls(evaluators).([]interface{})
	if !ok {
		return evaluators, ""
	}
	for _, raw := range cleaned {
		ev, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		structured, ok := ev["structured"].(map[string]interface{})
		if !ok {
			continue
		}
		if structured["model"] != nil {
			continue
		}
		hubRef, _ := structured["hub_ref"].(string)
		model, err := m.harvestModel(ctx, hubRef)
		if err != nil {
			return nil, fmt.Sprintf("evaluator model for %q unavailable: %v", hubRef, err)
		}
		if model == nil {
			return nil, fmt.Sprintf("evaluator prompt %q carries no model configuration", hubRef)
		}
		structured["model"] = model
	}
	return cleaned, ""
}

// harvestModel pulls the model configuration out of the prompt commit a
// structured evaluator points at. hub_ref is owner/repo:ref. The source is
// asked first; when it no longer serves the commit the destination copy is
// tried.
func (m *RuleMigrator) harvestModel(ctx context.Context, hubRef string) (interface{}, error) {
	if hubRef == "" {
		return nil, fmt.Errorf("no hub_ref")
	}
	ref := "latest"
	coords := hubRef
	if i := strings.LastIndexByte(hubRef, ':'); i >= 0 {
		coords, ref = hubRef[:i], hubRef[i+1:]
	}
	parts := strings.SplitN(coords, "/", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed hub_ref %q", hubRef)
	}
	commit, err := fetchCommit(ctx, m.ctx.Source, parts[0], parts[1], ref)
	if err != nil {
		commit, err = fetchCommit(ctx, m.ctx.Dest, parts[0], parts[1], ref)
	}
	if err != nil {
		return nil, err
	}
	var manifest struct {
		ID     []string `json:"id"`
		Kwargs struct {
			Last interface{} `json:"last"`
		} `json:"kwargs"`
	}
	if err := json.Unmarshal(commit.Manifest, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	kind := ""
	if len(manifest.ID) > 0 {
		kind = manifest.ID[len(manifest.ID)-1]
	}
	if kind != "RunnableSequence" && kind != "PromptPlayground" {
		return nil, nil
	}
	return manifest.Kwargs.Last, nil
}

// cleanNulls removes explicit nulls anywhere in a JSON tree. The rules
// endpoint rejects nulls inside evaluator definitions.
func cleanNulls(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if val == nil {
				continue
			}
			out[k] = cleanNulls(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(t))
		for _, elem := range t {
			if elem == nil {
				continue
			}
			out = append(out, cleanNulls(elem))
		}
		return out
	default:
		return v
	}
}

// ParseProjectMapping reads the --project-mapping argument: inline JSON or
// a path to a JSON file of {"source-id": "dest-id"}.
func ParseProjectMapping(arg string, readFile func(string) ([]byte, error)) (map[string]string, error) {
	if arg == "" {
		return nil, nil
	}
	data := []byte(arg)
	if !strings.HasPrefix(strings.TrimSpace(arg), "{") {
		var err error
		data, err = readFile(arg)
		if err != nil {
			return nil, fmt.Errorf("read project mapping %q: %w", arg, err)
		}
	}
	var mapping map[string]string
	if err := json.Unmarshal(data, &mapping); err != nil {
		return nil, fmt.Errorf("parse project mapping: %w", err)
	}
	return mapping, nil
}
