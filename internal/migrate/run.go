package migrate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// runBatchPath accepts {"post": [...]} envelopes.
const runBatchPath = "/runs/batch"

// RunMigrator copies run trees between experiments. Every run is re-keyed
// with a fresh UUID on the destination; parent links, trace IDs, and
// dotted orders are rewritten through the new key space so the tree
// structure survives intact.
type RunMigrator struct {
	ctx *Context
}

func NewRunMigrator(c *Context) *RunMigrator {
	return &RunMigrator{ctx: c}
}

// fetchRuns pulls every run of the given source experiments, following the
// query cursor until exhausted.
func (m *RunMigrator) fetchRuns(ctx context.Context, sourceExperimentIDs []string) ([]Record, error) {
	c := m.ctx
	var runs []Record
	cursor := ""
	for {
		payload := Record{
			"session":         sourceExperimentIDs,
			"skip_pagination": false,
		}
		if cursor != "" {
			payload["cursor"] = cursor
		}
		var page struct {
			Runs    []Record `json:"runs"`
			Cursors struct {
				Next string `json:"next"`
			} `json:"cursors"`
		}
		if err := c.Source.PostJSON(ctx, "/runs/query", payload, &page); err != nil {
			return nil, fmt.Errorf("query runs: %w", err)
		}
		runs = append(runs, page.Runs...)
		if page.Cursors.Next == "" || len(page.Runs) == 0 {
			break
		}
		cursor = page.Cursors.Next
	}
	return runs, nil
}

// MigrateForExperiments copies the runs of the mapped experiments. expMap
// and exampleMap are source→destination ID maps; runs pointing at unmapped
// experiments are skipped.
func (m *RunMigrator) MigrateForExperiments(ctx context.Context, expMap, exampleMap map[string]string) (int, error) {
	c := m.ctx
	if len(expMap) == 0 {
		return 0, nil
	}
	sourceIDs := make([]string, 0, len(expMap))
	for src := range expMap {
		sourceIDs = append(sourceIDs, src)
	}
	sort.Strings(sourceIDs)

	runs, err := m.fetchRuns(ctx, sourceIDs)
	if err != nil {
		return 0, err
	}
	if len(runs) == 0 {
		return 0, nil
	}
	if c.DryRun() {
		c.Log.Infof("[dry run] would migrate %d runs", len(runs))
		return len(runs), nil
	}

	// First pass: mint a new UUID for every run, and one per distinct trace
	// whose root run is outside the fetched set.
	runIDs := make(map[string]string, len(runs))
	traceIDs := map[string]string{}
	for _, run := range runs {
		if id := str(run, "id"); id != "" {
			runIDs[id] = uuid.NewString()
		}
	}
	for _, run := range runs {
		traceID := str(run, "trace_id")
		if traceID == "" {
			continue
		}
		if _, ok := runIDs[traceID]; ok {
			continue
		}
		if _, ok := traceIDs[traceID]; !ok {
			traceIDs[traceID] = uuid.NewString()
		}
	}
	idMap := make(map[string]string, len(runIDs)+len(traceIDs))
	for src, dst := range runIDs {
		idMap[src] = dst
	}
	for src, dst := range traceIDs {
		idMap[src] = dst
	}

	var payloads []Record
	skipped := 0
	for _, run := range runs {
		sessionID := str(run, "session_id")
		destSession, ok := expMap[sessionID]
		if !ok {
			skipped++
			continue
		}
		payloads = append(payloads, m.rewriteRun(run, destSession, idMap, exampleMap))
	}
	if skipped > 0 {
		c.Log.Warnf("skipped %d runs outside the migrated experiments", skipped)
	}
	if len(payloads) == 0 {
		return 0, nil
	}

	// Parents must land before children; dotted order encodes exactly that.
	sort.Slice(payloads, func(i, j int) bool {
		return str(payloads[i], "dotted_order") < str(payloads[j], "dotted_order")
	})

	items := make([]interface{}, len(payloads))
	for i := range payloads {
		items[i] = payloads[i]
	}
	envelope := func(batch []interface{}) interface{} {
		return map[string]interface{}{"post": batch}
	}
	results := c.Dest.PostBatch(ctx, runBatchPath, items, c.BatchSize(), envelope)

	migrated, failed := 0, 0
	for i, res := range results {
		if !res.OK() {
			c.Log.Errorf("run %s rejected: %s", str(payloads[i], "id"), res.Err)
			failed++
			continue
		}
		migrated++
	}
	for src, dst := range runIDs {
		c.MapID(KindRun, src, dst)
	}
	for src, dst := range traceIDs {
		c.MapID(KindTrace, src, dst)
	}
	c.SaveState()
	c.Metrics.Migrated(ctx, string(KindRun), int64(migrated))
	c.Log.Infof("runs: %d migrated, %d failed, %d skipped", migrated, failed, skipped)
	if failed > 0 {
		return migrated, fmt.Errorf("%d of %d runs failed", failed, len(payloads))
	}
	return migrated, nil
}

// rewriteRun builds the destination payload for one run under the new key
// space.
func (m *RunMigrator) rewriteRun(run Record, destSessionID string, idMap, exampleMap map[string]string) Record {
	c := m.ctx
	sourceID := str(run, "id")
	newID := idMap[sourceID]
	if newID == "" {
		newID = uuid.NewString()
	}

	traceID := str(run, "trace_id")
	newTrace := idMap[traceID]
	if traceID != "" && newTrace == "" {
		c.Log.Warnf("run %s references unknown trace %s, re-rooting on itself", sourceID, traceID)
		newTrace = newID
	}

	var parent interface{}
	if p := str(run, "parent_run_id"); p != "" {
		if mapped, ok := idMap[p]; ok {
			parent = mapped
		} else {
			c.Log.Warnf("run %s has unmapped parent %s, detaching", sourceID, p)
		}
	}

	var refExample interface{}
	if ref := str(run, "reference_example_id"); ref != "" {
		if mapped, ok := exampleMap[ref]; ok {
			refExample = mapped
		}
	}

	serialized := run["serialized"]
	if serialized == nil {
		serialized = map[string]interface{}{}
	}
	events := run["events"]
	if events == nil {
		events = []interface{}{}
	}
	tags := run["tags"]
	if tags == nil {
		tags = []interface{}{}
	}

	payload := Record{
		"id":                   newID,
		"name":                 run["name"],
		"inputs":               run["inputs"],
		"outputs":              run["outputs"],
		"run_type":             run["run_type"],
		"start_time":           run["start_time"],
		"end_time":             run["end_time"],
		"extra":                run["extra"],
		"error":                run["error"],
		"serialized":           serialized,
		"parent_run_id":        parent,
		"events":               events,
		"tags":                 tags,
		"trace_id":             newTrace,
		"dotted_order":         rewriteDottedOrder(str(run, "dotted_order"), idMap, newID),
		"session_id":           destSessionID,
		"session_name":         run["session_name"],
		"reference_example_id": refExample,
		"input_attachments":    run["input_attachments"],
		"output_attachments":   run["output_attachments"],
	}
	return stripNulls(payload).(Record)
}

// rewriteDottedOrder maps each segment's run UUID into the new key space.
// A segment is <timestamp>Z<uuid>; the timestamp half is kept verbatim so
// ordering is preserved. The final segment is the run itself and always
// carries ownID.
func rewriteDottedOrder(order string, idMap map[string]string, ownID string) string {
	if order == "" {
		return ""
	}
	segments := strings.Split(order, ".")
	for i, seg := range segments {
		idx := strings.IndexByte(seg, 'Z')
		if idx < 0 {
			continue
		}
		ts, old := seg[:idx+1], seg[idx+1:]
		if i == len(segments)-1 {
			segments[i] = ts + ownID
			continue
		}
		if mapped, ok := idMap[old]; ok {
			segments[i] = ts + mapped
		}
	}
	return strings.Join(segments, ".")
}
