package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/langchain-ai/langsmith-data-migration-tool/internal/session"
)

// QueueMigrator copies annotation queues. Queue membership (queued runs)
// stays behind; queues arrive empty on the destination.
type QueueMigrator struct {
	ctx *Context
}

func NewQueueMigrator(c *Context) *QueueMigrator {
	return &QueueMigrator{ctx: c}
}

// List fetches every source annotation queue.
func (m *QueueMigrator) List(ctx context.Context) ([]Record, error) {
	var queues []Record
	err := m.ctx.Source.Paginate(ctx, "/annotation-queues", nil, 100, func(item json.RawMessage) error {
		rec, err := decodeRecord(item)
		if err != nil {
			return nil
		}
		queues = append(queues, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list annotation queues: %w", err)
	}
	return queues, nil
}

func (m *QueueMigrator) findExisting(ctx context.Context, name string) (string, error) {
	q := url.Values{"name": {name}}
	found := ""
	err := m.ctx.Dest.Paginate(ctx, "/annotation-queues", q, 100, func(item json.RawMessage) error {
		rec, err := decodeRecord(item)
		if err != nil {
			return nil
		}
		if str(rec, "name") == name && found == "" {
			found = str(rec, "id")
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("find queue %q: %w", name, err)
	}
	return found, nil
}

// Create writes one queue to the destination. The default dataset is
// remapped when the dataset was migrated; session bindings never carry
// over.
func (m *QueueMigrator) Create(ctx context.Context, queue Record, datasetMap map[string]string) (string, error) {
	c := m.ctx
	name := str(queue, "name")
	if c.DryRun() {
		c.Log.Infof("[dry run] would create annotation queue %q", name)
		return DryRunID(str(queue, "id")), nil
	}

	payload := Record{
		"name":                name,
		"description":         queue["description"],
		"created_at":          queue["created_at"],
		"updated_at":          queue["updated_at"],
		"rubric_instructions": queue["rubric_instructions"],
		"session_ids":         []interface{}{},
	}
	if ds := str(queue, "default_dataset"); ds != "" {
		if mapped, ok := datasetMap[ds]; ok {
			payload["default_dataset"] = mapped
		} else {
			c.Log.Warnf("queue %q: default dataset %s not migrated, dropping the binding", name, ds)
		}
	}
	if v, ok := queue["num_reviewers_per_item"]; ok && v != nil {
		payload["num_reviewers_per_item"] = v
	} else {
		payload["num_reviewers_per_item"] = 1
	}
	if v, ok := queue["enable_reservations"]; ok && v != nil {
		payload["enable_reservations"] = v
	} else {
		payload["enable_reservations"] = false
	}
	if v, ok := queue["reservation_minutes"]; ok && v != nil {
		payload["reservation_minutes"] = v
	} else {
		payload["reservation_minutes"] = 60
	}
	if v, ok := queue["rubric_items"]; ok && v != nil {
		payload["rubric_items"] = v
	} else {
		payload["rubric_items"] = []interface{}{}
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.Dest.PostJSON(ctx, "/annotation-queues", stripNulls(payload), &resp); err != nil {
		return "", fmt.Errorf("create queue %q: %w", name, err)
	}
	return resp.ID, nil
}

// Update patches the mutable attributes of an existing destination queue.
// created_at and the session linkage arrays are rejected on PATCH and
// therefore omitted.
func (m *QueueMigrator) Update(ctx context.Context, destID string, queue Record, datasetMap map[string]string) error {
	c := m.ctx
	name := str(queue, "name")
	payload := Record{
		"description":         queue["description"],
		"rubric_instructions": queue["rubric_instructions"],
	}
	for _, field := range []string{"num_reviewers_per_item", "enable_reservations", "reservation_minutes", "rubric_items"} {
		if v, ok := queue[field]; ok && v != nil {
			payload[field] = v
		}
	}
	if ds := str(queue, "default_dataset"); ds != "" {
		if mapped, ok := datasetMap[ds]; ok {
			payload["default_dataset"] = mapped
		} else {
			c.Log.Warnf("queue %q: default dataset %s not migrated, dropping the binding", name, ds)
		}
	}
	if _, err := c.Dest.Patch(ctx, "/annotation-queues/"+url.PathEscape(destID), stripNulls(payload)); err != nil {
		return fmt.Errorf("update queue %q: %w", name, err)
	}
	return nil
}

// MigrateAll upserts every annotation queue and returns the
// source→destination queue ID map.
func (m *QueueMigrator) MigrateAll(ctx context.Context) (map[string]string, error) {
	c := m.ctx
	queues, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	datasetMap, err := NewDatasetMapper(c).Mapping(ctx)
	if err != nil {
		c.Log.Warnf("dataset mapping unavailable, default datasets will be dropped: %v", err)
		datasetMap = map[string]string{}
	}

	mapping := make(map[string]string, len(queues))
	failed := 0
	for _, queue := range queues {
		id, name := str(queue, "id"), str(queue, "name")
		itemID := c.TrackItem(KindQueue, id, name)

		destID, err := m.findExisting(ctx, name)
		if err != nil {
			c.FinishItem(itemID, session.StatusFailed, "", err)
			failed++
			continue
		}
		if destID != "" {
			mapping[id] = destID
			c.MapID(KindQueue, id, destID)
			if c.SkipExisting() {
				c.Log.Warnf("annotation queue %q already exists, skipping", name)
				c.FinishItem(itemID, session.StatusSkipped, destID, nil)
				continue
			}
			if c.DryRun() {
				c.Log.Infof("[dry run] would update annotation queue %q", name)
				c.FinishItem(itemID, session.StatusCompleted, destID, nil)
				continue
			}
			if err := m.Update(ctx, destID, queue, datasetMap); err != nil {
				c.Log.Errorf("could not update annotation queue %q: %v", name, err)
				c.FinishItem(itemID, session.StatusFailed, "", err)
				failed++
				continue
			}
			c.Log.Successf("updated annotation queue %q -> %s", name, destID)
			c.FinishItem(itemID, session.StatusCompleted, destID, nil)
			continue
		}
		destID, err = m.Create(ctx, queue, datasetMap)
		if err != nil {
			c.Log.Errorf("could not create annotation queue %q: %v", name, err)
			c.FinishItem(itemID, session.StatusFailed, "", err)
			failed++
			continue
		}
		c.Log.Successf("created annotation queue %q -> %s", name, destID)
		mapping[id] = destID
		c.MapID(KindQueue, id, destID)
		c.FinishItem(itemID, session.StatusCompleted, destID, nil)
	}
	c.Metrics.Migrated(ctx, string(KindQueue), int64(len(mapping)))
	if failed > 0 {
		return mapping, fmt.Errorf("%d of %d annotation queues failed", failed, len(queues))
	}
	return mapping, nil
}
