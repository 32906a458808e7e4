package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/langchain-ai/langsmith-data-migration-tool/internal/api"
	"github.com/langchain-ai/langsmith-data-migration-tool/internal/session"
)

// Dataset is a named example container.
type Dataset struct {
	ID                      string            `json:"id"`
	Name                    string            `json:"name"`
	Description             string            `json:"description,omitempty"`
	CreatedAt               string            `json:"created_at,omitempty"`
	InputsSchemaDefinition  json.RawMessage   `json:"inputs_schema_definition,omitempty"`
	OutputsSchemaDefinition json.RawMessage   `json:"outputs_schema_definition,omitempty"`
	ExternallyManaged       bool              `json:"externally_managed,omitempty"`
	Transformations         []json.RawMessage `json:"transformations,omitempty"`
	DataType                string            `json:"data_type,omitempty"`
	ExampleCount            int               `json:"example_count,omitempty"`
}

// DatasetOptions select what gets migrated alongside the dataset itself.
type DatasetOptions struct {
	IncludeExamples    bool
	IncludeExperiments bool
}

// DatasetMigrator migrates datasets and recurses into their examples.
type DatasetMigrator struct {
	ctx *Context
}

func NewDatasetMigrator(c *Context) *DatasetMigrator {
	return &DatasetMigrator{ctx: c}
}

// List fetches every dataset from the source.
func (m *DatasetMigrator) List(ctx context.Context) ([]Dataset, error) {
	var datasets []Dataset
	err := m.ctx.Source.Paginate(ctx, "/datasets", nil, 100, func(item json.RawMessage) error {
		var ds Dataset
		if err := json.Unmarshal(item, &ds); err != nil {
			return nil
		}
		datasets = append(datasets, ds)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	return datasets, nil
}

// Get fetches one source dataset.
func (m *DatasetMigrator) Get(ctx context.Context, id string) (*Dataset, error) {
	var ds Dataset
	if err := m.ctx.Source.GetJSON(ctx, "/datasets/"+url.PathEscape(id), nil, &ds); err != nil {
		return nil, fmt.Errorf("get dataset %s: %w", id, err)
	}
	return &ds, nil
}

// FindExisting looks up a destination dataset by name. Ambiguous matches
// bias toward the first, with a warning.
func (m *DatasetMigrator) FindExisting(ctx context.Context, name string) (string, error) {
	q := url.Values{"name": {name}}
	body, err := m.ctx.Dest.Get(ctx, "/datasets", q)
	if err != nil {
		if api.IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	var matches []Dataset
	if err := json.Unmarshal(body, &matches); err != nil {
		return "", nil
	}
	if len(matches) == 0 {
		return "", nil
	}
	if len(matches) > 1 {
		m.ctx.Log.Warnf("multiple destination datasets named %q, using the first", name)
	}
	return matches[0].ID, nil
}

// Create writes the dataset to the destination.
func (m *DatasetMigrator) Create(ctx context.Context, ds *Dataset) (string, error) {
	if m.ctx.DryRun() {
		m.ctx.Log.Infof("[dry run] would create dataset %q", ds.Name)
		return DryRunID(ds.ID), nil
	}
	transformations := ds.Transformations
	if transformations == nil {
		transformations = []json.RawMessage{}
	}
	dataType := ds.DataType
	if dataType == "" {
		dataType = "kv"
	}
	payload := Record{
		"name":                      ds.Name,
		"description":               ds.Description,
		"created_at":                ds.CreatedAt,
		"inputs_schema_definition":  ds.InputsSchemaDefinition,
		"outputs_schema_definition": ds.OutputsSchemaDefinition,
		"externally_managed":        ds.ExternallyManaged,
		"transformations":           transformations,
		"data_type":                 dataType,
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := m.ctx.Dest.PostJSON(ctx, "/datasets", stripNulls(payload), &resp); err != nil {
		return "", fmt.Errorf("create dataset %q: %w", ds.Name, err)
	}
	return resp.ID, nil
}

// Update patches the mutable dataset fields. Name and data type are
// create-only.
func (m *DatasetMigrator) Update(ctx context.Context, destID string, ds *Dataset) error {
	if m.ctx.DryRun() {
		m.ctx.Log.Infof("[dry run] would update dataset %q", ds.Name)
		return nil
	}
	payload := Record{
		"description":               ds.Description,
		"inputs_schema_definition":  ds.InputsSchemaDefinition,
		"outputs_schema_definition": ds.OutputsSchemaDefinition,
	}
	if _, err := m.ctx.Dest.Patch(ctx, "/datasets/"+url.PathEscape(destID), stripNulls(payload)); err != nil {
		return fmt.Errorf("update dataset %q: %w", ds.Name, err)
	}
	return nil
}

// Migrate upserts one dataset and, when requested, its examples. Returns the
// destination dataset ID.
func (m *DatasetMigrator) Migrate(ctx context.Context, id string, opts DatasetOptions) (string, error) {
	c := m.ctx
	ds, err := m.Get(ctx, id)
	if err != nil {
		return "", err
	}
	itemID := c.TrackItem(KindDataset, id, ds.Name)

	destID, err := m.FindExisting(ctx, ds.Name)
	if err != nil {
		c.FinishItem(itemID, session.StatusFailed, "", err)
		return "", err
	}

	switch {
	case destID != "" && c.SkipExisting():
		c.Log.Warnf("dataset %q already exists, skipping", ds.Name)
		c.MapID(KindDataset, id, destID)
		c.FinishItem(itemID, session.StatusSkipped, destID, nil)
	case destID != "":
		if err := m.Update(ctx, destID, ds); err != nil {
			c.FinishItem(itemID, session.StatusFailed, "", err)
			return "", err
		}
		c.Log.Successf("updated dataset %q (%s)", ds.Name, destID)
		c.MapID(KindDataset, id, destID)
		c.FinishItem(itemID, session.StatusCompleted, destID, nil)
	default:
		destID, err = m.Create(ctx, ds)
		if err != nil {
			c.FinishItem(itemID, session.StatusFailed, "", err)
			return "", err
		}
		c.Log.Successf("created dataset %q -> %s", ds.Name, destID)
		c.MapID(KindDataset, id, destID)
		c.FinishItem(itemID, session.StatusCompleted, destID, nil)
	}

	if opts.IncludeExamples {
		examples := NewExampleMigrator(c)
		mapping, err := examples.MigrateDataset(ctx, id, destID)
		if err != nil {
			return destID, fmt.Errorf("dataset %q examples: %w", ds.Name, err)
		}
		c.State.MergeIDs(string(KindExample), mapping)
		c.SaveState()
	}
	return destID, nil
}

// DatasetMapper builds the source→destination dataset ID map by matching
// names, used by rules and charts when datasets were migrated out-of-band.
type DatasetMapper struct {
	ctx *Context

	mu    sync.Mutex
	built bool
	m     map[string]string
}

func NewDatasetMapper(c *Context) *DatasetMapper {
	return &DatasetMapper{ctx: c}
}

// Mapping returns the cached name-matched map, building it on first use.
// Mappings already recorded in the session take precedence.
func (dm *DatasetMapper) Mapping(ctx context.Context) (map[string]string, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.built {
		return dm.m, nil
	}
	c := dm.ctx

	names := map[string]string{} // name -> source id
	err := c.Source.Paginate(ctx, "/datasets", nil, 100, func(item json.RawMessage) error {
		rec, err := decodeRecord(item)
		if err != nil {
			return nil
		}
		if name, id := str(rec, "name"), str(rec, "id"); name != "" && id != "" {
			if _, dup := names[name]; !dup {
				names[name] = id
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list source datasets: %w", err)
	}

	m := c.IDMap(KindDataset)
	err = c.Dest.Paginate(ctx, "/datasets", nil, 100, func(item json.RawMessage) error {
		rec, err := decodeRecord(item)
		if err != nil {
			return nil
		}
		name, destID := str(rec, "name"), str(rec, "id")
		srcID, ok := names[name]
		if !ok || destID == "" {
			return nil
		}
		if _, have := m[srcID]; !have {
			m[srcID] = destID
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list destination datasets: %w", err)
	}

	c.State.MergeIDs(string(KindDataset), m)
	dm.m = m
	dm.built = true
	return m, nil
}
