package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
)

// Project is a tracing project ("session" without a reference dataset).
type Project struct {
	ID                 string                 `json:"id"`
	Name               string                 `json:"name"`
	Description        string                 `json:"description,omitempty"`
	ReferenceDatasetID string                 `json:"reference_dataset_id,omitempty"`
	StartTime          string                 `json:"start_time,omitempty"`
	EndTime            string                 `json:"end_time,omitempty"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
	Extra              map[string]interface{} `json:"extra,omitempty"`
	RunCount           int                    `json:"run_count,omitempty"`
}

// ListProjects returns the tracing projects of one side: sessions that do
// not reference a dataset (those are experiments).
func ListProjects(ctx context.Context, c *Context, side string) ([]Project, error) {
	client := c.Source
	if side == "destination" {
		client = c.Dest
	}
	var projects []Project
	err := client.Paginate(ctx, "/sessions", nil, 100, func(item json.RawMessage) error {
		var p Project
		if err := json.Unmarshal(item, &p); err != nil {
			return nil // skip undecodable rows, same as unnamed ones below
		}
		if p.ReferenceDatasetID == "" && p.Name != "" {
			projects = append(projects, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list projects (%s): %w", side, err)
	}
	return projects, nil
}

// ProjectMapper builds the source→destination project ID map lazily by
// matching names, optionally creating missing destination projects from
// their source copies.
type ProjectMapper struct {
	ctx           *Context
	EnsureMissing bool
	// Overrides are merged over the name-derived mapping (the
	// --project-mapping flag).
	Overrides map[string]string

	mu    sync.Mutex
	built bool
	m     map[string]string
}

func NewProjectMapper(c *Context) *ProjectMapper {
	return &ProjectMapper{ctx: c, EnsureMissing: true}
}

// Mapping returns the cached map, building it on first use.
func (pm *ProjectMapper) Mapping(ctx context.Context) (map[string]string, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.built {
		return pm.m, nil
	}
	m, err := pm.build(ctx)
	if err != nil {
		return nil, err
	}
	for src, dest := range pm.Overrides {
		m[src] = dest
	}
	pm.m = m
	pm.built = true
	pm.ctx.State.MergeIDs(string(KindProject), m)
	return pm.m, nil
}

func (pm *ProjectMapper) build(ctx context.Context) (map[string]string, error) {
	c := pm.ctx
	c.Log.Debugf("building project ID mapping")

	sourceByName := map[string]Record{}
	err := c.Source.Paginate(ctx, "/sessions", nil, 100, func(item json.RawMessage) error {
		rec, err := decodeRecord(item)
		if err != nil {
			return nil
		}
		name := str(rec, "name")
		if name == "" {
			return nil
		}
		if _, dup := sourceByName[name]; dup {
			c.Log.Warnf("duplicate source project name %q, keeping first", name)
			return nil
		}
		sourceByName[name] = rec
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list source projects: %w", err)
	}

	destByName := map[string]string{}
	err = c.Dest.Paginate(ctx, "/sessions", nil, 100, func(item json.RawMessage) error {
		rec, err := decodeRecord(item)
		if err != nil {
			return nil
		}
		name, id := str(rec, "name"), str(rec, "id")
		if name == "" || id == "" {
			return nil
		}
		if _, dup := destByName[name]; dup {
			c.Log.Warnf("duplicate destination project name %q, keeping first", name)
			return nil
		}
		destByName[name] = id
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list destination projects: %w", err)
	}

	m := make(map[string]string)
	created := 0
	for name, src := range sourceByName {
		srcID := str(src, "id")
		if destID, ok := destByName[name]; ok {
			m[srcID] = destID
			continue
		}
		if !pm.EnsureMissing {
			continue
		}
		destID, err := pm.createProject(ctx, src)
		if err != nil {
			c.Log.Errorf("could not create project %q: %v", name, err)
			continue
		}
		m[srcID] = destID
		created++
	}
	c.Log.Debugf("project mapping: %d mapped, %d created", len(m), created)
	return m, nil
}

func (pm *ProjectMapper) createProject(ctx context.Context, src Record) (string, error) {
	c := pm.ctx
	name := str(src, "name")
	if c.DryRun() {
		c.Log.Infof("[dry run] would create project %q", name)
		return DryRunID(str(src, "id")), nil
	}
	payload := Record{
		"name":        name,
		"description": src["description"],
		"metadata":    src["metadata"],
		"start_time":  src["start_time"],
		"end_time":    src["end_time"],
		"extra":       src["extra"],
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.Dest.PostJSON(ctx, "/sessions", stripNulls(payload), &resp); err != nil {
		return "", err
	}
	c.Log.Successf("created project %q -> %s", name, resp.ID)
	return resp.ID, nil
}

// GetProject fetches one session record from the source.
func GetProject(ctx context.Context, c *Context, projectID string) (Record, error) {
	body, err := c.Source.Get(ctx, "/sessions/"+url.PathEscape(projectID), nil)
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", projectID, err)
	}
	return decodeRecord(body)
}
