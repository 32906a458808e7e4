package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/langchain-ai/langsmith-data-migration-tool/internal/api"
	"github.com/langchain-ai/langsmith-data-migration-tool/internal/session"
)

// Keys added to fetched charts to remember which dashboard section they
// came from; stripped before create.
const (
	sectionTitleKey = "_source_section_title"
	sectionDescKey  = "_source_section_description"
)

// ChartMigrator copies custom dashboard charts, recreating their sections
// and rewriting embedded project and dataset references.
type ChartMigrator struct {
	ctx *Context
}

func NewChartMigrator(c *Context) *ChartMigrator {
	return &ChartMigrator{ctx: c}
}

// chartsQueryBody is the read payload for the charts endpoint; data points
// are omitted since only definitions move.
func chartsQueryBody() Record {
	return Record{
		"timezone":     "UTC",
		"omit_data":    true,
		"start_time":   time.Now().UTC().Add(-24 * time.Hour).Format(time.RFC3339),
		"end_time":     nil,
		"stride":       Record{"days": 0, "hours": 0, "minutes": 15},
		"after_index":  nil,
		"tag_value_id": nil,
	}
}

// fetchCharts reads one side's chart definitions. Charts inside sections are
// tagged with their section's title and description.
func fetchCharts(ctx context.Context, client *api.Client) ([]Record, error) {
	body, err := client.Post(ctx, "/charts", chartsQueryBody())
	if err != nil {
		return nil, fmt.Errorf("fetch charts: %w", err)
	}

	var asList []Record
	if err := json.Unmarshal(body, &asList); err == nil {
		return asList, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("fetch charts: undecodable body")
	}
	if raw, ok := probe["sections"]; ok {
		var sections []struct {
			Title       string   `json:"title"`
			Description string   `json:"description"`
			Charts      []Record `json:"charts"`
		}
		if err := json.Unmarshal(raw, &sections); err != nil {
			return nil, fmt.Errorf("fetch charts: bad sections: %w", err)
		}
		var charts []Record
		for _, sec := range sections {
			for _, chart := range sec.Charts {
				chart[sectionTitleKey] = sec.Title
				chart[sectionDescKey] = sec.Description
				charts = append(charts, chart)
			}
		}
		return charts, nil
	}
	if raw, ok := probe["charts"]; ok {
		var charts []Record
		if err := json.Unmarshal(raw, &charts); err != nil {
			return nil, fmt.Errorf("fetch charts: bad chart list: %w", err)
		}
		return charts, nil
	}

	var single Record
	if err := json.Unmarshal(body, &single); err == nil && len(single) > 0 {
		return []Record{single}, nil
	}
	return nil, nil
}

// destSections maps existing destination section titles to IDs.
func (m *ChartMigrator) destSections(ctx context.Context) (map[string]string, error) {
	body, err := m.ctx.Dest.Post(ctx, "/charts", chartsQueryBody())
	if err != nil {
		return nil, fmt.Errorf("list destination sections: %w", err)
	}
	var shaped struct {
		Sections []struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"sections"`
	}
	sections := map[string]string{}
	if err := json.Unmarshal(body, &shaped); err != nil {
		return sections, nil
	}
	for _, sec := range shaped.Sections {
		if sec.Title != "" && sec.ID != "" {
			sections[sec.Title] = sec.ID
		}
	}
	return sections, nil
}

// ensureSection returns the destination section ID for a title, creating
// the section on first use.
func (m *ChartMigrator) ensureSection(ctx context.Context, title, description string, sections map[string]string) (string, error) {
	if title == "" {
		return "", nil
	}
	if id, ok := sections[title]; ok {
		return id, nil
	}
	if m.ctx.DryRun() {
		id := DryRunID("section-" + title)
		sections[title] = id
		return id, nil
	}
	var resp struct {
		ID string `json:"id"`
	}
	payload := Record{"title": title, "description": description, "index": 0}
	if err := m.ctx.Dest.PostJSON(ctx, "/charts/section", payload, &resp); err != nil {
		return "", fmt.Errorf("create section %q: %w", title, err)
	}
	sections[title] = resp.ID
	m.ctx.MapID(KindSection, title, resp.ID)
	return resp.ID, nil
}

// MigrateAll moves every chart definition. Returns the number migrated.
func (m *ChartMigrator) MigrateAll(ctx context.Context) (int, error) {
	c := m.ctx
	charts, err := fetchCharts(ctx, c.Source)
	if err != nil {
		return 0, err
	}
	if len(charts) == 0 {
		return 0, nil
	}

	pm := NewProjectMapper(c)
	projectMap, err := pm.Mapping(ctx)
	if err != nil {
		return 0, fmt.Errorf("project mapping: %w", err)
	}
	datasetMap, err := NewDatasetMapper(c).Mapping(ctx)
	if err != nil {
		return 0, fmt.Errorf("dataset mapping: %w", err)
	}

	sections := map[string]string{}
	destByKey := map[string]string{}
	if !c.DryRun() {
		sections, err = m.destSections(ctx)
		if err != nil {
			return 0, err
		}
		destCharts, err := fetchCharts(ctx, c.Dest)
		if err != nil {
			c.Log.Warnf("could not list destination charts, updates become creates: %v", err)
		}
		for _, chart := range destCharts {
			title, id := str(chart, "title"), str(chart, "id")
			if title == "" || id == "" {
				continue
			}
			secID := str(chart, "section_id")
			if secID == "" {
				secID = sections[str(chart, sectionTitleKey)]
			}
			destByKey[chartKey(title, secID)] = id
		}
	}

	migrated, skipped, failed := 0, 0, 0
	for _, chart := range charts {
		id, title := str(chart, "id"), str(chart, "title")
		itemID := c.TrackItem(KindChart, id, title)

		if sessionID := extractSessionID(chart); sessionID != "" {
			if _, ok := projectMap[sessionID]; !ok {
				c.Log.Warnf("chart %q skipped: project %s has no destination mapping", title, sessionID)
				c.FinishItem(itemID, session.StatusSkipped, "", nil)
				skipped++
				continue
			}
		}
		if chart["series"] == nil {
			c.Log.Warnf("chart %q skipped: no series", title)
			c.FinishItem(itemID, session.StatusSkipped, "", nil)
			skipped++
			continue
		}

		sectionID, err := m.ensureSection(ctx, str(chart, sectionTitleKey), str(chart, sectionDescKey), sections)
		if err != nil {
			c.Log.Errorf("chart %q: %v", title, err)
			c.FinishItem(itemID, session.StatusFailed, "", err)
			failed++
			continue
		}

		payload := m.buildPayload(chart, sectionID, projectMap, datasetMap)
		if c.DryRun() {
			c.Log.Infof("[dry run] would migrate chart %q", title)
			c.FinishItem(itemID, session.StatusCompleted, DryRunID(id), nil)
			migrated++
			continue
		}

		destID, err := m.upsert(ctx, title, sectionID, payload, destByKey)
		if err != nil {
			c.Log.Errorf("could not migrate chart %q: %v", title, err)
			c.FinishItem(itemID, session.StatusFailed, "", err)
			failed++
			continue
		}
		c.Log.Successf("migrated chart %q", title)
		if destID != "" {
			c.MapID(KindChart, id, destID)
		}
		c.FinishItem(itemID, session.StatusCompleted, destID, nil)
		migrated++
	}
	c.Metrics.Migrated(ctx, string(KindChart), int64(migrated))
	c.Log.Infof("charts: %d migrated, %d skipped, %d failed", migrated, skipped, failed)
	if failed > 0 {
		return migrated, fmt.Errorf("%d of %d charts failed", failed, len(charts))
	}
	return migrated, nil
}

func (m *ChartMigrator) buildPayload(chart Record, sectionID string, projectMap, datasetMap map[string]string) Record {
	chartType := str(chart, "chart_type")
	if chartType == "" {
		chartType = "line"
	}
	payload := Record{
		"title":          chart["title"],
		"chart_type":     chartType,
		"series":         chart["series"],
		"description":    chart["description"],
		"index":          chart["index"],
		"metadata":       chart["metadata"],
		"common_filters": chart["common_filters"],
	}
	if sectionID != "" {
		payload["section_id"] = sectionID
	}
	rewritten := rewriteChartIDs(payload, projectMap, datasetMap)
	return stripNulls(rewritten).(Record)
}

// chartKey is the destination matching key: a chart title only matches
// within the same section.
func chartKey(title, sectionID string) string {
	return title + "\x00" + sectionID
}

// upsert patches the chart matching (title, section) or creates a new one. A
// rejected create that carried a section_id is retried once without it;
// section IDs do not always validate across workspaces.
func (m *ChartMigrator) upsert(ctx context.Context, title, sectionID string, payload Record, destByKey map[string]string) (string, error) {
	c := m.ctx
	if destID, ok := destByKey[chartKey(title, sectionID)]; ok {
		if c.SkipExisting() {
			c.Log.Debugf("chart %q already exists, skipping", title)
			return destID, nil
		}
		if _, err := c.Dest.Patch(ctx, "/charts/"+url.PathEscape(destID), payload); err != nil {
			return "", fmt.Errorf("update chart: %w", err)
		}
		return destID, nil
	}
	var resp struct {
		ID string `json:"id"`
	}
	err := c.Dest.PostJSON(ctx, "/charts/create", payload, &resp)
	if err != nil && payload["section_id"] != nil {
		c.Log.Debugf("chart %q rejected with section, retrying without: %v", title, err)
		retry, rerr := deepCopy(payload)
		if rerr != nil {
			return "", err
		}
		delete(retry, "section_id")
		err = c.Dest.PostJSON(ctx, "/charts/create", retry, &resp)
	}
	if err != nil {
		return "", fmt.Errorf("create chart: %w", err)
	}
	return resp.ID, nil
}

// rewriteChartIDs walks the chart tree and maps every embedded project or
// dataset reference. Keys handled: project_id/session_id, dataset_id, and
// "session" filter lists.
func rewriteChartIDs(v interface{}, projectMap, datasetMap map[string]string) interface{} {
	switch t := v.(type) {
	case Record:
		out := make(Record, len(t))
		for k, val := range t {
			switch k {
			case "project_id", "session_id":
				if id, ok := val.(string); ok {
					if mapped, found := projectMap[id]; found {
						out[k] = mapped
						continue
					}
				}
			case "dataset_id":
				if id, ok := val.(string); ok {
					if mapped, found := datasetMap[id]; found {
						out[k] = mapped
						continue
					}
				}
			case "session":
				if list, ok := val.([]interface{}); ok {
					mappedList := make([]interface{}, len(list))
					for i, elem := range list {
						if id, isStr := elem.(string); isStr {
							if mapped, found := projectMap[id]; found {
								mappedList[i] = mapped
								continue
							}
						}
						mappedList[i] = elem
					}
					out[k] = mappedList
					continue
				}
			}
			out[k] = rewriteChartIDs(val, projectMap, datasetMap)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, elem := range t {
			out[i] = rewriteChartIDs(elem, projectMap, datasetMap)
		}
		return out
	default:
		return v
	}
}

// extractSessionID finds the project a chart is scoped to: top-level IDs
// first, then per-series filters, then common filters.
func extractSessionID(chart Record) string {
	if id := firstStr(chart, "session_id", "project_id"); id != "" {
		return id
	}
	if series, ok := chart["series"].([]interface{}); ok {
		for _, raw := range series {
			s, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			filters, ok := s["filters"].(map[string]interface{})
			if !ok {
				continue
			}
			if id := sessionFromFilters(filters); id != "" {
				return id
			}
		}
	}
	if common, ok := chart["common_filters"].(map[string]interface{}); ok {
		return sessionFromFilters(common)
	}
	return ""
}

func sessionFromFilters(filters map[string]interface{}) string {
	if id := str(filters, "session_id"); id != "" {
		return id
	}
	if list, ok := filters["session"].([]interface{}); ok && len(list) > 0 {
		if id, ok := list[0].(string); ok {
			return id
		}
	}
	return ""
}
