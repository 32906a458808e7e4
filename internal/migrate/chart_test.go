package migrate

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func chartSource(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/charts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, Record{"sections": []Record{{
			"title":       "latency",
			"description": "p99s",
			"charts": []Record{{
				"id":         "C1",
				"title":      "p99 by project",
				"chart_type": "bar",
				"series": []interface{}{
					map[string]interface{}{
						"name":    "s1",
						"filters": map[string]interface{}{"session": []interface{}{"S1"}},
					},
				},
			}},
		}}})
	})
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []Record{{"id": "S1", "name": "prod"}})
	})
	mux.HandleFunc("/datasets", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []Record{})
	})
	return mux
}

func TestMigrateChartsRecreatesSections(t *testing.T) {
	counter := newCallCounter()
	var created Record
	dest := http.NewServeMux()
	dest.HandleFunc("/charts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, Record{"sections": []Record{}})
	})
	dest.HandleFunc("/charts/section", func(w http.ResponseWriter, r *http.Request) {
		counter.hit(r)
		writeJSON(t, w, Record{"id": "SEC1"})
	})
	dest.HandleFunc("/charts/create", func(w http.ResponseWriter, r *http.Request) {
		counter.hit(r)
		require.NoError(t, json.Unmarshal(readBody(t, r), &created))
		writeJSON(t, w, Record{"id": "CD1"})
	})
	dest.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []Record{{"id": "S1-dest", "name": "prod"}})
	})
	dest.HandleFunc("/datasets", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []Record{})
	})

	c := newTestContext(t, chartSource(t), dest, nil)
	n, err := NewChartMigrator(c).MigrateAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, counter.count("POST", "/charts/section"))

	require.Equal(t, "p99 by project", created["title"])
	require.Equal(t, "bar", created["chart_type"])
	require.Equal(t, "SEC1", created["section_id"])
	series := created["series"].([]interface{})
	filters := series[0].(map[string]interface{})["filters"].(map[string]interface{})
	require.Equal(t, []interface{}{"S1-dest"}, filters["session"],
		"project references inside filters remap")
	_, hasTag := created[sectionTitleKey]
	require.False(t, hasTag, "internal section tags never reach the server")
}

func TestMigrateChartsRetriesWithoutSection(t *testing.T) {
	attempts := 0
	dest := http.NewServeMux()
	dest.HandleFunc("/charts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, Record{"sections": []Record{}})
	})
	dest.HandleFunc("/charts/section", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, Record{"id": "SEC1"})
	})
	dest.HandleFunc("/charts/create", func(w http.ResponseWriter, r *http.Request) {
		var rec Record
		require.NoError(t, json.Unmarshal(readBody(t, r), &rec))
		attempts++
		if _, withSection := rec["section_id"]; withSection {
			w.WriteHeader(http.StatusUnprocessableEntity)
			writeJSON(t, w, Record{"detail": "unknown section"})
			return
		}
		writeJSON(t, w, Record{"id": "CD1"})
	})
	dest.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []Record{{"id": "S1-dest", "name": "prod"}})
	})
	dest.HandleFunc("/datasets", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []Record{})
	})

	c := newTestContext(t, chartSource(t), dest, nil)
	n, err := NewChartMigrator(c).MigrateAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 2, attempts, "rejected section create retries once without the section")
}

func TestMigrateChartsUpdatesExistingInSection(t *testing.T) {
	counter := newCallCounter()
	var patched Record
	dest := http.NewServeMux()
	dest.HandleFunc("/charts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, Record{"sections": []Record{{
			"id": "SEC1", "title": "latency",
			"charts": []Record{{"id": "CD-old", "title": "p99 by project", "section_id": "SEC1"}},
		}}})
	})
	dest.HandleFunc("/charts/CD-old", func(w http.ResponseWriter, r *http.Request) {
		counter.hit(r)
		require.NoError(t, json.Unmarshal(readBody(t, r), &patched))
		writeJSON(t, w, Record{})
	})
	dest.HandleFunc("/charts/create", func(w http.ResponseWriter, r *http.Request) {
		counter.hit(r)
		writeJSON(t, w, Record{"id": "CD-new"})
	})
	dest.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []Record{{"id": "S1-dest", "name": "prod"}})
	})
	dest.HandleFunc("/datasets", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []Record{})
	})

	c := newTestContext(t, chartSource(t), dest, nil)
	n, err := NewChartMigrator(c).MigrateAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Zero(t, counter.count("POST", "/charts/create"))
	require.Equal(t, 1, counter.count("PATCH", "/charts/CD-old"),
		"a chart with the same title in the same section is refreshed in place")
	require.Equal(t, "p99 by project", patched["title"])
}

func TestMigrateChartsTitleMatchesWithinSectionOnly(t *testing.T) {
	counter := newCallCounter()
	dest := http.NewServeMux()
	dest.HandleFunc("/charts", func(w http.ResponseWriter, r *http.Request) {
		// Same title, but parked in a different section.
		writeJSON(t, w, Record{"sections": []Record{{
			"id": "SEC-other", "title": "throughput",
			"charts": []Record{{"id": "CD-old", "title": "p99 by project", "section_id": "SEC-other"}},
		}}})
	})
	dest.HandleFunc("/charts/section", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, Record{"id": "SEC1"})
	})
	dest.HandleFunc("/charts/CD-old", func(w http.ResponseWriter, r *http.Request) {
		counter.hit(r)
		writeJSON(t, w, Record{})
	})
	dest.HandleFunc("/charts/create", func(w http.ResponseWriter, r *http.Request) {
		counter.hit(r)
		writeJSON(t, w, Record{"id": "CD-new"})
	})
	dest.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []Record{{"id": "S1-dest", "name": "prod"}})
	})
	dest.HandleFunc("/datasets", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []Record{})
	})

	c := newTestContext(t, chartSource(t), dest, nil)
	n, err := NewChartMigrator(c).MigrateAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, counter.count("POST", "/charts/create"),
		"a same-titled chart in another section does not swallow the create")
	require.Zero(t, counter.count("PATCH", "/charts/CD-old"))
}

func TestMigrateChartsSkipsUnmappedProject(t *testing.T) {
	source := http.NewServeMux()
	source.HandleFunc("/charts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []Record{{
			"id": "C1", "title": "orphan", "session_id": "S-gone",
			"series": []interface{}{map[string]interface{}{"name": "s"}},
		}})
	})
	emptyListHandler(t, source, "/sessions", "/datasets")

	counter := newCallCounter()
	dest := http.NewServeMux()
	dest.HandleFunc("/charts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, Record{"sections": []Record{}})
	})
	dest.HandleFunc("/charts/create", func(w http.ResponseWriter, r *http.Request) {
		counter.hit(r)
		writeJSON(t, w, Record{"id": "CD1"})
	})
	emptyListHandler(t, dest, "/sessions", "/datasets")

	c := newTestContext(t, source, dest, nil)
	n, err := NewChartMigrator(c).MigrateAll(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, counter.count("POST", "/charts/create"))
}

func TestRewriteChartIDs(t *testing.T) {
	projects := map[string]string{"P1": "P1d"}
	datasets := map[string]string{"D1": "D1d"}
	in := Record{
		"session_id": "P1",
		"series": []interface{}{
			map[string]interface{}{
				"filters": map[string]interface{}{
					"dataset_id": "D1",
					"session":    []interface{}{"P1", "unknown"},
				},
			},
		},
		"metadata": Record{"project_id": "unmapped"},
	}
	got := rewriteChartIDs(in, projects, datasets).(Record)
	if got["session_id"] != "P1d" {
		t.Errorf("session_id = %v", got["session_id"])
	}
	filters := got["series"].([]interface{})[0].(map[string]interface{})["filters"].(map[string]interface{})
	if filters["dataset_id"] != "D1d" {
		t.Errorf("dataset_id = %v", filters["dataset_id"])
	}
	sessions := filters["session"].([]interface{})
	if sessions[0] != "P1d" || sessions[1] != "unknown" {
		t.Errorf("session list = %v", sessions)
	}
	meta := got["metadata"].(Record)
	if meta["project_id"] != "unmapped" {
		t.Errorf("unmapped ids must pass through, got %v", meta["project_id"])
	}
}

func TestExtractSessionID(t *testing.T) {
	tests := []struct {
		name  string
		chart Record
		want  string
	}{
		{"top level session_id", Record{"session_id": "a"}, "a"},
		{"top level project_id", Record{"project_id": "b"}, "b"},
		{"series filters", Record{
			"series": []interface{}{map[string]interface{}{
				"filters": map[string]interface{}{"session": []interface{}{"c"}},
			}},
		}, "c"},
		{"common filters", Record{
			"common_filters": map[string]interface{}{"session": []interface{}{"d"}},
		}, "d"},
		{"none", Record{"title": "x"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractSessionID(tt.chart); got != tt.want {
				t.Errorf("extractSessionID = %q, want %q", got, tt.want)
			}
		})
	}
}
