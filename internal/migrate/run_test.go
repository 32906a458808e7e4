package migrate

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrateRunsRebuildsTraceTree(t *testing.T) {
	sourceRuns := []Record{
		{
			"id": "uuid-r", "trace_id": "uuid-r", "session_id": "S1",
			"name": "root", "run_type": "chain",
			"dotted_order": "20240101t000000000001Zuuid-r",
		},
		{
			"id": "uuid-a", "trace_id": "uuid-r", "parent_run_id": "uuid-r",
			"session_id": "S1", "name": "child", "run_type": "chain",
			"dotted_order": "20240101t000000000001Zuuid-r.20240101t000000000002Zuuid-a",
		},
		{
			"id": "uuid-b", "trace_id": "uuid-r", "parent_run_id": "uuid-a",
			"session_id": "S1", "name": "grandchild", "run_type": "llm",
			"reference_example_id": "E1",
			"dotted_order":         "20240101t000000000001Zuuid-r.20240101t000000000002Zuuid-a.20240101t000000000003Zuuid-b",
		},
	}

	source := http.NewServeMux()
	source.HandleFunc("/runs/query", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, Record{"runs": sourceRuns, "cursors": Record{"next": ""}})
	})

	var posted []Record
	dest := http.NewServeMux()
	dest.HandleFunc("/runs/batch", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Post []Record `json:"post"`
		}
		require.NoError(t, json.Unmarshal(readBody(t, r), &body))
		posted = append(posted, body.Post...)
		writeJSON(t, w, Record{})
	})

	c := newTestContext(t, source, dest, nil)
	n, err := NewRunMigrator(c).MigrateForExperiments(context.Background(),
		map[string]string{"S1": "S1-dest"}, map[string]string{"E1": "EE1"})
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Len(t, posted, 3)

	// Sorted by dotted order: root, child, grandchild.
	root, child, grand := posted[0], posted[1], posted[2]
	newR, newA, newB := str(root, "id"), str(child, "id"), str(grand, "id")

	for _, run := range posted {
		require.NotContains(t, []string{"uuid-r", "uuid-a", "uuid-b"}, str(run, "id"),
			"every run gets a fresh id")
		require.Equal(t, "S1-dest", str(run, "session_id"))
		require.Equal(t, newR, str(run, "trace_id"), "whole tree shares the root's new id")
		segs := strings.Split(str(run, "dotted_order"), ".")
		last := segs[len(segs)-1]
		require.Equal(t, str(run, "id"), last[strings.IndexByte(last, 'Z')+1:],
			"last dotted segment carries the run's own id")
	}

	require.Equal(t, newR, str(root, "trace_id"))
	require.Empty(t, str(root, "parent_run_id"))
	require.Equal(t, newR, str(child, "parent_run_id"))
	require.Equal(t, newA, str(grand, "parent_run_id"))
	require.Equal(t,
		"20240101t000000000001Z"+newR+".20240101t000000000002Z"+newA+".20240101t000000000003Z"+newB,
		str(grand, "dotted_order"))
	require.Equal(t, "EE1", str(grand, "reference_example_id"))

	require.Equal(t, map[string]string{
		"uuid-r": newR, "uuid-a": newA, "uuid-b": newB,
	}, c.IDMap(KindRun))
}

func TestMigrateRunsSkipsUnmappedSessions(t *testing.T) {
	source := http.NewServeMux()
	source.HandleFunc("/runs/query", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, Record{"runs": []Record{
			{"id": "uuid-1", "trace_id": "uuid-1", "session_id": "S1",
				"dotted_order": "t1Zuuid-1"},
			{"id": "uuid-2", "trace_id": "uuid-2", "session_id": "other",
				"dotted_order": "t1Zuuid-2"},
		}, "cursors": Record{"next": ""}})
	})

	var posted []Record
	dest := http.NewServeMux()
	dest.HandleFunc("/runs/batch", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Post []Record `json:"post"`
		}
		require.NoError(t, json.Unmarshal(readBody(t, r), &body))
		posted = append(posted, body.Post...)
		writeJSON(t, w, Record{})
	})

	c := newTestContext(t, source, dest, nil)
	n, err := NewRunMigrator(c).MigrateForExperiments(context.Background(),
		map[string]string{"S1": "S1-dest"}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, posted, 1)
	require.Equal(t, "S1-dest", str(posted[0], "session_id"))
}

func TestFetchRunsFollowsCursor(t *testing.T) {
	pages := map[string]Record{
		"": {
			"runs":    []Record{{"id": "uuid-1", "session_id": "S1", "dotted_order": "t1Zuuid-1"}},
			"cursors": Record{"next": "page2"},
		},
		"page2": {
			"runs":    []Record{{"id": "uuid-2", "session_id": "S1", "dotted_order": "t2Zuuid-2"}},
			"cursors": Record{"next": ""},
		},
	}
	source := http.NewServeMux()
	source.HandleFunc("/runs/query", func(w http.ResponseWriter, r *http.Request) {
		var body Record
		require.NoError(t, json.Unmarshal(readBody(t, r), &body))
		writeJSON(t, w, pages[str(body, "cursor")])
	})

	c := newTestContext(t, source, http.NewServeMux(), nil)
	runs, err := NewRunMigrator(c).fetchRuns(context.Background(), []string{"S1"})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "uuid-1", str(runs[0], "id"))
	require.Equal(t, "uuid-2", str(runs[1], "id"))
}

func TestRewriteDottedOrder(t *testing.T) {
	idMap := map[string]string{"old-root": "new-root", "old-mid": "new-mid"}

	t.Run("maps every segment and forces the last", func(t *testing.T) {
		got := rewriteDottedOrder("t1Zold-root.t2Zold-mid.t3Zold-leaf", idMap, "own-id")
		if got != "t1Znew-root.t2Znew-mid.t3Zown-id" {
			t.Errorf("rewriteDottedOrder = %q", got)
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		first := rewriteDottedOrder("t1Zold-root.t2Zold-leaf", idMap, "own")
		second := rewriteDottedOrder("t1Zold-root.t2Zold-leaf", idMap, "own")
		if first != second {
			t.Errorf("%q != %q", first, second)
		}
	})

	t.Run("unknown interior segments kept", func(t *testing.T) {
		got := rewriteDottedOrder("t1Zmystery.t2Zold-leaf", idMap, "own")
		if got != "t1Zmystery.t2Zown" {
			t.Errorf("rewriteDottedOrder = %q", got)
		}
	})

	t.Run("empty order stays empty", func(t *testing.T) {
		if got := rewriteDottedOrder("", idMap, "own"); got != "" {
			t.Errorf("rewriteDottedOrder = %q", got)
		}
	})
}
