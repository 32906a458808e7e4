package migrate

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/langchain-ai/langsmith-data-migration-tool/internal/canonical"
	"github.com/langchain-ai/langsmith-data-migration-tool/internal/config"
)

// sourceWithOneExample serves dataset D1 ("x") holding one example E1 with
// the given outputs.
func sourceWithOneExample(t *testing.T, outputs string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/datasets/D1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, Record{"id": "D1", "name": "x"})
	})
	mux.HandleFunc("/examples", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") != "0" {
			writeJSON(t, w, []Record{})
			return
		}
		writeJSON(t, w, []Record{{
			"id":         "E1",
			"dataset_id": "D1",
			"inputs":     Record{"q": 1},
			"outputs":    json.RawMessage(outputs),
		}})
	})
	return mux
}

func TestMigrateDatasetCreatesExample(t *testing.T) {
	counter := newCallCounter()
	var bulkItems []Record

	dest := http.NewServeMux()
	dest.HandleFunc("/datasets", func(w http.ResponseWriter, r *http.Request) {
		counter.hit(r)
		if r.Method == http.MethodGet {
			writeJSON(t, w, []Record{})
			return
		}
		writeJSON(t, w, Record{"id": "DD1"})
	})
	dest.HandleFunc("/examples", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []Record{})
	})
	dest.HandleFunc("/examples/bulk", func(w http.ResponseWriter, r *http.Request) {
		counter.hit(r)
		require.NoError(t, json.Unmarshal(readBody(t, r), &bulkItems))
		writeJSON(t, w, []Record{{"id": "EE1"}})
	})

	c := newTestContext(t, sourceWithOneExample(t, `{"a":2}`), dest, nil)
	destID, err := NewDatasetMigrator(c).Migrate(context.Background(), "D1", DatasetOptions{IncludeExamples: true})
	require.NoError(t, err)
	require.Equal(t, "DD1", destID)

	require.Equal(t, map[string]string{"D1": "DD1"}, c.IDMap(KindDataset))
	require.Equal(t, map[string]string{"E1": "EE1"}, c.IDMap(KindExample))

	require.Len(t, bulkItems, 1)
	wantHash, err := canonical.Hash(json.RawMessage(`{"q":1}`))
	require.NoError(t, err)
	gotHash, err := canonical.Hash(bulkItems[0]["inputs"])
	require.NoError(t, err)
	require.Equal(t, wantHash, gotHash, "example inputs must survive byte-for-byte up to canonical form")
	require.Equal(t, "base", bulkItems[0]["split"], "split defaults to base")
}

func TestMigrateDatasetSkipExistingIsIdempotent(t *testing.T) {
	counter := newCallCounter()

	dest := http.NewServeMux()
	dest.HandleFunc("/datasets", func(w http.ResponseWriter, r *http.Request) {
		counter.hit(r)
		writeJSON(t, w, []Record{{"id": "DD1", "name": "x"}})
	})
	dest.HandleFunc("/examples", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") != "0" {
			writeJSON(t, w, []Record{})
			return
		}
		writeJSON(t, w, []Record{{"id": "EE1", "inputs": Record{"q": 1}}})
	})
	dest.HandleFunc("/examples/bulk", func(w http.ResponseWriter, r *http.Request) {
		counter.hit(r)
		writeJSON(t, w, []Record{})
	})

	c := newTestContext(t, sourceWithOneExample(t, `{"a":2}`), dest, func(cfg *config.Config) {
		cfg.Migration.SkipExisting = true
	})
	destID, err := NewDatasetMigrator(c).Migrate(context.Background(), "D1", DatasetOptions{IncludeExamples: true})
	require.NoError(t, err)
	require.Equal(t, "DD1", destID)

	require.Zero(t, counter.count("POST", "/datasets"), "existing dataset must not be re-created")
	require.Zero(t, counter.count("POST", "/examples/bulk"), "matching example must not be re-posted")
	require.Equal(t, map[string]string{"D1": "DD1"}, c.IDMap(KindDataset))
	require.Equal(t, map[string]string{"E1": "EE1"}, c.IDMap(KindExample))
	require.Equal(t, 100.0, c.State.Stats().CompletionPercent)
}

func TestMigrateDatasetUpdatesChangedExample(t *testing.T) {
	counter := newCallCounter()
	var patched Record

	dest := http.NewServeMux()
	dest.HandleFunc("/datasets", func(w http.ResponseWriter, r *http.Request) {
		counter.hit(r)
		writeJSON(t, w, []Record{{"id": "DD1", "name": "x"}})
	})
	dest.HandleFunc("/datasets/DD1", func(w http.ResponseWriter, r *http.Request) {
		counter.hit(r)
		writeJSON(t, w, Record{})
	})
	dest.HandleFunc("/examples", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") != "0" {
			writeJSON(t, w, []Record{})
			return
		}
		writeJSON(t, w, []Record{{"id": "EE1", "inputs": Record{"q": 1}}})
	})
	dest.HandleFunc("/examples/EE1", func(w http.ResponseWriter, r *http.Request) {
		counter.hit(r)
		require.NoError(t, json.Unmarshal(readBody(t, r), &patched))
		writeJSON(t, w, Record{})
	})
	dest.HandleFunc("/examples/bulk", func(w http.ResponseWriter, r *http.Request) {
		counter.hit(r)
		writeJSON(t, w, []Record{})
	})

	c := newTestContext(t, sourceWithOneExample(t, `{"a":3}`), dest, nil)
	_, err := NewDatasetMigrator(c).Migrate(context.Background(), "D1", DatasetOptions{IncludeExamples: true})
	require.NoError(t, err)

	require.Equal(t, 1, counter.count("PATCH", "/examples/EE1"), "changed example must be patched in place")
	require.Zero(t, counter.count("POST", "/examples/bulk"), "no new example may be created")
	require.Equal(t, map[string]interface{}{"a": float64(3)}, patched["outputs"])
}

func TestMigrateDatasetHonorsChunkSize(t *testing.T) {
	var sourceLimit string
	source := http.NewServeMux()
	source.HandleFunc("/datasets/D1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, Record{"id": "D1", "name": "x"})
	})
	source.HandleFunc("/examples", func(w http.ResponseWriter, r *http.Request) {
		sourceLimit = r.URL.Query().Get("limit")
		writeJSON(t, w, []Record{})
	})

	dest := http.NewServeMux()
	dest.HandleFunc("/datasets", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			writeJSON(t, w, []Record{})
			return
		}
		writeJSON(t, w, Record{"id": "DD1"})
	})
	dest.HandleFunc("/examples", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []Record{})
	})

	c := newTestContext(t, source, dest, func(cfg *config.Config) {
		cfg.Migration.ChunkSize = 7
	})
	_, err := NewDatasetMigrator(c).Migrate(context.Background(), "D1", DatasetOptions{IncludeExamples: true})
	require.NoError(t, err)
	require.Equal(t, "7", sourceLimit, "chunk_size overrides the batch size for example pages")
}

func TestMigrateDatasetCollectsWhenStreamingOff(t *testing.T) {
	var bulkItems []Record
	dest := http.NewServeMux()
	dest.HandleFunc("/datasets", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			writeJSON(t, w, []Record{})
			return
		}
		writeJSON(t, w, Record{"id": "DD1"})
	})
	dest.HandleFunc("/examples", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []Record{})
	})
	dest.HandleFunc("/examples/bulk", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.Unmarshal(readBody(t, r), &bulkItems))
		writeJSON(t, w, []Record{{"id": "EE1"}})
	})

	c := newTestContext(t, sourceWithOneExample(t, `{"a":2}`), dest, func(cfg *config.Config) {
		cfg.Migration.StreamExamples = false
	})
	_, err := NewDatasetMigrator(c).Migrate(context.Background(), "D1", DatasetOptions{IncludeExamples: true})
	require.NoError(t, err)
	require.Len(t, bulkItems, 1, "collect-first mode still moves every example")
}

func TestMigrateDatasetWithoutExamples(t *testing.T) {
	source := http.NewServeMux()
	source.HandleFunc("/datasets/D1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, Record{"id": "D1", "name": "empty"})
	})
	source.HandleFunc("/examples", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []Record{})
	})

	counter := newCallCounter()
	dest := http.NewServeMux()
	dest.HandleFunc("/datasets", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			writeJSON(t, w, []Record{})
			return
		}
		writeJSON(t, w, Record{"id": "DD1"})
	})
	dest.HandleFunc("/examples/bulk", func(w http.ResponseWriter, r *http.Request) {
		counter.hit(r)
		writeJSON(t, w, []Record{})
	})

	c := newTestContext(t, source, dest, nil)
	destID, err := NewDatasetMigrator(c).Migrate(context.Background(), "D1", DatasetOptions{IncludeExamples: true})
	require.NoError(t, err)
	require.Equal(t, "DD1", destID)
	require.Zero(t, counter.count("POST", "/examples/bulk"))
}

func TestFindExistingWarnsOnDuplicates(t *testing.T) {
	source := http.NewServeMux()
	dest := http.NewServeMux()
	dest.HandleFunc("/datasets", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []Record{{"id": "first", "name": "x"}, {"id": "second", "name": "x"}})
	})

	c := newTestContext(t, source, dest, nil)
	id, err := NewDatasetMigrator(c).FindExisting(context.Background(), "x")
	require.NoError(t, err)
	require.Equal(t, "first", id, "first match wins on duplicate names")
}

func TestDryRunCreatesNothing(t *testing.T) {
	counter := newCallCounter()
	dest := http.NewServeMux()
	dest.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		counter.hit(r)
		if r.Method == http.MethodGet {
			writeJSON(t, w, []Record{})
			return
		}
		writeJSON(t, w, Record{})
	})

	c := newTestContext(t, sourceWithOneExample(t, `{"a":2}`), dest, func(cfg *config.Config) {
		cfg.Migration.DryRun = true
	})
	destID, err := NewDatasetMigrator(c).Migrate(context.Background(), "D1", DatasetOptions{IncludeExamples: true})
	require.NoError(t, err)
	require.Equal(t, DryRunID("D1"), destID)
	require.Zero(t, counter.count("POST", "/datasets"))
	require.Zero(t, counter.count("POST", "/examples/bulk"))
}
