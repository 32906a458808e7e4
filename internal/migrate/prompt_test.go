package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// promptSource serves one repo "me/h" with the commit chain c1 <- c2 <- c3.
func promptSource(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/prompts", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") != "0" {
			writeJSON(t, w, Record{"repos": []Record{}})
			return
		}
		writeJSON(t, w, Record{"repos": []Record{
			{"id": "P1", "repo_handle": "h", "owner": "me", "description": "d"},
		}})
	})
	commits := map[string]Record{
		"latest": {"commit_hash": "c3", "parent_commit_hash": "c2", "manifest": Record{"v": "m3"}},
		"c3":     {"commit_hash": "c3", "parent_commit_hash": "c2", "manifest": Record{"v": "m3"}},
		"c2":     {"commit_hash": "c2", "parent_commit_hash": "c1", "manifest": Record{"v": "m2"}},
		"c1":     {"commit_hash": "c1", "manifest": Record{"v": "m1"}},
	}
	for ref, commit := range commits {
		mux.HandleFunc("/commits/me/h/"+ref, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "true", r.URL.Query().Get("include_model"))
			writeJSON(t, w, commit)
		})
	}
	return mux
}

// promptDest is a destination that records pushed commits and serves its own
// tip back.
type promptDest struct {
	t *testing.T

	mu      sync.Mutex
	pushed  []Record
	repoHit int
}

func (d *promptDest) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/prompts", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		d.repoHit++
		d.mu.Unlock()
		writeJSON(d.t, w, Record{"id": "RD1"})
	})
	mux.HandleFunc("/commits/-/h/latest", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		if len(d.pushed) == 0 {
			w.WriteHeader(http.StatusNotFound)
			writeJSON(d.t, w, Record{"detail": "no commits"})
			return
		}
		writeJSON(d.t, w, Record{"commit_hash": fmt.Sprintf("d%d", len(d.pushed))})
	})
	mux.HandleFunc("/commits/-/h", func(w http.ResponseWriter, r *http.Request) {
		var rec Record
		require.NoError(d.t, json.Unmarshal(readBody(d.t, r), &rec))
		d.mu.Lock()
		d.pushed = append(d.pushed, rec)
		writeJSON(d.t, w, Record{"commit_hash": fmt.Sprintf("d%d", len(d.pushed))})
		d.mu.Unlock()
	})
	return mux
}

func TestMigratePromptReplaysFullChain(t *testing.T) {
	dest := &promptDest{t: t}
	c := newTestContext(t, promptSource(t), dest.handler(), nil)

	opts := DefaultPromptOptions()
	opts.IncludeAllCommits = true
	mapping, err := NewPromptMigrator(c).MigrateAll(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"h": "d3"}, mapping)

	require.Len(t, dest.pushed, 3)
	for i, want := range []string{"m1", "m2", "m3"} {
		manifest := dest.pushed[i]["manifest"].(map[string]interface{})
		require.Equal(t, want, manifest["v"], "commits replay root to tip")
	}
	_, hasParent := dest.pushed[0]["parent_commit"]
	require.False(t, hasParent, "root push has no parent")
	require.Equal(t, "d1", dest.pushed[1]["parent_commit"])
	require.Equal(t, "d2", dest.pushed[2]["parent_commit"])
	require.Equal(t, 1, dest.repoHit)
}

func TestMigratePromptLatestOnly(t *testing.T) {
	dest := &promptDest{t: t}
	c := newTestContext(t, promptSource(t), dest.handler(), nil)

	mapping, err := NewPromptMigrator(c).MigrateAll(context.Background(), DefaultPromptOptions())
	require.NoError(t, err)
	require.Equal(t, map[string]string{"h": "d1"}, mapping)

	require.Len(t, dest.pushed, 1)
	manifest := dest.pushed[0]["manifest"].(map[string]interface{})
	require.Equal(t, "m3", manifest["v"], "only the tip manifest moves")
}

func TestMigratePromptConflictMeansUpToDate(t *testing.T) {
	source := promptSource(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/prompts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, Record{"id": "RD1"})
	})
	mux.HandleFunc("/commits/-/h/latest", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, Record{"commit_hash": "tip"})
	})
	mux.HandleFunc("/commits/-/h", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		writeJSON(t, w, Record{"detail": ""})
	})

	c := newTestContext(t, source, mux, nil)
	_, err := NewPromptMigrator(c).MigrateAll(context.Background(), DefaultPromptOptions())
	require.NoError(t, err, "a detail-free conflict on the tip is not a failure")
}

func TestRepoCoords(t *testing.T) {
	tests := []struct {
		name       string
		repo       Record
		wantOwner  string
		wantHandle string
	}{
		{"explicit fields", Record{"owner": "me", "repo_handle": "h"}, "me", "h"},
		{"from full_name", Record{"full_name": "org/prompt"}, "org", "prompt"},
		{"handle only", Record{"repo_handle": "h"}, "-", "h"},
		{"empty", Record{}, "-", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, handle := repoCoords(tt.repo)
			if owner != tt.wantOwner || handle != tt.wantHandle {
				t.Errorf("repoCoords = (%q, %q), want (%q, %q)", owner, handle, tt.wantOwner, tt.wantHandle)
			}
		})
	}
}
