package migrate

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/langchain-ai/langsmith-data-migration-tool/internal/api"
	"github.com/langchain-ai/langsmith-data-migration-tool/internal/config"
	"github.com/langchain-ai/langsmith-data-migration-tool/internal/session"
	"github.com/langchain-ai/langsmith-data-migration-tool/internal/ui"
)

// newTestContext wires a Context against two httptest servers with a
// throwaway session store.
func newTestContext(t *testing.T, source, dest http.Handler, mutate func(*config.Config)) *Context {
	t.Helper()
	srcSrv := httptest.NewServer(source)
	t.Cleanup(srcSrv.Close)
	dstSrv := httptest.NewServer(dest)
	t.Cleanup(dstSrv.Close)

	cfg := &config.Config{
		Source:    config.Connection{APIKey: "src-key", BaseURL: srcSrv.URL, VerifyTLS: true},
		Dest:      config.Connection{APIKey: "dst-key", BaseURL: dstSrv.URL, VerifyTLS: true},
		Migration: config.Migration{BatchSize: 100, Workers: 2, StreamExamples: true, ResumeOnError: true},
	}
	if mutate != nil {
		mutate(cfg)
	}

	store, err := session.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	state, err := store.CreateSession(srcSrv.URL, dstSrv.URL)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	return &Context{
		Cfg:      cfg,
		Source:   &api.Client{BaseURL: srcSrv.URL, APIKey: "src-key", Side: "source", HTTPClient: srcSrv.Client(), MaxRetries: 1},
		Dest:     &api.Client{BaseURL: dstSrv.URL, APIKey: "dst-key", Side: "destination", HTTPClient: dstSrv.Client(), MaxRetries: 1},
		Store:    store,
		State:    state,
		Log:      ui.NewLogger(io.Discard, false),
		Progress: ui.NewProgress(0),
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

// callCounter tracks request counts keyed by "METHOD path".
type callCounter struct {
	mu sync.Mutex
	m  map[string]int
}

func newCallCounter() *callCounter {
	return &callCounter{m: map[string]int{}}
}

func (c *callCounter) hit(r *http.Request) {
	c.mu.Lock()
	c.m[r.Method+" "+r.URL.Path]++
	c.mu.Unlock()
}

func (c *callCounter) count(method, path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[method+" "+path]
}

func readBody(t *testing.T, r *http.Request) []byte {
	t.Helper()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("read request body: %v", err)
	}
	return data
}
