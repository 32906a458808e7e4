package session

import (
	"sync"
	"testing"
)

func newState() *State {
	return &State{
		SessionID:      "migration_1700000000",
		SourceURL:      "https://old.example.com/api/v1",
		DestinationURL: "https://new.example.com/api/v1",
		Items:          make(map[string]*Item),
		IDMappings:     make(map[string]map[string]string),
	}
}

func TestAddItemDefaultsPending(t *testing.T) {
	st := newState()
	st.AddItem(&Item{ID: "dataset:d1", Kind: "dataset", Name: "x", SourceID: "d1"})
	if st.Items["dataset:d1"].Status != StatusPending {
		t.Errorf("status = %s, want pending", st.Items["dataset:d1"].Status)
	}
}

func TestAddItemKeepsExisting(t *testing.T) {
	st := newState()
	st.AddItem(&Item{ID: "a", Kind: "dataset", SourceID: "d1"})
	st.UpdateStatus("a", StatusFailed, "", "boom")
	st.AddItem(&Item{ID: "a", Kind: "dataset", SourceID: "d1"})
	if st.Items["a"].Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (re-add must not reset)", st.Items["a"].Attempts)
	}
}

func TestUpdateStatusRecordsMapping(t *testing.T) {
	st := newState()
	st.AddItem(&Item{ID: "a", Kind: "dataset", SourceID: "src-1"})
	st.UpdateStatus("a", StatusCompleted, "dest-1", "")

	dest, ok := st.LookupID("dataset", "src-1")
	if !ok || dest != "dest-1" {
		t.Errorf("LookupID = %q,%v, want dest-1,true", dest, ok)
	}
	item := st.Items["a"]
	if item.Status != StatusCompleted || item.DestinationID != "dest-1" || item.Attempts != 1 {
		t.Errorf("item = %+v", item)
	}
}

func TestMergeIDsNeverReplaces(t *testing.T) {
	st := newState()
	st.MapID("dataset", "s1", "d1")
	st.MergeIDs("dataset", map[string]string{"s2": "d2"})
	if got, _ := st.LookupID("dataset", "s1"); got != "d1" {
		t.Errorf("s1 = %q, want d1 (merge must preserve siblings)", got)
	}
	if got, _ := st.LookupID("dataset", "s2"); got != "d2" {
		t.Errorf("s2 = %q, want d2", got)
	}
}

func TestResumable(t *testing.T) {
	st := newState()
	if st.Resumable() {
		t.Error("empty session should not be resumable")
	}
	st.AddItem(&Item{ID: "a", Kind: "dataset", SourceID: "s"})
	if !st.Resumable() {
		t.Error("pending item should make the session resumable")
	}
	st.UpdateStatus("a", StatusCompleted, "d", "")
	if st.Resumable() {
		t.Error("fully completed session should not be resumable")
	}
	st.AddItem(&Item{ID: "b", Kind: "dataset", SourceID: "s2"})
	st.UpdateStatus("b", StatusFailed, "", "boom")
	if !st.Resumable() {
		t.Error("failed item should make the session resumable")
	}
}

func TestFailedItemsHonorsAttemptCeiling(t *testing.T) {
	st := newState()
	st.AddItem(&Item{ID: "a", Kind: "dataset", SourceID: "s"})
	for i := 0; i < DefaultMaxAttempts; i++ {
		st.UpdateStatus("a", StatusFailed, "", "boom")
	}
	if got := st.FailedItems(DefaultMaxAttempts); len(got) != 0 {
		t.Errorf("items at the ceiling must not be retried, got %d", len(got))
	}
	st.AddItem(&Item{ID: "b", Kind: "dataset", SourceID: "s2"})
	st.UpdateStatus("b", StatusFailed, "", "boom")
	if got := st.FailedItems(DefaultMaxAttempts); len(got) != 1 || got[0].ID != "b" {
		t.Errorf("FailedItems = %v", got)
	}
}

func TestStats(t *testing.T) {
	st := newState()
	st.AddItem(&Item{ID: "a", Kind: "dataset", SourceID: "1"})
	st.AddItem(&Item{ID: "b", Kind: "dataset", SourceID: "2"})
	st.AddItem(&Item{ID: "c", Kind: "prompt", SourceID: "3"})
	st.UpdateStatus("a", StatusCompleted, "d1", "")
	st.UpdateStatus("b", StatusFailed, "", "boom")

	stats := st.Stats()
	if stats.Total != 3 || stats.Completed != 1 || stats.Failed != 1 || stats.Pending != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.ByKind["dataset"].Total != 2 || stats.ByKind["dataset"].Completed != 1 {
		t.Errorf("dataset stats = %+v", stats.ByKind["dataset"])
	}
	wantPct := 100.0 / 3
	if diff := stats.CompletionPercent - wantPct; diff > 0.01 || diff < -0.01 {
		t.Errorf("completion = %f, want %f", stats.CompletionPercent, wantPct)
	}

	st.AddItem(&Item{ID: "d", Kind: "dataset", SourceID: "4"})
	st.UpdateStatus("d", StatusSkipped, "", "")
	if pct := st.Stats().CompletionPercent; pct != 50 {
		t.Errorf("skipped items count as finished, completion = %f", pct)
	}
}

func TestConcurrentMutation(t *testing.T) {
	st := newState()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				st.MapID("run", "src", "dest")
				st.LookupID("run", "src")
				st.Stats()
			}
		}(i)
	}
	wg.Wait()
	if got, _ := st.LookupID("run", "src"); got != "dest" {
		t.Errorf("mapping lost under concurrency: %q", got)
	}
}
