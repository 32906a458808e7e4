// Package session tracks per-run migration state: the items being migrated,
// their statuses, and the cross-kind ID maps. State persists as one JSON
// file per session so interrupted runs can be resumed.
package session

import (
	"sync"
	"time"
)

// Status of a migration item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// DefaultMaxAttempts bounds how often resume retries a failed item.
const DefaultMaxAttempts = 3

// Item is one tracked resource in a migration session.
type Item struct {
	ID            string                 `json:"id"`
	Kind          string                 `json:"type"`
	Name          string                 `json:"name"`
	SourceID      string                 `json:"source_id"`
	DestinationID string                 `json:"destination_id,omitempty"`
	Status        Status                 `json:"status"`
	Error         string                 `json:"error,omitempty"`
	Attempts      int                    `json:"attempts"`
	LastAttempt   float64                `json:"last_attempt,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// State is one migration session. All mutation goes through methods holding
// the single coarse lock; map updates merge, never replace wholesale.
type State struct {
	mu sync.Mutex

	SessionID      string                       `json:"session_id"`
	StartedAt      float64                      `json:"started_at"`
	UpdatedAt      float64                      `json:"updated_at"`
	SourceURL      string                       `json:"source_url"`
	DestinationURL string                       `json:"destination_url"`
	Items          map[string]*Item             `json:"items"`
	IDMappings     map[string]map[string]string `json:"id_mappings"`
	Statistics     *Stats                       `json:"statistics,omitempty"`
}

// Stats are derived counts, computed on read and embedded on save for
// human inspection of the state file.
type Stats struct {
	Total             int                  `json:"total"`
	Completed         int                  `json:"completed"`
	Failed            int                  `json:"failed"`
	Pending           int                  `json:"pending"`
	InProgress        int                  `json:"in_progress"`
	Skipped           int                  `json:"skipped"`
	ByKind            map[string]KindStats `json:"by_type"`
	CompletionPercent float64              `json:"completion_percentage"`
	ElapsedSeconds    float64              `json:"elapsed_time"`
}

// KindStats are the per-kind counts inside Stats.
type KindStats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
	Skipped   int `json:"skipped"`
}

func unixSeconds() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// AddItem registers an item for tracking. Re-adding an existing ID keeps the
// prior record (so resume does not reset attempt counts).
func (s *State) AddItem(item *Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Items == nil {
		s.Items = make(map[string]*Item)
	}
	if _, ok := s.Items[item.ID]; ok {
		return
	}
	if item.Status == "" {
		item.Status = StatusPending
	}
	s.Items[item.ID] = item
	s.UpdatedAt = unixSeconds()
}

// UpdateStatus records the outcome of an attempt on an item. A non-empty
// destID also records the source→destination mapping for the item's kind.
func (s *State) UpdateStatus(itemID string, status Status, destID, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.Items[itemID]
	if !ok {
		return
	}
	item.Status = status
	item.Attempts++
	item.LastAttempt = unixSeconds()
	if destID != "" {
		item.DestinationID = destID
		s.mapIDLocked(item.Kind, item.SourceID, destID)
	}
	if errMsg != "" {
		item.Error = errMsg
	}
	s.UpdatedAt = unixSeconds()
}

func (s *State) mapIDLocked(kind, sourceID, destID string) {
	if s.IDMappings == nil {
		s.IDMappings = make(map[string]map[string]string)
	}
	m, ok := s.IDMappings[kind]
	if !ok {
		m = make(map[string]string)
		s.IDMappings[kind] = m
	}
	m[sourceID] = destID
}

// MapID records a source→destination mapping for a kind.
func (s *State) MapID(kind, sourceID, destID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mapIDLocked(kind, sourceID, destID)
	s.UpdatedAt = unixSeconds()
}

// LookupID resolves a source ID through the kind's map.
func (s *State) LookupID(kind, sourceID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.IDMappings[kind]
	if !ok {
		return "", false
	}
	dest, ok := m[sourceID]
	return dest, ok
}

// IDMap returns a copy of the kind's source→destination map.
func (s *State) IDMap(kind string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.IDMappings[kind]))
	for k, v := range s.IDMappings[kind] {
		out[k] = v
	}
	return out
}

// MergeIDs merges mappings into the kind's map without replacing existing
// entries' siblings.
func (s *State) MergeIDs(kind string, mappings map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for src, dest := range mappings {
		s.mapIDLocked(kind, src, dest)
	}
	s.UpdatedAt = unixSeconds()
}

// PendingItems returns items still pending, optionally filtered by kind
// (empty kind means all).
func (s *State) PendingItems(kind string) []*Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Item
	for _, item := range s.Items {
		if item.Status == StatusPending && (kind == "" || item.Kind == kind) {
			out = append(out, item)
		}
	}
	return out
}

// FailedItems returns failed items below the attempt ceiling.
func (s *State) FailedItems(maxAttempts int) []*Item {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Item
	for _, item := range s.Items {
		if item.Status == StatusFailed && item.Attempts < maxAttempts {
			out = append(out, item)
		}
	}
	return out
}

// Resumable reports whether the session still has work: pending or failed
// items.
func (s *State) Resumable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.Items {
		if item.Status == StatusPending || item.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Stats computes the derived counts.
func (s *State) Stats() *Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

func (s *State) statsLocked() *Stats {
	stats := &Stats{ByKind: make(map[string]KindStats)}
	for _, item := range s.Items {
		stats.Total++
		ks := stats.ByKind[item.Kind]
		ks.Total++
		switch item.Status {
		case StatusCompleted:
			stats.Completed++
			ks.Completed++
		case StatusFailed:
			stats.Failed++
			ks.Failed++
		case StatusPending:
			stats.Pending++
			ks.Pending++
		case StatusInProgress:
			stats.InProgress++
		case StatusSkipped:
			stats.Skipped++
			ks.Skipped++
		}
		stats.ByKind[item.Kind] = ks
	}
	// Skipped items are finished work: a fully skipped re-run reads 100%.
	if stats.Total > 0 {
		stats.CompletionPercent = float64(stats.Completed+stats.Skipped) / float64(stats.Total) * 100
	}
	stats.ElapsedSeconds = s.UpdatedAt - s.StartedAt
	return stats
}
