package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const sessionPrefix = "migration_"

// Store persists sessions as JSON files under a state directory.
type Store struct {
	Dir string
}

// DefaultDir returns ~/.langsmith-migrator/state.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".langsmith-migrator", "state"), nil
}

// NewStore creates a store rooted at dir, creating the directory if needed.
// An empty dir selects the default location.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		var err error
		dir, err = DefaultDir()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &Store{Dir: dir}, nil
}

// CreateSession starts a new session and writes its initial file.
func (s *Store) CreateSession(sourceURL, destURL string) (*State, error) {
	now := unixSeconds()
	st := &State{
		SessionID:      fmt.Sprintf("%s%d", sessionPrefix, time.Now().Unix()),
		StartedAt:      now,
		UpdatedAt:      now,
		SourceURL:      sourceURL,
		DestinationURL: destURL,
		Items:          make(map[string]*Item),
		IDMappings:     make(map[string]map[string]string),
	}
	if err := s.Save(st); err != nil {
		return nil, err
	}
	return st, nil
}

// Load reads a session by ID. A missing file returns (nil, nil).
func (s *Store) Load(sessionID string) (*State, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", sessionID, err)
	}
	return &st, nil
}

// Summary is a session listing entry.
type Summary struct {
	SessionID      string  `json:"session_id"`
	StartedAt      float64 `json:"started_at"`
	UpdatedAt      float64 `json:"updated_at"`
	SourceURL      string  `json:"source_url"`
	DestinationURL string  `json:"destination_url"`
	Statistics     *Stats  `json:"statistics,omitempty"`
}

// List returns summaries of every saved session, newest first. Unreadable
// files are skipped.
func (s *Store) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var out []Summary
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, sessionPrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.Dir, name))
		if err != nil {
			continue
		}
		var st State
		if err := json.Unmarshal(data, &st); err != nil {
			continue
		}
		out = append(out, Summary{
			SessionID:      st.SessionID,
			StartedAt:      st.StartedAt,
			UpdatedAt:      st.UpdatedAt,
			SourceURL:      st.SourceURL,
			DestinationURL: st.DestinationURL,
			Statistics:     st.Stats(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	return out, nil
}

// Save writes the whole session file atomically (temp file + rename) so a
// crash never leaves a partial file.
func (s *Store) Save(st *State) error {
	st.mu.Lock()
	st.Statistics = st.statsLocked()
	data, err := json.MarshalIndent(st, "", "  ")
	st.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode session %s: %w", st.SessionID, err)
	}

	path := s.path(st.SessionID)
	tmp, err := os.CreateTemp(s.Dir, st.SessionID+".*.tmp")
	if err != nil {
		return fmt.Errorf("save session %s: %w", st.SessionID, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("save session %s: %w", st.SessionID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save session %s: %w", st.SessionID, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save session %s: %w", st.SessionID, err)
	}
	return nil
}

// Delete removes one session file.
func (s *Store) Delete(sessionID string) error {
	if err := os.Remove(s.path(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// DeleteAll removes every saved session.
func (s *Store) DeleteAll() (int, error) {
	summaries, err := s.List()
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, sum := range summaries {
		if err := s.Delete(sum.SessionID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// Latest returns the most recently updated session, or nil when none exist.
func (s *Store) Latest() (*State, error) {
	summaries, err := s.List()
	if err != nil || len(summaries) == 0 {
		return nil, err
	}
	return s.Load(summaries[0].SessionID)
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.Dir, sessionID+".json")
}
