package scanner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// OffsetStore persists per-file byte offsets of the last-read position so
// incremental scans survive restarts. The mapping lives in one JSON file;
// persistence is a whole-file atomic rewrite. A missing or corrupt file
// yields an empty mapping.
type OffsetStore struct {
	path    string
	mu      sync.Mutex
	offsets map[string]int64
}

// IngestOffsetsPath is the server-side offsets file location. Server and
// agent share the format so either can migrate.
func IngestOffsetsPath(dataDir string) string {
	return filepath.Join(dataDir, "ingest_offsets.json")
}

// AgentOffsetsPath is the agent-side offsets file location.
func AgentOffsetsPath(dataDir string) string {
	return filepath.Join(dataDir, "agent_offsets.json")
}

// NewOffsetStore loads the offsets file at path.
func NewOffsetStore(path string) *OffsetStore {
	s := &OffsetStore{path: path, offsets: make(map[string]int64)}
	raw, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	var m map[string]int64
	if err := json.Unmarshal(raw, &m); err != nil {
		return s
	}
	s.offsets = m
	return s
}

// Path returns the offsets file location.
func (s *OffsetStore) Path() string { return s.path }

// Get returns the saved offset for path, or 0.
func (s *OffsetStore) Get(path string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offsets[path]
}

// Set records the offset for path in memory. Call Save to persist.
func (s *OffsetStore) Set(path string, off int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets[path] = off
}

// Snapshot copies the in-memory mapping.
func (s *OffsetStore) Snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := make(map[string]int64, len(s.offsets))
	for path, off := range s.offsets {
		m[path] = off
	}
	return m
}

// Restore replaces the in-memory mapping with a previously taken snapshot.
// The agent rolls back to the pre-pass state when a strict-delivery report
// fails, so the next pass re-reads the unacknowledged lines.
func (s *OffsetStore) Restore(m map[string]int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets = make(map[string]int64, len(m))
	for path, off := range m {
		s.offsets[path] = off
	}
}

// Save persists the mapping with a temp-file rename.
func (s *OffsetStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create offsets directory: %w", err)
	}
	data, err := json.Marshal(s.offsets)
	if err != nil {
		return fmt.Errorf("failed to encode offsets: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write offsets: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace offsets: %w", err)
	}
	return nil
}

// PruneMissing drops entries whose files no longer exist and persists the
// result. The retention janitor calls this after each GC pass.
func (s *OffsetStore) PruneMissing() error {
	s.mu.Lock()
	changed := false
	for path := range s.offsets {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			delete(s.offsets, path)
			changed = true
		}
	}
	s.mu.Unlock()
	if !changed {
		return nil
	}
	return s.Save()
}
