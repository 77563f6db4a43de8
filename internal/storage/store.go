package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/AlcorQi/kango/internal/logger"
)

// Store is the append-only event log: one JSON object per line in
// anomalies.ndjson, with per-day copies under anomalies/YYYY-MM-DD.ndjson.
//
// Appends go through O_APPEND so concurrent writers stay atomic at line
// granularity. Readers stream the file fresh on every query and silently
// skip lines that fail to parse, which tolerates torn writes and GC
// rewrites happening underneath them. The write lock is shared with the
// retention GC so appends never interleave with a rewrite.
type Store struct {
	path   string
	dayDir string
	mu     sync.Mutex // serializes appends against GC rewrites
	gcMu   sync.Mutex // keeps GC passes from overlapping
	log    logger.Logger
}

// NewStore creates a store rooted at dataDir.
func NewStore(dataDir string, log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{
		path:   filepath.Join(dataDir, "anomalies.ndjson"),
		dayDir: filepath.Join(dataDir, "anomalies"),
		log:    log,
	}
}

// Path returns the location of the main event log file.
func (s *Store) Path() string { return s.path }

// Ensure creates the data directories and an empty event log if missing.
func (s *Store) Ensure() error {
	if err := os.MkdirAll(s.dayDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create event log: %w", err)
	}
	return f.Close()
}

// Append persists one event to the main log and its day partition.
func (s *Store) Append(ev *Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := appendLine(s.path, line); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	// Day partitions are best-effort copies; the main log is authoritative.
	if day := partitionDate(ev.DetectedAt); day != "" {
		dayPath := filepath.Join(s.dayDir, day+".ndjson")
		if err := appendLine(dayPath, line); err != nil {
			s.log.WithField("file", dayPath).Error("failed to append day partition", err)
		}
	}
	return nil
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(line)
	return err
}

// partitionDate derives the day-partition name from a detected_at value.
func partitionDate(detectedAt string) string {
	t, ok := ParseDetectedAt(detectedAt)
	if !ok {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

// Iterate streams every parseable event in append order. The callback
// returns false to stop early. A missing log file iterates zero events.
func (s *Store) Iterate(fn func(*Event) bool) error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue // torn or foreign line
		}
		if !fn(&ev) {
			return nil
		}
	}
	return scanner.Err()
}

// Count returns the number of parseable events currently in the log.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.Iterate(func(*Event) bool {
		n++
		return true
	})
	return n, err
}

// Get returns the event with the given id, scanning the log linearly.
func (s *Store) Get(id string) (*Event, bool, error) {
	var found *Event
	err := s.Iterate(func(ev *Event) bool {
		if ev.ID == id {
			found = ev
			return false
		}
		return true
	})
	if err != nil {
		return nil, false, err
	}
	return found, found != nil, nil
}

// Hosts returns the distinct host_ids across the log, sorted.
func (s *Store) Hosts() ([]string, error) {
	seen := make(map[string]bool)
	err := s.Iterate(func(ev *Event) bool {
		if ev.HostID != "" {
			seen[ev.HostID] = true
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	hosts := make([]string, 0, len(seen))
	for h := range seen {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts, nil
}
