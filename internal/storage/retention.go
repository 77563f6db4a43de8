package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/AlcorQi/kango/internal/config"
	"github.com/AlcorQi/kango/internal/logger"
)

// RetentionPolicy bounds the event log by age and by count.
type RetentionPolicy struct {
	Days      int
	MaxEvents int
}

// GCResult reports what a garbage-collection pass did.
type GCResult struct {
	Kept    int
	Dropped int
}

// RunGC prunes the event log according to the policy.
//
// Events whose detected_at is missing or unparseable are kept (epoch 0 in
// the age sort), matching the tolerance the readers have for them. The
// rewrite goes to a temporary file followed by an atomic rename, under the
// store's write lock so appends never land inside a half-written log. The
// gc mutex keeps two GC passes from ever overlapping.
func (s *Store) RunGC(pol RetentionPolicy) (GCResult, error) {
	s.gcMu.Lock()
	defer s.gcMu.Unlock()

	cutoff := time.Now().Add(-time.Duration(pol.Days) * 24 * time.Hour)

	type kept struct {
		epoch int64
		line  string
	}
	var keep []kept
	dropped := 0

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return GCResult{}, nil
		}
		return GCResult{}, fmt.Errorf("failed to open event log: %w", err)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			dropped++
			continue
		}
		var epoch int64
		if ts, ok := ParseDetectedAt(ev.DetectedAt); ok {
			if ts.Before(cutoff) {
				dropped++
				continue
			}
			epoch = ts.Unix()
		}
		keep = append(keep, kept{epoch: epoch, line: line})
	}
	scanErr := scanner.Err()
	f.Close()
	if scanErr != nil {
		return GCResult{}, fmt.Errorf("failed to scan event log: %w", scanErr)
	}

	sort.SliceStable(keep, func(i, j int) bool { return keep[i].epoch < keep[j].epoch })
	if pol.MaxEvents > 0 && len(keep) > pol.MaxEvents {
		dropped += len(keep) - pol.MaxEvents
		keep = keep[len(keep)-pol.MaxEvents:]
	}

	tmp := s.path + ".gc"
	out, err := os.Create(tmp)
	if err != nil {
		return GCResult{}, fmt.Errorf("failed to create rewrite file: %w", err)
	}
	w := bufio.NewWriter(out)
	for _, k := range keep {
		w.WriteString(k.line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		out.Close()
		os.Remove(tmp)
		return GCResult{}, fmt.Errorf("failed to write rewrite file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return GCResult{}, fmt.Errorf("failed to close rewrite file: %w", err)
	}

	s.mu.Lock()
	err = os.Rename(tmp, s.path)
	s.mu.Unlock()
	if err != nil {
		os.Remove(tmp)
		return GCResult{}, fmt.Errorf("failed to replace event log: %w", err)
	}

	s.pruneDayPartitions(cutoff)
	return GCResult{Kept: len(keep), Dropped: dropped}, nil
}

// pruneDayPartitions deletes day files whose date falls before the cutoff.
func (s *Store) pruneDayPartitions(cutoff time.Time) {
	entries, err := os.ReadDir(s.dayDir)
	if err != nil {
		return
	}
	cutoffDay := cutoff.UTC().Format("2006-01-02")
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".ndjson") {
			continue
		}
		day := strings.TrimSuffix(name, ".ndjson")
		if _, err := time.Parse("2006-01-02", day); err != nil {
			continue
		}
		if day < cutoffDay {
			if err := os.Remove(filepath.Join(s.dayDir, name)); err != nil {
				s.log.WithField("file", name).Error("failed to prune day partition", err)
			}
		}
	}
}

// Janitor runs the retention GC on a schedule and on demand. The scan loop
// kicks it when the event count exceeds the configured cap.
type Janitor struct {
	store   *Store
	cfg     *config.Store
	offsets OffsetPruner
	log     logger.Logger
	period  time.Duration
	kick    chan struct{}
}

// OffsetPruner lets the janitor drop offset entries for files that no
// longer exist. Nil disables the pruning step.
type OffsetPruner interface {
	PruneMissing() error
}

func NewJanitor(store *Store, cfg *config.Store, offsets OffsetPruner, log logger.Logger) *Janitor {
	if log == nil {
		log = logger.NewNop()
	}
	return &Janitor{
		store:   store,
		cfg:     cfg,
		offsets: offsets,
		log:     log,
		period:  30 * time.Minute,
		kick:    make(chan struct{}, 1),
	}
}

// Kick requests an immediate GC pass without blocking.
func (j *Janitor) Kick() {
	select {
	case j.kick <- struct{}{}:
	default:
	}
}

// Run loops until the context is cancelled. Errors are logged, never fatal;
// the next pass retries.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-j.kick:
		case <-ctx.Done():
			return
		}
		j.runOnce()
	}
}

func (j *Janitor) runOnce() {
	cfg := j.cfg.Read()
	pol := RetentionPolicy{
		Days:      cfg.Detection.RetentionDays,
		MaxEvents: cfg.Detection.RetentionMaxEvents,
	}
	res, err := j.store.RunGC(pol)
	if err != nil {
		j.log.Error("retention gc failed", err)
		return
	}
	if res.Dropped > 0 {
		j.log.WithFields(map[string]interface{}{
			"kept":    res.Kept,
			"dropped": res.Dropped,
		}).Info("retention gc pruned events")
	}
	if j.offsets != nil {
		if err := j.offsets.PruneMissing(); err != nil {
			j.log.Error("offset pruning failed", err)
		}
	}
}
