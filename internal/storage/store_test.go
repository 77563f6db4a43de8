package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlcorQi/kango/internal/detector"
	"github.com/AlcorQi/kango/internal/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(t.TempDir(), logger.NewNop())
	require.NoError(t, s.Ensure())
	return s
}

func testEvent(id, detectedAt string) *Event {
	return &Event{
		SchemaVersion: "1.0",
		ID:            id,
		Type:          detector.TypeOOM,
		Severity:      detector.SeverityMajor,
		Message:       "Out of memory: Killed process 1234",
		SourceFile:    "/var/log/kern.log",
		LineNumber:    10,
		DetectedAt:    detectedAt,
		HostID:        "node-1",
	}
}

func TestDeriveIDIsStableAndShort(t *testing.T) {
	id := DeriveID("host", "/var/log/syslog", 42, "2026-01-02T03:04:05Z", "boom")
	assert.Len(t, id, 16)
	assert.Equal(t, id, DeriveID("host", "/var/log/syslog", 42, "2026-01-02T03:04:05Z", "boom"))

	// Plain concatenation, no separators.
	raw := "host" + "/var/log/syslog" + "42" + "2026-01-02T03:04:05Z" + "boom"
	sum := sha256.Sum256([]byte(raw))
	assert.Equal(t, hex.EncodeToString(sum[:])[:16], id)
}

func TestNormalizeFillsDefaults(t *testing.T) {
	ev := &Event{Type: detector.TypeKernelPanic, Message: "Kernel panic - not syncing"}
	require.True(t, ev.Normalize())
	assert.NotEmpty(t, ev.ID)
	assert.NotEmpty(t, ev.HostID)
	assert.NotEmpty(t, ev.DetectedAt)
	assert.Equal(t, "1.0", ev.SchemaVersion)
	assert.Equal(t, detector.SeverityCritical, ev.Severity)
}

func TestNormalizeKeepsExplicitFields(t *testing.T) {
	ev := testEvent("abc123", "2026-01-02T03:04:05Z")
	ev.Severity = detector.SeverityMinor // caller-supplied, even if unusual
	require.True(t, ev.Normalize())
	assert.Equal(t, "abc123", ev.ID)
	assert.Equal(t, detector.SeverityMinor, ev.Severity)
	assert.Equal(t, "2026-01-02T03:04:05Z", ev.DetectedAt)
}

func TestNormalizeRejectsIncomplete(t *testing.T) {
	assert.False(t, (&Event{Message: "no type"}).Normalize())
	assert.False(t, (&Event{Type: detector.TypeOOM}).Normalize())
}

func TestAppendAndIterate(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Append(testEvent("a", NowUTC())))
	require.NoError(t, s.Append(testEvent("b", NowUTC())))

	var ids []string
	require.NoError(t, s.Iterate(func(ev *Event) bool {
		ids = append(ids, ev.ID)
		return true
	}))
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestIterateSkipsTornLines(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Append(testEvent("a", NowUTC())))

	f, err := os.OpenFile(s.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{\"id\":\"torn\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, s.Append(testEvent("b", NowUTC())))

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestGet(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Append(testEvent("findme", NowUTC())))

	ev, found, err := s.Get("findme")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "node-1", ev.HostID)

	_, found, err = s.Get("missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDuplicateIDsBothStored(t *testing.T) {
	s := newTestStore(t)
	ev := testEvent("dup", NowUTC())
	require.NoError(t, s.Append(ev))
	require.NoError(t, s.Append(ev))

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, found, err := s.Get("dup")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestHostsSortedDistinct(t *testing.T) {
	s := newTestStore(t)
	for _, h := range []string{"zeta", "alpha", "zeta"} {
		ev := testEvent("id-"+h, NowUTC())
		ev.HostID = h
		require.NoError(t, s.Append(ev))
	}
	hosts, err := s.Hosts()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, hosts)
}

func TestDayPartitionWritten(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, logger.NewNop())
	require.NoError(t, s.Ensure())

	ts := "2026-03-15T10:00:00Z"
	require.NoError(t, s.Append(testEvent("p", ts)))

	raw, err := os.ReadFile(filepath.Join(dir, "anomalies", "2026-03-15.ndjson"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"id":"p"`)
}

func TestStatsWindowAndHostFilter(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	recent := testEvent("recent", now.Add(-1*time.Hour).Format(TimeLayout))
	old := testEvent("old", now.Add(-72*time.Hour).Format(TimeLayout))
	other := testEvent("other", now.Add(-1*time.Hour).Format(TimeLayout))
	other.HostID = "node-2"
	other.Type = detector.TypeKernelPanic
	other.Severity = detector.SeverityCritical
	for _, ev := range []*Event{recent, old, other} {
		require.NoError(t, s.Append(ev))
	}

	sum, err := s.Stats("PT24H", "", "")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.BySeverity["critical"])
	assert.Equal(t, 1, sum.BySeverity["major"])
	assert.Equal(t, 0, sum.BySeverity["minor"], "severities are zero-filled")
	assert.Equal(t, []string{"node-1", "node-2"}, sum.Hosts)
	assert.NotEmpty(t, sum.LastScan)

	sum, err = s.Stats("24h", "node-2", "")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Total)
	assert.Equal(t, 1, sum.ByType["kernel_panic"])
}

func TestParseWindow(t *testing.T) {
	d, ok := ParseWindow("PT24H")
	assert.True(t, ok)
	assert.Equal(t, 24*time.Hour, d)

	d, ok = ParseWindow("6h")
	assert.True(t, ok)
	assert.Equal(t, 6*time.Hour, d)

	_, ok = ParseWindow("")
	assert.False(t, ok)
	_, ok = ParseWindow("weekly")
	assert.False(t, ok)
	_, ok = ParseWindow("PT0H")
	assert.False(t, ok)
}

func TestRunGCAgeCutoff(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	require.NoError(t, s.Append(testEvent("fresh", now.Format(TimeLayout))))
	require.NoError(t, s.Append(testEvent("stale", now.Add(-40*24*time.Hour).Format(TimeLayout))))

	res, err := s.RunGC(RetentionPolicy{Days: 30, MaxEvents: 1000})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Kept)
	assert.Equal(t, 1, res.Dropped)

	_, found, err := s.Get("fresh")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestRunGCCountCap(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		ts := now.Add(time.Duration(i-5) * time.Minute).Format(TimeLayout)
		require.NoError(t, s.Append(testEvent(string(rune('a'+i)), ts)))
	}

	res, err := s.RunGC(RetentionPolicy{Days: 30, MaxEvents: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Kept)
	assert.Equal(t, 3, res.Dropped)

	// The newest two survive.
	var ids []string
	require.NoError(t, s.Iterate(func(ev *Event) bool {
		ids = append(ids, ev.ID)
		return true
	}))
	assert.Equal(t, []string{"d", "e"}, ids)
}

func TestRunGCKeepsUnparseableTimestamps(t *testing.T) {
	s := newTestStore(t)
	ev := testEvent("odd", "not-a-timestamp")
	require.NoError(t, s.Append(ev))

	res, err := s.RunGC(RetentionPolicy{Days: 30, MaxEvents: 1000})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Kept)
	assert.Equal(t, 0, res.Dropped)
}

func TestRunGCPrunesDayPartitions(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, logger.NewNop())
	require.NoError(t, s.Ensure())

	oldDay := filepath.Join(dir, "anomalies", "2020-01-01.ndjson")
	require.NoError(t, os.WriteFile(oldDay, []byte("{}\n"), 0o644))

	_, err := s.RunGC(RetentionPolicy{Days: 30, MaxEvents: 1000})
	require.NoError(t, err)
	_, statErr := os.Stat(oldDay)
	assert.True(t, os.IsNotExist(statErr))
}
