package scanner

import (
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlcorQi/kango/internal/detector"
	"github.com/AlcorQi/kango/internal/logger"
	"github.com/AlcorQi/kango/internal/storage"
)

func allTypes() detector.EnabledSet {
	set := make(detector.EnabledSet)
	for _, t := range detector.AllTypes() {
		set[t] = true
	}
	return set
}

func TestIsLogLike(t *testing.T) {
	yes := []string{
		"kern.log", "syslog", "syslog.1", "messages", "dmesg",
		"app.log", "app.log.2", "auth.log", "kern.log.3.gz", "archive.gz",
	}
	for _, name := range yes {
		assert.True(t, IsLogLike(name), name)
	}
	no := []string{"notes.txt", "binary.dat", "README"}
	for _, name := range no {
		assert.False(t, IsLogLike(name), name)
	}
}

func TestIsExcludedBinary(t *testing.T) {
	for _, name := range []string{"lastlog", "wtmp", "btmp", "faillog", "utmp", "wtmp.1"} {
		assert.True(t, IsExcludedBinary(name), name)
	}
	assert.False(t, IsExcludedBinary("kern.log"))
}

func TestCollectFilesWalksAndFilters(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "journal"), 0o755))
	write := func(rel, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, rel), []byte(content), 0o644))
	}
	write("kern.log", "x\n")
	write("notes.txt", "x\n")
	write("wtmp", "x\n")
	write("journal/inner.log", "x\n")

	files := CollectFiles([]string{dir})
	require.Len(t, files, 1)
	assert.Equal(t, "kern.log", filepath.Base(files[0]))
}

func TestCollectFilesExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "whatever.txt")
	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0o644))

	// Explicit paths bypass the log-like predicate.
	files := CollectFiles([]string{path})
	assert.Equal(t, []string{path}, files)
}

func TestOffsetStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offsets.json")
	s := NewOffsetStore(path)
	s.Set("/var/log/kern.log", 123)
	require.NoError(t, s.Save())

	reloaded := NewOffsetStore(path)
	assert.Equal(t, int64(123), reloaded.Get("/var/log/kern.log"))
	assert.Equal(t, int64(0), reloaded.Get("/var/log/other.log"))
}

func TestOffsetStoreCorruptFileYieldsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offsets.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o644))
	s := NewOffsetStore(path)
	assert.Equal(t, int64(0), s.Get("/anything"))
}

func TestOffsetStorePruneMissing(t *testing.T) {
	dir := t.TempDir()
	exists := filepath.Join(dir, "kern.log")
	require.NoError(t, os.WriteFile(exists, []byte("x"), 0o644))

	s := NewOffsetStore(filepath.Join(dir, "offsets.json"))
	s.Set(exists, 1)
	s.Set(filepath.Join(dir, "gone.log"), 2)
	require.NoError(t, s.PruneMissing())

	assert.Equal(t, int64(1), s.Get(exists))
	assert.Equal(t, int64(0), s.Get(filepath.Join(dir, "gone.log")))
}

func tailerFixture(t *testing.T) (*Tailer, *OffsetStore, string) {
	t.Helper()
	dir := t.TempDir()
	offsets := NewOffsetStore(filepath.Join(dir, "offsets.json"))
	tailer := NewTailer(detector.NewLibrary(logger.NewNop()), offsets, logger.NewNop())
	return tailer, offsets, dir
}

func collect(events *[]*storage.Event) func(*storage.Event) {
	return func(ev *storage.Event) { *events = append(*events, ev) }
}

func TestTailerIncrementalPass(t *testing.T) {
	tailer, offsets, dir := tailerFixture(t)
	logPath := filepath.Join(dir, "kern.log")
	require.NoError(t, os.WriteFile(logPath,
		[]byte("normal line\nOut of memory: Killed process 42\n"), 0o644))

	var events []*storage.Event
	res, err := tailer.Pass([]string{dir}, allTypes(), detector.ModeMixed, "node-1", collect(&events))
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesScanned)
	require.Len(t, events, 1)
	assert.Equal(t, detector.TypeOOM, events[0].Type)
	assert.Equal(t, 2, events[0].LineNumber)
	assert.Equal(t, logPath, events[0].SourceFile)
	assert.Equal(t, "node-1", events[0].HostID)

	// Second pass with no new content finds nothing.
	events = nil
	_, err = tailer.Pass([]string{dir}, allTypes(), detector.ModeMixed, "node-1", collect(&events))
	require.NoError(t, err)
	assert.Empty(t, events)

	// Appended content is picked up where the last pass stopped.
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("Kernel panic - not syncing: test\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events = nil
	_, err = tailer.Pass([]string{dir}, allTypes(), detector.ModeMixed, "node-1", collect(&events))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, detector.TypeKernelPanic, events[0].Type)

	assert.Greater(t, offsets.Get(logPath), int64(0))
}

func TestTailerRotationResetsOffset(t *testing.T) {
	tailer, _, dir := tailerFixture(t)
	logPath := filepath.Join(dir, "kern.log")
	require.NoError(t, os.WriteFile(logPath,
		[]byte("padding padding padding padding padding\n"), 0o644))

	var events []*storage.Event
	_, err := tailer.Pass([]string{dir}, allTypes(), detector.ModeMixed, "h", collect(&events))
	require.NoError(t, err)

	// Rotation: new, shorter file replaces the old one.
	require.NoError(t, os.WriteFile(logPath,
		[]byte("Out of memory: Killed process 7\n"), 0o644))

	events = nil
	_, err = tailer.Pass([]string{dir}, allTypes(), detector.ModeMixed, "h", collect(&events))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].LineNumber)
}

func TestTailerSkipsGzip(t *testing.T) {
	tailer, _, dir := tailerFixture(t)
	writeGzip(t, filepath.Join(dir, "kern.log.1.gz"), "Out of memory: Killed process 9\n")

	var events []*storage.Event
	res, err := tailer.Pass([]string{dir}, allTypes(), detector.ModeMixed, "h", collect(&events))
	require.NoError(t, err)
	assert.Equal(t, 0, res.FilesScanned)
	assert.Empty(t, events)
}

func writeGzip(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
}

func TestOneShotReadsGzip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kern.log"),
		[]byte("Kernel panic - not syncing\n"), 0o644))
	writeGzip(t, filepath.Join(dir, "kern.log.1.gz"), "Out of memory: Killed process 9\n")

	one := NewOneShot(detector.NewLibrary(logger.NewNop()), logger.NewNop())
	var events []*storage.Event
	res, err := one.Scan([]string{dir}, allTypes(), detector.ModeMixed, "h", collect(&events))
	require.NoError(t, err)
	assert.Equal(t, 2, res.FilesScanned)

	types := map[detector.Type]bool{}
	for _, ev := range events {
		types[ev.Type] = true
	}
	assert.True(t, types[detector.TypeKernelPanic])
	assert.True(t, types[detector.TypeOOM])
}
