package report

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlcorQi/kango/internal/detector"
	"github.com/AlcorQi/kango/internal/logger"
	"github.com/AlcorQi/kango/internal/storage"
)

func TestFetchPlaceholderWhenAbsent(t *testing.T) {
	s := NewService(t.TempDir(), "", logger.NewNop())
	got := s.Fetch(context.Background())
	require.Len(t, got.Items, 1)
	assert.Contains(t, got.Items[0], "No analysis report")
	assert.Equal(t, cacheTTLSec, got.CacheTTLSec)
}

func TestFetchLocalArtifactBullets(t *testing.T) {
	dir := t.TempDir()
	s := NewService(dir, "", logger.NewNop())
	doc := "# Findings\n\n- investigate oom on node-1\n- check disk sda\n"
	require.NoError(t, os.WriteFile(s.Path(), []byte(doc), 0o644))

	got := s.Fetch(context.Background())
	assert.Equal(t, []string{"investigate oom on node-1", "check disk sda"}, got.Items)
	assert.NotEmpty(t, got.GeneratedAt)
}

func TestFetchLocalArtifactParagraphs(t *testing.T) {
	dir := t.TempDir()
	s := NewService(dir, "", logger.NewNop())
	require.NoError(t, os.WriteFile(s.Path(), []byte("first block\n\nsecond block"), 0o644))

	got := s.Fetch(context.Background())
	assert.Equal(t, []string{"first block", "second block"}, got.Items)
}

func TestGenerateWithoutCommandIsError(t *testing.T) {
	s := NewService(t.TempDir(), "", logger.NewNop())
	_, err := s.Generate(context.Background())
	assert.Error(t, err)
}

func TestGenerateRunsCommand(t *testing.T) {
	dir := t.TempDir()
	s := NewService(dir, `printf 'generated report' > "$REPORT_PATH"`, logger.NewNop())

	res, err := s.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
	assert.True(t, res.Generated)
	assert.Equal(t, s.Path(), res.ReportPath)

	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, "generated report", string(raw))
}

func TestGenerateFailedCommandReportsReturncode(t *testing.T) {
	s := NewService(t.TempDir(), "exit 3", logger.NewNop())
	res, err := s.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "error", res.Status)
	assert.False(t, res.Generated)
	assert.Equal(t, 3, res.ReturnCode)
}

func TestScanReportRender(t *testing.T) {
	rep := &ScanReport{Host: "node-1", FilesScanned: 2, LinesRead: 100}
	rep.Add(&storage.Event{
		Type:       detector.TypeOOM,
		Severity:   detector.SeverityMajor,
		Message:    "Out of memory: Killed process 1",
		SourceFile: "/var/log/kern.log",
		LineNumber: 5,
	})
	rep.Add(&storage.Event{
		Type:       detector.TypeOOM,
		Severity:   detector.SeverityMajor,
		Message:    "Out of memory: Killed process 2",
		SourceFile: "/var/log/kern.log",
		LineNumber: 9,
	})

	text := rep.Render()
	assert.Contains(t, text, "node-1")
	assert.Contains(t, text, "Anomalies:  2")
	assert.Contains(t, text, "oom")
	assert.True(t, strings.Index(text, "process 1") < strings.Index(text, "process 2"),
		"findings sorted by file and line")
}

func TestScanReportWriteFile(t *testing.T) {
	rep := &ScanReport{Host: "h"}
	path := filepath.Join(t.TempDir(), "out", "report.txt")
	require.NoError(t, rep.WriteFile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "No anomalies found")
}
