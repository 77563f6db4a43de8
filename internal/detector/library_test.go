package detector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlcorQi/kango/internal/logger"
)

func allEnabled() EnabledSet {
	set := make(EnabledSet)
	for _, t := range AllTypes() {
		set[t] = true
	}
	return set
}

func TestClassifyKeywordMatches(t *testing.T) {
	lib := NewLibrary(logger.NewNop())

	cases := []struct {
		line string
		want Type
	}{
		{"Out of memory: Killed process 1234 (mysqld)", TypeOOM},
		{"kernel panic - not syncing: Fatal exception", TypeKernelPanic},
		{"EXT4-fs error (device sda1): ext4_find_entry", TypeFSError},
		{"BUG: unable to handle kernel NULL pointer dereference", TypeOops},
		{"INFO: task kworker/0:1 blocked for more than 120 seconds", TypeDeadlock},
	}
	for _, tc := range cases {
		got := lib.Classify(tc.line, allEnabled(), ModeMixed)
		assert.Contains(t, got, tc.want, "line: %s", tc.line)
	}
}

func TestClassifyCaseInsensitive(t *testing.T) {
	lib := NewLibrary(logger.NewNop())
	got := lib.Classify("OUT OF MEMORY: killed PROCESS 99", allEnabled(), ModeKeyword)
	assert.Contains(t, got, TypeOOM)
}

func TestClassifyRespectsEnabledSet(t *testing.T) {
	lib := NewLibrary(logger.NewNop())
	enabled := EnabledSet{TypeKernelPanic: true}
	got := lib.Classify("Out of memory: Killed process 1234", enabled, ModeMixed)
	assert.Empty(t, got)
}

func TestClassifyAtMostOncePerType(t *testing.T) {
	lib := NewLibrary(logger.NewNop())
	// Line hits several oom keywords at once.
	line := "Out of memory: oom-killer Killed process 42"
	got := lib.Classify(line, allEnabled(), ModeKeyword)

	count := 0
	for _, typ := range got {
		if typ == TypeOOM {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestClassifyNoMatch(t *testing.T) {
	lib := NewLibrary(logger.NewNop())
	got := lib.Classify("systemd[1]: Started Daily apt upgrade and clean activities.", allEnabled(), ModeMixed)
	assert.Empty(t, got)
}

func TestClassifyRegexMode(t *testing.T) {
	lib := NewLibrary(logger.NewNop())
	got := lib.Classify("Kernel panic - not syncing: Attempted to kill init!", allEnabled(), ModeRegex)
	assert.Contains(t, got, TypeKernelPanic)
}

func TestSeverityTable(t *testing.T) {
	assert.Equal(t, SeverityCritical, SeverityFor(TypeKernelPanic))
	assert.Equal(t, SeverityMinor, SeverityFor(TypeOops))
	assert.Equal(t, SeverityMajor, SeverityFor(TypeOOM))
	assert.Equal(t, SeverityMajor, SeverityFor(TypeUnexpectedReboot))
	assert.Equal(t, SeverityMajor, SeverityFor(TypeFSError))
	assert.Equal(t, SeverityMajor, SeverityFor(TypeDeadlock))
}

func TestParseModeUnknownFallsBackToMixed(t *testing.T) {
	assert.Equal(t, ModeMixed, ParseMode("fancy"))
	assert.Equal(t, ModeKeyword, ParseMode("keyword"))
	assert.Equal(t, ModeRegex, ParseMode("regex"))
}

func TestLoadLibraryFileMissingYieldsDefaults(t *testing.T) {
	lib, err := LoadLibraryFile(filepath.Join(t.TempDir(), "nope.yaml"), logger.NewNop())
	require.NoError(t, err)
	got := lib.Classify("Out of memory: Killed process 1", allEnabled(), ModeMixed)
	assert.Contains(t, got, TypeOOM)
}

func TestLoadLibraryFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.yaml")
	doc := `
detectors:
  oom:
    keywords:
      - "memory exhausted"
  panic:
    detection_mode: keyword
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	lib, err := LoadLibraryFile(path, logger.NewNop())
	require.NoError(t, err)

	// Replaced keyword set matches the override and not the default.
	got := lib.Classify("memory exhausted on node", allEnabled(), ModeKeyword)
	assert.Contains(t, got, TypeOOM)
	got = lib.Classify("Killed process 77", allEnabled(), ModeKeyword)
	assert.NotContains(t, got, TypeOOM)
}

func TestLoadLibraryFileHistoricNames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.yaml")
	doc := `
detectors:
  fs_exception:
    keywords:
      - "disk meltdown"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	lib, err := LoadLibraryFile(path, logger.NewNop())
	require.NoError(t, err)
	got := lib.Classify("disk meltdown imminent", allEnabled(), ModeKeyword)
	assert.Contains(t, got, TypeFSError)
}

func TestLoadLibraryFileBadRegexSkipped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.yaml")
	doc := `
detectors:
  oom:
    regex_patterns:
      - "valid.*pattern"
      - "broken[regex"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	lib, err := LoadLibraryFile(path, logger.NewNop())
	require.NoError(t, err)
	got := lib.Classify("a valid matching pattern here", allEnabled(), ModeRegex)
	assert.Contains(t, got, TypeOOM)
}

func TestLoadLibraryFileMalformedIsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.yaml")
	require.NoError(t, os.WriteFile(path, []byte("detectors: [not a map"), 0o644))

	_, err := LoadLibraryFile(path, logger.NewNop())
	assert.Error(t, err)
}

func TestNewEnabledSetIgnoresUnknown(t *testing.T) {
	set := NewEnabledSet([]string{"oom", "bogus", "kernel_panic"})
	assert.True(t, set[TypeOOM])
	assert.True(t, set[TypeKernelPanic])
	assert.Len(t, set, 2)
}
