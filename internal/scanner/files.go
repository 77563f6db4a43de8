package scanner

import (
	"os"
	"path/filepath"
	"strings"
)

// logLikeBases are filename prefixes of the well-known system log files
// that do not follow the *.log convention.
var logLikeBases = []string{
	"syslog", "messages", "kern.log", "dmesg", "auth.log", "daemon.log",
	"boot.log", "cron", "xorg.log", "yum.log", "pacman.log", "dpkg.log",
	"audit.log",
}

// excludedBases are binary login-accounting files that live alongside the
// text logs and must never be tailed.
var excludedBases = []string{"lastlog", "wtmp", "btmp", "faillog", "utmp"}

// IsLogLike reports whether a filename looks like a log file worth
// scanning: *.log, rotated *.log.*, a well-known base name, or a gzipped
// archive.
func IsLogLike(name string) bool {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".log") || strings.Contains(lower, ".log.") {
		return true
	}
	for _, base := range logLikeBases {
		if strings.HasPrefix(lower, base) {
			return true
		}
	}
	return strings.HasSuffix(lower, ".gz")
}

// IsExcludedBinary reports whether a filename is one of the binary
// accounting files excluded from scanning.
func IsExcludedBinary(name string) bool {
	lower := strings.ToLower(name)
	for _, base := range excludedBases {
		if strings.HasPrefix(lower, base) {
			return true
		}
	}
	return false
}

// CollectFiles expands the configured log roots into the list of candidate
// files. Explicit file paths are taken as-is; directories are walked
// recursively, applying the log-like predicate and skipping any directory
// named "journal" (systemd's binary journal lives there). Unreadable
// entries are skipped, never fatal.
func CollectFiles(roots []string) []string {
	var files []string
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		info, err := os.Stat(abs)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			files = append(files, abs)
			continue
		}
		filepath.Walk(abs, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				if fi != nil && fi.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if fi.IsDir() {
				if fi.Name() == "journal" {
					return filepath.SkipDir
				}
				return nil
			}
			name := fi.Name()
			if IsExcludedBinary(name) {
				return nil
			}
			if IsLogLike(name) {
				files = append(files, path)
			}
			return nil
		})
	}
	return files
}
