package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AlcorQi/kango/internal/detector"
	"github.com/AlcorQi/kango/internal/storage"
)

// ScanReport collects the findings of one whole-history scan pass for the
// plain-text report file the scan command writes.
type ScanReport struct {
	Host         string
	FilesScanned int
	LinesRead    int
	Events       []*storage.Event
}

// Add records one finding.
func (r *ScanReport) Add(ev *storage.Event) {
	r.Events = append(r.Events, ev)
}

// CountsByType returns per-type totals in taxonomy order, zero rows
// omitted.
func (r *ScanReport) CountsByType() map[detector.Type]int {
	counts := make(map[detector.Type]int)
	for _, ev := range r.Events {
		counts[ev.Type]++
	}
	return counts
}

// Render formats the report as plain text.
func (r *ScanReport) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Kernel log scan report\n")
	fmt.Fprintf(&b, "Host:       %s\n", r.Host)
	fmt.Fprintf(&b, "Generated:  %s\n", storage.NowUTC())
	fmt.Fprintf(&b, "Files:      %d\n", r.FilesScanned)
	fmt.Fprintf(&b, "Lines:      %d\n", r.LinesRead)
	fmt.Fprintf(&b, "Anomalies:  %d\n\n", len(r.Events))

	counts := r.CountsByType()
	if len(counts) > 0 {
		b.WriteString("By type:\n")
		for _, t := range detector.AllTypes() {
			if n := counts[t]; n > 0 {
				fmt.Fprintf(&b, "  %-18s %d\n", string(t), n)
			}
		}
		b.WriteString("\n")
	}

	if len(r.Events) > 0 {
		b.WriteString("Findings:\n")
		events := append([]*storage.Event(nil), r.Events...)
		sort.SliceStable(events, func(i, j int) bool {
			return events[i].SourceFile < events[j].SourceFile ||
				(events[i].SourceFile == events[j].SourceFile && events[i].LineNumber < events[j].LineNumber)
		})
		for _, ev := range events {
			fmt.Fprintf(&b, "  [%s] %s %s:%d\n    %s\n",
				ev.Severity, ev.Type, ev.SourceFile, ev.LineNumber, ev.Message)
		}
	} else {
		b.WriteString("No anomalies found.\n")
	}
	return b.String()
}

// WriteFile persists the rendered report.
func (r *ScanReport) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(r.Render()), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
