package storage

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/AlcorQi/kango/internal/config"
	"github.com/AlcorQi/kango/internal/detector"
)

// Summary is a point-in-time aggregation over the event log. It is computed
// on demand and is never a source of truth.
type Summary struct {
	SchemaVersion string         `json:"schema_version"`
	Date          string         `json:"date"`
	Total         int            `json:"total"`
	BySeverity    map[string]int `json:"by_severity"`
	ByType        map[string]int `json:"by_type"`
	ByHost        map[string]int `json:"by_host"`
	Hosts         []string       `json:"hosts"`
	Trend         []interface{}  `json:"trend"`
	LastDetection string         `json:"last_detection,omitempty"`
	LastScan      string         `json:"last_scan"`
}

// ParseWindow interprets a relative-hour window spec: "PT24H" or "24h",
// meaning the last N hours from now. ok is false for anything else,
// including an empty spec (all time).
func ParseWindow(spec string) (time.Duration, bool) {
	var digits string
	switch {
	case strings.HasPrefix(spec, "PT") && strings.HasSuffix(spec, "H"):
		digits = spec[2 : len(spec)-1]
	case strings.HasSuffix(spec, "h"):
		digits = spec[:len(spec)-1]
	default:
		return 0, false
	}
	hours, err := strconv.Atoi(digits)
	if err != nil || hours <= 0 {
		return 0, false
	}
	return time.Duration(hours) * time.Hour, true
}

// Stats computes totals by severity, type and host over the given window
// and optional host filter. lastScan is the most recent scan pass timestamp
// known to the caller; when empty the current time is reported instead.
func (s *Store) Stats(window, hostID, lastScan string) (*Summary, error) {
	now := time.Now()
	windowDur, hasWindow := ParseWindow(window)

	sum := &Summary{
		SchemaVersion: config.SchemaVersion,
		Date:          now.UTC().Format("2006-01-02"),
		BySeverity: map[string]int{
			string(detector.SeverityCritical): 0,
			string(detector.SeverityMajor):    0,
			string(detector.SeverityMinor):    0,
		},
		ByType: make(map[string]int),
		ByHost: make(map[string]int),
		Trend:  []interface{}{},
	}

	err := s.Iterate(func(ev *Event) bool {
		if hostID != "" && ev.HostID != hostID {
			return true
		}
		if hasWindow {
			if ts, ok := ParseDetectedAt(ev.DetectedAt); ok && now.Sub(ts) > windowDur {
				return true
			}
		}
		sum.Total++
		if _, known := sum.BySeverity[string(ev.Severity)]; known {
			sum.BySeverity[string(ev.Severity)]++
		}
		if ev.Type != "" {
			sum.ByType[string(ev.Type)]++
		}
		if ev.HostID != "" {
			sum.ByHost[ev.HostID]++
		}
		if ev.DetectedAt > sum.LastDetection {
			sum.LastDetection = ev.DetectedAt
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	for h := range sum.ByHost {
		sum.Hosts = append(sum.Hosts, h)
	}
	sort.Strings(sum.Hosts)

	if lastScan == "" {
		lastScan = NowUTC()
	}
	sum.LastScan = lastScan
	return sum, nil
}
