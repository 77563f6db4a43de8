package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AlcorQi/kango/internal/config"
	"github.com/AlcorQi/kango/internal/detector"
)

// TimeLayout is the wire format for detected_at: second-resolution UTC.
const TimeLayout = "2006-01-02T15:04:05Z"

// Event is one classified log line with structured metadata. Identity is
// immutable once written; duplicates with the same id are tolerated in the
// store and deduplicated by consumers.
type Event struct {
	SchemaVersion string            `json:"schema_version"`
	ID            string            `json:"id"`
	Type          detector.Type     `json:"type"`
	Severity      detector.Severity `json:"severity"`
	Message       string            `json:"message"`
	SourceFile    string            `json:"source_file"`
	LineNumber    int               `json:"line_number"`
	DetectedAt    string            `json:"detected_at"`
	HostID        string            `json:"host_id"`
	Processed     bool              `json:"processed"`
}

// DeriveID computes the canonical event id: the first 16 hex characters of
// SHA-256 over the concatenation of host, source, line number, timestamp
// and message.
func DeriveID(host, source string, line int, detectedAt, message string) string {
	raw := host + source + strconv.Itoa(line) + detectedAt + message
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:16]
}

// NowUTC formats the current instant in the wire layout.
func NowUTC() string {
	return time.Now().UTC().Format(TimeLayout)
}

// ParseDetectedAt parses a detected_at value. ok is false for anything that
// does not match the wire layout.
func ParseDetectedAt(s string) (time.Time, bool) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// NewEvent builds a fully-populated event for a classified line.
func NewEvent(t detector.Type, line, source string, lineNo int, host string) *Event {
	ts := NowUTC()
	msg := strings.TrimSpace(line)
	return &Event{
		SchemaVersion: config.SchemaVersion,
		ID:            DeriveID(host, source, lineNo, ts, msg),
		Type:          t,
		Severity:      detector.SeverityFor(t),
		Message:       msg,
		SourceFile:    source,
		LineNumber:    lineNo,
		DetectedAt:    ts,
		HostID:        host,
	}
}

// Normalize fills the defaults an ingested event may omit. Returns false
// when the event lacks the required type or message.
func (e *Event) Normalize() bool {
	if e.Type == "" || e.Message == "" {
		return false
	}
	if e.HostID == "" {
		e.HostID = Hostname()
	}
	if e.DetectedAt == "" {
		e.DetectedAt = NowUTC()
	}
	if e.ID == "" {
		e.ID = DeriveID(e.HostID, e.SourceFile, e.LineNumber, e.DetectedAt, e.Message)
	}
	if e.SchemaVersion == "" {
		e.SchemaVersion = config.SchemaVersion
	}
	if e.Severity == "" {
		e.Severity = detector.SeverityFor(e.Type)
	}
	return true
}

// Hostname returns the local hostname, or "unknown" when the OS refuses to
// say.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown"
	}
	return h
}
