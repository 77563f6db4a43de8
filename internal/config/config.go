package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

// SchemaVersion is the fixed version stamped on the config document and on
// every persisted event.
const SchemaVersion = "1.0"

// TokenSentinel is the placeholder ingest token shipped in the default
// config. The ingest token gate is enforced only when the configured token
// is neither empty nor this sentinel.
const TokenSentinel = "<redacted>"

// Config is the whole mutable configuration document. It is persisted as a
// single JSON file; mutation is always a whole-document atomic rewrite.
type Config struct {
	SchemaVersion string          `json:"schema_version"`
	Detection     DetectionConfig `json:"detection"`
	Alerts        AlertsConfig    `json:"alerts"`
	SMTP          SMTPConfig      `json:"smtp,omitempty"`
	Agent         AgentConfig     `json:"agent,omitempty"`
	UI            UIConfig        `json:"ui"`
	Security      SecurityConfig  `json:"security"`
}

type DetectionConfig struct {
	LogPaths              []string `json:"log_paths"`
	ScanIntervalSec       int      `json:"scan_interval_sec"`
	RetentionDays         int      `json:"retention_days"`
	RetentionMaxEvents    int      `json:"retention_max_events"`
	EnabledDetectors      []string `json:"enabled_detectors"`
	SearchMode            string   `json:"search_mode,omitempty"`
	LocalDetectionEnabled *bool    `json:"local_detection_enabled,omitempty"`
}

type AlertsConfig struct {
	Enabled        bool     `json:"enabled"`
	Emails         []string `json:"emails"`
	NotifyCritical bool     `json:"notify_critical"`
	SilentMinutes  int      `json:"silent_minutes"`
}

// SMTPConfig carries mail transport settings. Empty fields fall back to the
// SMTP_* environment variables at dispatch time.
type SMTPConfig struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
	User string `json:"user,omitempty"`
	Pass string `json:"pass,omitempty"`
	From string `json:"from,omitempty"`
	TLS  bool   `json:"tls,omitempty"`
}

// AgentConfig holds agent-only toggles. CommitAfterAck defers offset
// persistence until the server acknowledged the batch (strict at-least-once
// delivery); the default commits eagerly after classification.
type AgentConfig struct {
	CommitAfterAck bool `json:"commit_after_ack"`
}

type UIConfig struct {
	AutoRefreshSec int    `json:"auto_refresh_sec"`
	PageSize       int    `json:"page_size"`
	TimeFormat     string `json:"time_format"`
}

type SecurityConfig struct {
	IngestToken   string `json:"ingest_token"`
	SSEMaxClients int    `json:"sse_max_clients"`
}

// Default returns the configuration document created on first start.
func Default() *Config {
	local := true
	return &Config{
		SchemaVersion: SchemaVersion,
		Detection: DetectionConfig{
			LogPaths:           []string{"/var/log"},
			ScanIntervalSec:    60,
			RetentionDays:      30,
			RetentionMaxEvents: 50000,
			EnabledDetectors: []string{
				"oom", "kernel_panic", "unexpected_reboot", "fs_error", "oops", "deadlock",
			},
			SearchMode:            "mixed",
			LocalDetectionEnabled: &local,
		},
		Alerts: AlertsConfig{
			Enabled:        false,
			Emails:         []string{},
			NotifyCritical: true,
			SilentMinutes:  30,
		},
		UI: UIConfig{
			AutoRefreshSec: 30,
			PageSize:       20,
			TimeFormat:     "24h",
		},
		Security: SecurityConfig{
			IngestToken:   TokenSentinel,
			SSEMaxClients: 100,
		},
	}
}

// LocalDetection reports whether the server should run its own scan loop.
// Absent means enabled.
func (c *Config) LocalDetection() bool {
	return c.Detection.LocalDetectionEnabled == nil || *c.Detection.LocalDetectionEnabled
}

// ScanInterval returns the scan interval clamped to the [5,3600] range the
// loops enforce regardless of what the document says.
func (c *Config) ScanInterval() int {
	return clamp(c.Detection.ScanIntervalSec, 5, 3600)
}

// TokenRequired reports whether the ingest token gate is active.
func (c *Config) TokenRequired() bool {
	return c.Security.IngestToken != "" && c.Security.IngestToken != TokenSentinel
}

// Snapshot is the subset of detection settings the scan loops watch for
// mid-wait changes.
type Snapshot struct {
	Interval int
	Paths    []string
	Enabled  []string
	Mode     string
}

func (c *Config) Snapshot() Snapshot {
	return Snapshot{
		Interval: c.ScanInterval(),
		Paths:    append([]string(nil), c.Detection.LogPaths...),
		Enabled:  append([]string(nil), c.Detection.EnabledDetectors...),
		Mode:     c.Detection.SearchMode,
	}
}

func (s Snapshot) Equal(o Snapshot) bool {
	return s.Interval == o.Interval &&
		s.Mode == o.Mode &&
		stringsEqual(s.Paths, o.Paths) &&
		stringsEqual(s.Enabled, o.Enabled)
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// allowedTopLevel lists the keys a config replacement may carry.
var allowedTopLevel = map[string]bool{
	"schema_version": true,
	"detection":      true,
	"alerts":         true,
	"smtp":           true,
	"agent":          true,
	"ui":             true,
	"security":       true,
}

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ValidationError describes why a config replacement was rejected. Param
// names the offending field when known.
type ValidationError struct {
	Param   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ValidateReplacement checks a whole-document replacement. raw is the
// original JSON body, used to reject unknown top-level keys; cfg is the
// decoded document, which is normalized in place (retention_max_events
// defaults to 50000 when omitted).
func ValidateReplacement(raw []byte, cfg *Config) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return &ValidationError{Message: "body must be a JSON object"}
	}
	for k := range keys {
		if !allowedTopLevel[k] {
			return &ValidationError{Param: k, Message: "unknown fields"}
		}
	}
	if _, ok := keys["detection"]; !ok {
		return &ValidationError{Param: "detection", Message: "invalid detection config"}
	}
	if cfg.Detection.RetentionMaxEvents == 0 {
		cfg.Detection.RetentionMaxEvents = 50000
	}
	d := cfg.Detection
	if d.ScanIntervalSec < 5 || d.ScanIntervalSec > 3600 {
		return &ValidationError{Param: "scan_interval_sec", Message: "scan_interval_sec out of range"}
	}
	if d.RetentionDays < 1 || d.RetentionDays > 365 {
		return &ValidationError{Param: "retention_days", Message: "retention_days out of range"}
	}
	if d.RetentionMaxEvents < 1 || d.RetentionMaxEvents > 1000000 {
		return &ValidationError{Param: "retention_max_events", Message: "retention_max_events out of range"}
	}
	if len(cfg.Alerts.Emails) > 0 && !emailRe.MatchString(cfg.Alerts.Emails[0]) {
		return &ValidationError{Param: "emails", Message: "invalid email"}
	}
	return nil
}

// Store owns the on-disk config document.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the location of the config document.
func (s *Store) Path() string { return s.path }

// Ensure writes the default document if none exists yet.
func (s *Store) Ensure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.path); err == nil {
		return nil
	}
	return s.writeLocked(Default())
}

// Read returns the current document. Readers may see any consistent
// snapshot; a missing or corrupt file falls back to defaults.
func (s *Store) Read() *Config {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return Default()
	}
	cfg := Default()
	if err := json.Unmarshal(raw, cfg); err != nil {
		return Default()
	}
	return cfg
}

// Write replaces the whole document atomically (temp file + rename).
func (s *Store) Write(cfg *Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(cfg)
}

func (s *Store) writeLocked(cfg *Config) error {
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SchemaVersion
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}
