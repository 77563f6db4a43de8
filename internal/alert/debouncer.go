package alert

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AlcorQi/kango/internal/config"
	"github.com/AlcorQi/kango/internal/detector"
	"github.com/AlcorQi/kango/internal/logger"
	"github.com/AlcorQi/kango/internal/storage"
)

// Sender dispatches one alert about an event. Implementations must be safe
// for concurrent use.
type Sender interface {
	Send(cfg *config.Config, ev *storage.Event) error
}

// Debouncer suppresses repeat alerts for the same fault within the silent
// window. Identity is a fingerprint over severity, type and the message
// prefix, so a flood of identical oom kills collapses to one mail per
// window. Critical events bypass the window when notify_critical is set.
//
// Sent fingerprints persist in alert_state.json, a flat JSON object mapping
// fingerprint to epoch seconds, so restarts do not re-alert on faults
// already reported. State is recorded only after a successful send; a
// failed dispatch stays eligible for the next event.
type Debouncer struct {
	path   string
	sender Sender
	log    logger.Logger

	mu   sync.Mutex
	sent map[string]time.Time
}

func NewDebouncer(dataDir string, sender Sender, log logger.Logger) *Debouncer {
	if log == nil {
		log = logger.NewNop()
	}
	d := &Debouncer{
		path:   filepath.Join(dataDir, "alert_state.json"),
		sender: sender,
		log:    log,
		sent:   make(map[string]time.Time),
	}
	d.load()
	return d
}

// Fingerprint derives the debounce identity for an event.
func Fingerprint(ev *storage.Event) string {
	msg := ev.Message
	if len(msg) > 120 {
		msg = msg[:120]
	}
	raw := string(ev.Severity) + "|" + string(ev.Type) + "|" + msg
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Offer considers one freshly persisted event for alerting. Returns true
// when a mail was dispatched.
func (d *Debouncer) Offer(cfg *config.Config, ev *storage.Event) bool {
	if !cfg.Alerts.Enabled || len(cfg.Alerts.Emails) == 0 {
		return false
	}

	fp := Fingerprint(ev)
	window := time.Duration(cfg.Alerts.SilentMinutes) * time.Minute
	critical := ev.Severity == detector.SeverityCritical && cfg.Alerts.NotifyCritical

	d.mu.Lock()
	last, seen := d.sent[fp]
	if seen && !critical && window > 0 && time.Since(last) < window {
		d.mu.Unlock()
		return false
	}
	d.mu.Unlock()

	if err := d.sender.Send(cfg, ev); err != nil {
		d.log.WithFields(map[string]interface{}{
			"type":     string(ev.Type),
			"severity": string(ev.Severity),
		}).Error("alert dispatch failed", err)
		return false
	}

	d.mu.Lock()
	d.sent[fp] = time.Now()
	d.mu.Unlock()
	if err := d.save(); err != nil {
		d.log.Error("failed to persist alert state", err)
	}
	return true
}

func (d *Debouncer) load() {
	raw, err := os.ReadFile(d.path)
	if err != nil {
		return
	}
	var st map[string]float64
	if err := json.Unmarshal(raw, &st); err != nil {
		return
	}
	for fp, sec := range st {
		d.sent[fp] = time.Unix(int64(sec), 0)
	}
}

func (d *Debouncer) save() error {
	d.mu.Lock()
	st := make(map[string]float64, len(d.sent))
	for fp, t := range d.sent {
		st[fp] = float64(t.Unix())
	}
	d.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode alert state: %w", err)
	}
	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write alert state: %w", err)
	}
	if err := os.Rename(tmp, d.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace alert state: %w", err)
	}
	return nil
}
