package alert

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlcorQi/kango/internal/config"
	"github.com/AlcorQi/kango/internal/detector"
	"github.com/AlcorQi/kango/internal/logger"
	"github.com/AlcorQi/kango/internal/storage"
)

type fakeSender struct {
	mu   sync.Mutex
	sent int
	fail bool
}

func (f *fakeSender) Send(cfg *config.Config, ev *storage.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("smtp down")
	}
	f.sent++
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

func alertingConfig() *config.Config {
	cfg := config.Default()
	cfg.Alerts.Enabled = true
	cfg.Alerts.Emails = []string{"ops@example.com"}
	cfg.Alerts.SilentMinutes = 30
	return cfg
}

func majorEvent(msg string) *storage.Event {
	return &storage.Event{
		ID:         "x",
		Type:       detector.TypeOOM,
		Severity:   detector.SeverityMajor,
		Message:    msg,
		DetectedAt: storage.NowUTC(),
		HostID:     "node-1",
	}
}

func TestFingerprintTruncatesMessage(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	a := majorEvent(string(long))
	b := majorEvent(string(long[:120]))
	assert.Equal(t, Fingerprint(a), Fingerprint(b))

	c := majorEvent("different")
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))
}

func TestOfferDisabledAlertsNoop(t *testing.T) {
	sender := &fakeSender{}
	d := NewDebouncer(t.TempDir(), sender, logger.NewNop())
	cfg := config.Default() // alerts disabled
	assert.False(t, d.Offer(cfg, majorEvent("boom")))
	assert.Equal(t, 0, sender.count())
}

func TestOfferDebouncesWithinWindow(t *testing.T) {
	sender := &fakeSender{}
	d := NewDebouncer(t.TempDir(), sender, logger.NewNop())
	cfg := alertingConfig()

	assert.True(t, d.Offer(cfg, majorEvent("boom")))
	assert.False(t, d.Offer(cfg, majorEvent("boom")), "repeat within window suppressed")
	assert.True(t, d.Offer(cfg, majorEvent("other fault")))
	assert.Equal(t, 2, sender.count())
}

func TestOfferCriticalBypassesWindow(t *testing.T) {
	sender := &fakeSender{}
	d := NewDebouncer(t.TempDir(), sender, logger.NewNop())
	cfg := alertingConfig()

	ev := majorEvent("Kernel panic - not syncing")
	ev.Type = detector.TypeKernelPanic
	ev.Severity = detector.SeverityCritical

	assert.True(t, d.Offer(cfg, ev))
	assert.True(t, d.Offer(cfg, ev), "critical repeats when notify_critical is on")

	cfg.Alerts.NotifyCritical = false
	assert.False(t, d.Offer(cfg, ev))
}

func TestOfferFailedSendStaysEligible(t *testing.T) {
	sender := &fakeSender{fail: true}
	dir := t.TempDir()
	d := NewDebouncer(dir, sender, logger.NewNop())
	cfg := alertingConfig()

	assert.False(t, d.Offer(cfg, majorEvent("boom")))

	sender.fail = false
	assert.True(t, d.Offer(cfg, majorEvent("boom")), "state persists only after success")
}

func TestStateFileIsFlatEpochMap(t *testing.T) {
	sender := &fakeSender{}
	dir := t.TempDir()
	cfg := alertingConfig()

	d := NewDebouncer(dir, sender, logger.NewNop())
	require.True(t, d.Offer(cfg, majorEvent("boom")))

	raw, err := os.ReadFile(filepath.Join(dir, "alert_state.json"))
	require.NoError(t, err)
	var st map[string]float64
	require.NoError(t, json.Unmarshal(raw, &st))
	require.Len(t, st, 1)
	sec := st[Fingerprint(majorEvent("boom"))]
	assert.InDelta(t, float64(time.Now().Unix()), sec, 5)
}

func TestLoadAcceptsFractionalEpochSeconds(t *testing.T) {
	sender := &fakeSender{}
	dir := t.TempDir()
	cfg := alertingConfig()

	fp := Fingerprint(majorEvent("boom"))
	state := fmt.Sprintf(`{%q: %f}`, fp, float64(time.Now().Unix())+0.25)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alert_state.json"), []byte(state), 0o644))

	d := NewDebouncer(dir, sender, logger.NewNop())
	assert.False(t, d.Offer(cfg, majorEvent("boom")), "recent fingerprint from disk suppresses")
	assert.Equal(t, 0, sender.count())
}

func TestStateSurvivesRestart(t *testing.T) {
	sender := &fakeSender{}
	dir := t.TempDir()
	cfg := alertingConfig()

	d := NewDebouncer(dir, sender, logger.NewNop())
	require.True(t, d.Offer(cfg, majorEvent("boom")))

	reloaded := NewDebouncer(dir, sender, logger.NewNop())
	assert.False(t, reloaded.Offer(cfg, majorEvent("boom")))
	assert.Equal(t, 1, sender.count())
}
