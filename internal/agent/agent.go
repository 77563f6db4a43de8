package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AlcorQi/kango/internal/config"
	"github.com/AlcorQi/kango/internal/detector"
	"github.com/AlcorQi/kango/internal/logger"
	"github.com/AlcorQi/kango/internal/scanner"
	"github.com/AlcorQi/kango/internal/storage"
)

// postTimeout bounds one batch report to the server.
const postTimeout = 10 * time.Second

// Agent tails the local logs in-process and reports classified events to
// a central ingest server in batches. No subprocess is involved; the scan
// pass runs inside this process.
type Agent struct {
	ServerURL string // base URL, e.g. http://host:8087
	Token     string // optional X-Ingest-Token value

	cfg     *config.Store
	lib     *detector.Library
	offsets *scanner.OffsetStore
	tailer  *scanner.Tailer
	watcher *config.Watcher
	client  *http.Client
	log     logger.Logger
	host    string
	journal bool
}

// Options configures agent construction.
type Options struct {
	ServerURL   string
	Token       string
	DataDir     string
	ConfigPath  string
	PatternPath string
	Journal     bool // also drain the systemd journal each pass
	Log         logger.Logger
}

func New(opts Options) (*Agent, error) {
	log := opts.Log
	if log == nil {
		log = logger.NewNop()
	}
	cfgStore := config.NewStore(opts.ConfigPath)
	if err := cfgStore.Ensure(); err != nil {
		return nil, err
	}
	lib, err := detector.LoadLibraryFile(opts.PatternPath, log)
	if err != nil {
		return nil, err
	}
	offsets := scanner.NewOffsetStore(scanner.AgentOffsetsPath(opts.DataDir))
	return &Agent{
		ServerURL: opts.ServerURL,
		Token:     opts.Token,
		cfg:       cfgStore,
		lib:       lib,
		offsets:   offsets,
		tailer:    scanner.NewTailer(lib, offsets, log),
		client:    &http.Client{Timeout: postTimeout},
		log:       log,
		host:      storage.Hostname(),
		journal:   opts.Journal,
	}, nil
}

// Run loops scan passes until the context is cancelled. Each pass tails
// the configured sources, batches the findings, and reports them. The wait
// between passes breaks early when the watched config changes.
func (a *Agent) Run(ctx context.Context) error {
	a.watcher = config.NewWatcher(a.cfg.Path(), a.log)
	defer a.watcher.Close()

	for {
		cfg := a.cfg.Read()
		a.runOnce(ctx, cfg)
		if !a.wait(ctx, cfg.Snapshot()) {
			return nil
		}
	}
}

// runOnce performs one scan-and-report pass.
func (a *Agent) runOnce(ctx context.Context, cfg *config.Config) {
	enabled := detector.NewEnabledSet(cfg.Detection.EnabledDetectors)
	mode := detector.ParseMode(cfg.Detection.SearchMode)

	strict := cfg.Agent.CommitAfterAck
	var before map[string]int64
	if strict {
		before = a.offsets.Snapshot()
	}

	var batch []*storage.Event
	res, err := a.tailer.Pass(cfg.Detection.LogPaths, enabled, mode, a.host, func(ev *storage.Event) {
		batch = append(batch, ev)
	})
	if err != nil {
		a.log.Error("scan pass incomplete", err)
	}
	if a.journal {
		if n, jerr := scanner.DrainJournal(ctx, a.lib, enabled, mode, a.host, a.log, func(ev *storage.Event) {
			batch = append(batch, ev)
		}); jerr == nil {
			res.Events += n
		}
	}

	if !strict {
		// Eager commit: offsets advance even if the report fails. Events
		// stay reconstructable from the source logs.
		if err := a.offsets.Save(); err != nil {
			a.log.Error("failed to persist offsets", err)
		}
	}

	if len(batch) == 0 {
		if strict {
			if err := a.offsets.Save(); err != nil {
				a.log.Error("failed to persist offsets", err)
			}
		}
		return
	}

	if err := a.Report(ctx, batch); err != nil {
		a.log.WithField("events", len(batch)).Error("batch report failed", err)
		if strict {
			// Roll back so the next pass re-reads and re-sends the
			// unacknowledged lines.
			a.offsets.Restore(before)
		}
		return
	}
	a.log.WithFields(map[string]interface{}{
		"files":  res.FilesScanned,
		"events": len(batch),
	}).Info("batch reported")

	if strict {
		if err := a.offsets.Save(); err != nil {
			a.log.Error("failed to persist offsets", err)
		}
	}
}

// Report POSTs one event batch to the server's ingest endpoint.
func (a *Agent) Report(ctx context.Context, events []*storage.Event) error {
	body, err := json.Marshal(map[string]interface{}{"events": events})
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}
	url := a.ServerURL + "/api/v1/ingest"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.Token != "" {
		req.Header.Set("X-Ingest-Token", a.Token)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach ingest server: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ingest server returned %d", resp.StatusCode)
	}
	return nil
}

// wait sleeps until the scan interval elapses, ticking once a second and
// breaking early when the detection settings change underneath it.
func (a *Agent) wait(ctx context.Context, snap config.Snapshot) bool {
	deadline := time.Now().Add(time.Duration(snap.Interval) * time.Second)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var change <-chan struct{}
	if a.watcher != nil {
		change = a.watcher.C
	}
	for {
		select {
		case <-ctx.Done():
			return false
		case <-change:
			return true
		case <-ticker.C:
			if time.Now().After(deadline) {
				return true
			}
			if !a.cfg.Read().Snapshot().Equal(snap) {
				return true
			}
		}
	}
}
