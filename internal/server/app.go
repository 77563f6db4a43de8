package server

import (
	"context"
	"sync"
	"time"

	"github.com/AlcorQi/kango/internal/alert"
	"github.com/AlcorQi/kango/internal/config"
	"github.com/AlcorQi/kango/internal/detector"
	"github.com/AlcorQi/kango/internal/logger"
	"github.com/AlcorQi/kango/internal/report"
	"github.com/AlcorQi/kango/internal/scanner"
	"github.com/AlcorQi/kango/internal/storage"
)

// Options configures App construction.
type Options struct {
	DataDir     string
	ConfigPath  string
	PatternPath string // optional YAML pattern-library override
	GenCmd      string // external report generator command
	Journal     bool   // also drain the systemd journal each scan pass
	Log         logger.Logger
}

// App owns every service of the ingest server and wires them together.
// All background loops are started exactly once by Start and stop when its
// context is cancelled.
type App struct {
	Log       logger.Logger
	Config    *config.Store
	Store     *storage.Store
	Library   *detector.Library
	Offsets   *scanner.OffsetStore
	Tailer    *scanner.Tailer
	Debouncer *alert.Debouncer
	Hub       *SSEHub
	Janitor   *storage.Janitor
	Report    *report.Service
	Watcher   *config.Watcher

	journal bool

	mu       sync.Mutex
	started  bool
	lastScan string
}

// NewApp builds the service graph. Nothing runs until Start.
func NewApp(opts Options) (*App, error) {
	log := opts.Log
	if log == nil {
		log = logger.NewNop()
	}

	cfgStore := config.NewStore(opts.ConfigPath)
	if err := cfgStore.Ensure(); err != nil {
		return nil, err
	}
	store := storage.NewStore(opts.DataDir, log)
	if err := store.Ensure(); err != nil {
		return nil, err
	}
	lib, err := detector.LoadLibraryFile(opts.PatternPath, log)
	if err != nil {
		return nil, err
	}
	offsets := scanner.NewOffsetStore(scanner.IngestOffsetsPath(opts.DataDir))

	app := &App{
		Log:       log,
		Config:    cfgStore,
		Store:     store,
		Library:   lib,
		Offsets:   offsets,
		Tailer:    scanner.NewTailer(lib, offsets, log),
		Debouncer: alert.NewDebouncer(opts.DataDir, alert.NewMailer(log), log),
		Janitor:   storage.NewJanitor(store, cfgStore, offsets, log),
		Report:    report.NewService(opts.DataDir, opts.GenCmd, log),
		journal:   opts.Journal,
	}
	app.Hub = NewSSEHub(func() int {
		return cfgStore.Read().Security.SSEMaxClients
	}, log)
	return app, nil
}

// LastScan returns the most recent scan-pass timestamp, empty before the
// first pass.
func (a *App) LastScan() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastScan
}

// MarkScan records that a scan or ingest pass completed now.
func (a *App) MarkScan() {
	a.mu.Lock()
	a.lastScan = storage.NowUTC()
	a.mu.Unlock()
}

// maybeKickGC requests an immediate retention pass when the event count
// exceeds the configured cap.
func (a *App) maybeKickGC(cfg *config.Config) {
	n, err := a.Store.Count()
	if err != nil {
		return
	}
	if cfg.Detection.RetentionMaxEvents > 0 && n > cfg.Detection.RetentionMaxEvents {
		a.Janitor.Kick()
	}
}

// Start launches the background loops: the local detection loop, the
// retention janitor, the SSE heartbeat, and the event-log tail follower.
// Calling Start twice is a no-op.
func (a *App) Start(ctx context.Context) {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return
	}
	a.started = true
	a.mu.Unlock()

	a.Watcher = config.NewWatcher(a.Config.Path(), a.Log)

	go a.Janitor.Run(ctx)
	go a.Hub.RunHeartbeat(ctx.Done())
	go NewTailFollower(a.Store, a.Hub, a.Log).Run(ctx.Done())
	go a.runScanLoop(ctx)
}

// runScanLoop is the server-local detection loop: one incremental pass,
// then an interruptible wait for the configured interval. A config change
// notification breaks the wait early so new settings take effect at once.
func (a *App) runScanLoop(ctx context.Context) {
	for {
		cfg := a.Config.Read()
		if cfg.LocalDetection() {
			a.scanOnce(cfg)
		}
		if !a.waitInterval(ctx, time.Duration(cfg.ScanInterval())*time.Second) {
			return
		}
	}
}

// scanOnce runs one incremental pass over the configured sources.
func (a *App) scanOnce(cfg *config.Config) {
	enabled := detector.NewEnabledSet(cfg.Detection.EnabledDetectors)
	mode := detector.ParseMode(cfg.Detection.SearchMode)
	host := storage.Hostname()

	emit := func(ev *storage.Event) {
		if err := a.Store.Append(ev); err != nil {
			a.Log.Error("failed to persist event", err)
			return
		}
		a.Debouncer.Offer(cfg, ev)
	}

	res, err := a.Tailer.Pass(cfg.Detection.LogPaths, enabled, mode, host, emit)
	if err != nil {
		a.Log.Error("scan pass incomplete", err)
	}
	if err := a.Offsets.Save(); err != nil {
		a.Log.Error("failed to persist offsets", err)
	}
	if a.journal {
		if n, jerr := scanner.DrainJournal(context.Background(), a.Library, enabled, mode, host, a.Log, emit); jerr == nil {
			res.Events += n
		}
	}

	a.MarkScan()
	if res.Events > 0 {
		a.Log.WithFields(map[string]interface{}{
			"files":  res.FilesScanned,
			"events": res.Events,
		}).Info("scan pass found anomalies")
	}
	a.maybeKickGC(cfg)
}

// waitInterval sleeps for d, waking early on a config change. Returns
// false when the context is done.
func (a *App) waitInterval(ctx context.Context, d time.Duration) bool {
	var change <-chan struct{}
	if a.Watcher != nil {
		change = a.Watcher.C
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-change:
		return true
	case <-ctx.Done():
		return false
	}
}
