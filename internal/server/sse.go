package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/AlcorQi/kango/internal/logger"
	"github.com/AlcorQi/kango/internal/storage"
)

const (
	// sseHeartbeat is the ping cadence that keeps idle connections from
	// being reaped by proxies.
	sseHeartbeat = 15 * time.Second
	// ssePollInterval is how often the tail follower re-checks the event
	// log for new lines after hitting EOF.
	ssePollInterval = 1 * time.Second
	// sseClientBuffer is the per-client frame queue. A client that cannot
	// drain it loses frames rather than stalling the broadcaster.
	sseClientBuffer = 64
)

// SSEHub fans persisted events out to connected dashboard clients as
// server-sent events. Broadcasts never block: slow clients drop frames.
type SSEHub struct {
	log        logger.Logger
	maxClients func() int

	mu      sync.Mutex
	clients map[chan []byte]bool
}

func NewSSEHub(maxClients func() int, log logger.Logger) *SSEHub {
	if log == nil {
		log = logger.NewNop()
	}
	return &SSEHub{
		log:        log,
		maxClients: maxClients,
		clients:    make(map[chan []byte]bool),
	}
}

// ClientCount returns the number of connected clients.
func (h *SSEHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues one event frame for every connected client.
func (h *SSEHub) Broadcast(ev *storage.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	frame := []byte(fmt.Sprintf("id: %s\nevent: anomaly\ndata: %s\n\n", ev.ID, payload))

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- frame:
		default: // client too slow, drop the frame
		}
	}
}

// ping queues a heartbeat event for every client.
func (h *SSEHub) ping() {
	frame := []byte(fmt.Sprintf("event: ping\ndata: {\"ts\":%q}\n\n", storage.NowUTC()))
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- frame:
		default:
		}
	}
}

// RunHeartbeat pings all clients every 15 seconds until stop is closed.
func (h *SSEHub) RunHeartbeat(stop <-chan struct{}) {
	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.ping()
		case <-stop:
			return
		}
	}
}

func (h *SSEHub) subscribe() (chan []byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit := h.maxClients(); limit > 0 && len(h.clients) >= limit {
		return nil, false
	}
	ch := make(chan []byte, sseClientBuffer)
	h.clients[ch] = true
	return ch, true
}

func (h *SSEHub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, ch)
}

// ServeHTTP is the GET /api/v1/stream handler. It holds the connection
// open, relaying broadcast frames until the client goes away.
func (h *SSEHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, codeInternal, "streaming unsupported", nil)
		return
	}

	ch, ok := h.subscribe()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, codeInternal, "too many stream clients", nil)
		return
	}
	defer h.unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "event: open\ndata: {\"status\":\"connected\",\"ts\":%q}\n\n", storage.NowUTC())
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case frame := <-ch:
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// TailFollower re-reads the event log from its current end and broadcasts
// every newly appended event. It survives truncation (the retention GC
// rewriting the log) by reseeking to the new end, and deduplicates ids it
// has already relayed in this run.
type TailFollower struct {
	store *storage.Store
	hub   *SSEHub
	log   logger.Logger
}

func NewTailFollower(store *storage.Store, hub *SSEHub, log logger.Logger) *TailFollower {
	if log == nil {
		log = logger.NewNop()
	}
	return &TailFollower{store: store, hub: hub, log: log}
}

// Run follows the log until stop is closed.
func (t *TailFollower) Run(stop <-chan struct{}) {
	path := t.store.Path()
	var off int64
	if info, err := os.Stat(path); err == nil {
		off = info.Size()
	}
	seen := make(map[string]bool)

	ticker := time.NewTicker(ssePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			off = t.drain(path, off, seen)
		case <-stop:
			return
		}
	}
}

func (t *TailFollower) drain(path string, off int64, seen map[string]bool) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return off
	}
	if info.Size() < off {
		// Log rewritten by GC; follow from the new end.
		return info.Size()
	}
	if info.Size() == off {
		return off
	}

	f, err := os.Open(path)
	if err != nil {
		return off
	}
	defer f.Close()
	if _, err := f.Seek(off, 0); err != nil {
		return off
	}

	r := bufio.NewReader(f)
	for {
		line, rerr := r.ReadBytes('\n')
		if rerr != nil {
			// Partial trailing line stays unread until the writer finishes it.
			return off
		}
		off += int64(len(line))
		var ev storage.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		if ev.ID != "" && seen[ev.ID] {
			continue
		}
		if ev.ID != "" {
			seen[ev.ID] = true
		}
		t.hub.Broadcast(&ev)
	}
}
