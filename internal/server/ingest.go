package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/AlcorQi/kango/internal/storage"
)

// ingestBody accepts either a batch envelope or a single bare event. The
// optional token mirrors the X-Ingest-Token header for clients that cannot
// set headers.
type ingestBody struct {
	Token  string           `json:"token"`
	Events []*storage.Event `json:"events"`
}

type ingestResult struct {
	Status    string `json:"status"`
	Received  int    `json:"received"`
	Processed int    `json:"processed"`
}

// handleIngest serves POST /api/v1/ingest: the server-side write path from
// agent batches to persistence. Invalid events inside a batch are skipped,
// never fatal to their siblings.
func (a *App) handleIngest(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidArgument, "failed to read body", nil)
		return
	}

	var body ingestBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Events == nil {
		// Fall back to a single bare event object.
		var single storage.Event
		if err := json.Unmarshal(raw, &single); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidArgument, "body must be an event or {events:[...]}", nil)
			return
		}
		body.Events = []*storage.Event{&single}
	}

	cfg := a.Config.Read()
	if cfg.TokenRequired() {
		token := r.Header.Get("X-Ingest-Token")
		if token == "" {
			token = body.Token
		}
		if token != cfg.Security.IngestToken {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "invalid ingest token", nil)
			return
		}
	}

	received := len(body.Events)
	processed := 0
	for _, ev := range body.Events {
		if ev == nil || !ev.Normalize() {
			continue
		}
		if err := a.Store.Append(ev); err != nil {
			a.Log.Error("failed to persist ingested event", err)
			continue
		}
		processed++
		a.Debouncer.Offer(cfg, ev)
	}

	if processed > 0 {
		a.MarkScan()
		a.maybeKickGC(cfg)
	}

	writeJSON(w, http.StatusOK, ingestResult{
		Status:    "success",
		Received:  received,
		Processed: processed,
	})
}
