package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// Router builds the API router with CORS applied to every route.
func (a *App) Router() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/ingest", a.handleIngest).Methods(http.MethodPost)
	api.HandleFunc("/stats", a.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/events", a.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/events/{id}", a.handleEvent).Methods(http.MethodGet)
	api.HandleFunc("/hosts", a.handleHosts).Methods(http.MethodGet)
	api.HandleFunc("/config", a.handleGetConfig).Methods(http.MethodGet)
	api.HandleFunc("/config", a.handlePutConfig).Methods(http.MethodPut)
	api.Handle("/stream", a.Hub).Methods(http.MethodGet)
	api.HandleFunc("/ai/suggestions", a.handleSuggestions).Methods(http.MethodGet)
	api.HandleFunc("/ai/generate", a.handleGenerate).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeError(w, http.StatusNotFound, codeNotFound, "no such endpoint", nil)
	})

	return withCORS(r)
}

// withCORS allows dashboard origins and answers preflight requests.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Ingest-Token")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleSuggestions serves GET /api/v1/ai/suggestions.
func (a *App) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Report.Fetch(r.Context()))
}

// handleGenerate serves POST /api/v1/ai/generate.
func (a *App) handleGenerate(w http.ResponseWriter, r *http.Request) {
	res, err := a.Report.Generate(r.Context())
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidArgument, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Serve starts the background loops and blocks serving HTTP until the
// context is cancelled, then shuts down gracefully.
func (a *App) Serve(ctx context.Context, addr string) error {
	a.Start(ctx)

	srv := &http.Server{
		Addr:         addr,
		Handler:      a.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE connections stay open indefinitely
		IdleTimeout:  120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	a.Log.WithField("addr", addr).Info("ingest server listening")
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.Watcher != nil {
		a.Watcher.Close()
	}
	return srv.Shutdown(shutdownCtx)
}
