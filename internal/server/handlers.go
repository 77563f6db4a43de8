package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/AlcorQi/kango/internal/config"
	"github.com/AlcorQi/kango/internal/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 500
	maxBodyBytes    = 4 << 20
)

// handleStats serves GET /api/v1/stats.
func (a *App) handleStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sum, err := a.Store.Stats(q.Get("window"), q.Get("host_id"), a.LastScan())
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to compute stats", nil)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// eventPage is the list-endpoint response shape.
type eventPage struct {
	Items   []*storage.Event `json:"items"`
	Page    int              `json:"page"`
	Size    int              `json:"size"`
	Total   int              `json:"total"`
	HasNext bool             `json:"has_next"`
}

type eventFilter struct {
	start, end string // wire-format bounds, empty = unbounded
	severities map[string]bool
	types      map[string]bool
	keyword    string
	hostID     string
}

func (f *eventFilter) match(ev *storage.Event) bool {
	if f.hostID != "" && ev.HostID != f.hostID {
		return false
	}
	if len(f.severities) > 0 && !f.severities[string(ev.Severity)] {
		return false
	}
	if len(f.types) > 0 && !f.types[string(ev.Type)] {
		return false
	}
	if f.start != "" && ev.DetectedAt < f.start {
		return false
	}
	if f.end != "" && ev.DetectedAt > f.end {
		return false
	}
	if f.keyword != "" {
		k := strings.ToLower(f.keyword)
		if !strings.Contains(strings.ToLower(ev.Message), k) &&
			!strings.Contains(strings.ToLower(ev.SourceFile), k) {
			return false
		}
	}
	return true
}

var sortableFields = map[string]bool{
	"detected_at": true,
	"severity":    true,
	"type":        true,
	"host_id":     true,
	"source_file": true,
	"line_number": true,
}

// severityRank orders severities by impact for sorting.
var severityRank = map[string]int{"critical": 3, "major": 2, "minor": 1}

func sortKey(ev *storage.Event, field string) string {
	switch field {
	case "severity":
		return strconv.Itoa(severityRank[string(ev.Severity)])
	case "type":
		return string(ev.Type)
	case "host_id":
		return ev.HostID
	case "source_file":
		return ev.SourceFile
	case "line_number":
		return fmt.Sprintf("%012d", ev.LineNumber)
	default:
		return ev.DetectedAt
	}
}

// handleEvents serves GET /api/v1/events.
func (a *App) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := eventFilter{
		keyword: q.Get("keyword"),
		hostID:  q.Get("host_id"),
	}
	for _, bound := range []struct {
		param string
		dst   *string
	}{{"start", &f.start}, {"end", &f.end}} {
		v := q.Get(bound.param)
		if v == "" {
			continue
		}
		if _, ok := storage.ParseDetectedAt(v); !ok {
			writeError(w, http.StatusBadRequest, codeInvalidArgument,
				"malformed timestamp", map[string]string{"param": bound.param})
			return
		}
		*bound.dst = v
	}
	if sevs := q["severity"]; len(sevs) > 0 {
		f.severities = make(map[string]bool, len(sevs))
		for _, s := range sevs {
			f.severities[s] = true
		}
	}
	if ts := q.Get("types"); ts != "" {
		f.types = make(map[string]bool)
		for _, t := range strings.Split(ts, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.types[t] = true
			}
		}
	}

	page, size, ok := parsePagination(q.Get("page"), q.Get("size"))
	if !ok {
		writeError(w, http.StatusBadRequest, codeInvalidArgument,
			"invalid pagination", map[string]string{"param": "page"})
		return
	}
	field, desc, ok := parseSort(q.Get("sort"))
	if !ok {
		writeError(w, http.StatusBadRequest, codeInvalidArgument,
			"invalid sort", map[string]string{"param": "sort"})
		return
	}

	var items []*storage.Event
	err := a.Store.Iterate(func(ev *storage.Event) bool {
		if f.match(ev) {
			copied := *ev
			items = append(items, &copied)
		}
		return true
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to read events", nil)
		return
	}

	sort.SliceStable(items, func(i, j int) bool {
		ki, kj := sortKey(items[i], field), sortKey(items[j], field)
		if desc {
			return ki > kj
		}
		return ki < kj
	})

	total := len(items)
	lo := (page - 1) * size
	if lo > total {
		lo = total
	}
	hi := lo + size
	if hi > total {
		hi = total
	}
	pageItems := items[lo:hi]
	if pageItems == nil {
		pageItems = []*storage.Event{}
	}
	writeJSON(w, http.StatusOK, eventPage{
		Items:   pageItems,
		Page:    page,
		Size:    size,
		Total:   total,
		HasNext: hi < total,
	})
}

func parsePagination(pageStr, sizeStr string) (page, size int, ok bool) {
	page, size = 1, defaultPageSize
	if pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p < 1 {
			return 0, 0, false
		}
		page = p
	}
	if sizeStr != "" {
		s, err := strconv.Atoi(sizeStr)
		if err != nil || s < 1 || s > maxPageSize {
			return 0, 0, false
		}
		size = s
	}
	return page, size, true
}

func parseSort(spec string) (field string, desc, ok bool) {
	if spec == "" {
		return "detected_at", true, true
	}
	parts := strings.SplitN(spec, ":", 2)
	field = parts[0]
	if !sortableFields[field] {
		return "", false, false
	}
	dir := "desc"
	if len(parts) == 2 {
		dir = parts[1]
	}
	switch dir {
	case "asc":
		return field, false, true
	case "desc":
		return field, true, true
	}
	return "", false, false
}

// handleEvent serves GET /api/v1/events/{id}.
func (a *App) handleEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ev, found, err := a.Store.Get(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to read events", nil)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, codeNotFound, "event not found", map[string]string{"id": id})
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handleHosts serves GET /api/v1/hosts.
func (a *App) handleHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := a.Store.Hosts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to read events", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"hosts": hosts})
}

// handleGetConfig serves GET /api/v1/config.
func (a *App) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Config.Read())
}

// handlePutConfig serves PUT /api/v1/config: whole-document replace with
// total validation. Any invalid field rejects the request and leaves the
// stored document untouched.
func (a *App) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidArgument, "failed to read body", nil)
		return
	}
	cfg := &config.Config{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidArgument, "body must be a JSON config document", nil)
		return
	}
	if err := config.ValidateReplacement(raw, cfg); err != nil {
		var details interface{}
		if verr, ok := err.(*config.ValidationError); ok && verr.Param != "" {
			details = map[string]string{"param": verr.Param}
		}
		writeError(w, http.StatusBadRequest, codeInvalidArgument, err.Error(), details)
		return
	}
	if err := a.Config.Write(cfg); err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to persist config", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
