package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/obsidianstack/sortline/internal/alerts"
	"github.com/obsidianstack/sortline/internal/compute"
	"github.com/obsidianstack/sortline/internal/conveyor"
	"github.com/obsidianstack/sortline/internal/dashboard"
	"github.com/obsidianstack/sortline/internal/notify"
	"github.com/obsidianstack/sortline/internal/store"
)

// requestTimeout bounds store calls made on behalf of one request.
const requestTimeout = 10 * time.Second

// maxBodyBytes caps request bodies.
const maxBodyBytes = 4 << 10

// Deps are the components the API reads and drives.
type Deps struct {
	Log       *store.Log
	Dashboard *dashboard.Controller
	Conveyor  *conveyor.Scheduler
	Alerts    *alerts.Engine
	Notifier  notify.Notifier

	// Clients reports connected websocket clients for /metrics. Optional.
	Clients func() int
}

// Handler is the HTTP handler for all /api/v1/* endpoints and /metrics.
type Handler struct {
	deps Deps
	mux  *http.ServeMux
}

// New creates a Handler and registers all routes. mutating wraps the
// state-changing routes (auth middleware); nil leaves them open.
func New(deps Deps, mutating func(http.Handler) http.Handler) http.Handler {
	if deps.Notifier == nil {
		deps.Notifier = notify.Logger{}
	}
	if mutating == nil {
		mutating = func(h http.Handler) http.Handler { return h }
	}
	h := &Handler{deps: deps, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/snapshot", h.snapshot)
	h.mux.Handle("/api/v1/events", mutating(http.HandlerFunc(h.events)))
	h.mux.Handle("/api/v1/filter", mutating(http.HandlerFunc(h.filter)))
	h.mux.Handle("/api/v1/conveyor/start", mutating(http.HandlerFunc(h.start)))
	h.mux.Handle("/api/v1/conveyor/stop", mutating(http.HandlerFunc(h.stop)))
	h.mux.Handle("/api/v1/conveyor/fault", mutating(http.HandlerFunc(h.fault)))
	h.mux.HandleFunc("/api/v1/alerts", h.alerts)
	h.mux.HandleFunc("/metrics", h.metrics)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health: conveyor status and log stream state.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := HealthResponse{
		State:      "ok",
		Conveyor:   h.deps.Conveyor.Status(),
		Phase:      h.deps.Conveyor.Machine().Phase(),
		EventCount: len(h.deps.Dashboard.Events()),
		AlertCount: h.deps.Alerts.Firing(),
	}
	if err := h.deps.Dashboard.StreamErr(); err != nil {
		resp.State = "degraded"
		resp.StreamError = err.Error()
	}
	jsonResp(w, http.StatusOK, resp)
}

// snapshot returns GET /api/v1/snapshot: the live dashboard snapshot.
// ?filter= computes a one-off snapshot without changing the active filter.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query().Get("filter")
	if q == "" {
		jsonResp(w, http.StatusOK, h.deps.Dashboard.Snapshot())
		return
	}
	f, err := compute.ParseFilter(q)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, compute.Aggregate(h.deps.Dashboard.Events(), f, time.Now()))
}

// events serves GET /api/v1/events (newest first, ?limit=n) and
// DELETE /api/v1/events (clear the whole log).
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listEvents(w, r)
	case http.MethodDelete:
		h.clearEvents(w, r)
	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			jsonErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	evs, err := h.deps.Log.Events(ctx)
	if err != nil {
		slog.Error("api: list events failed", "err", err)
		jsonErr(w, http.StatusInternalServerError, "failed to read event log")
		return
	}
	if limit > 0 && len(evs) > limit {
		evs = evs[:limit]
	}
	jsonResp(w, http.StatusOK, EventsResponse{Events: evs, Count: len(evs)})
}

func (h *Handler) clearEvents(w http.ResponseWriter, r *http.Request) {
	h.deps.Notifier.Notify("Clearing all log data...", notify.SeverityInfo)

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	n, err := h.deps.Log.Clear(ctx)
	if err != nil {
		slog.Error("api: clear log failed", "err", err)
		h.deps.Notifier.Notify("Failed to clear log.", notify.SeverityError)
		jsonErr(w, http.StatusInternalServerError, "failed to clear event log")
		return
	}
	h.deps.Notifier.Notify("Log cleared successfully.", notify.SeveritySuccess)
	jsonResp(w, http.StatusOK, ClearResponse{Removed: n})
}

// filter serves GET and PUT /api/v1/filter.
func (h *Handler) filter(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jsonResp(w, http.StatusOK, FilterResponse{Filter: h.deps.Dashboard.Filter().String()})
	case http.MethodPut:
		var req FilterRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			jsonErr(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		f, err := compute.ParseFilter(req.Filter)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, err.Error())
			return
		}
		h.deps.Dashboard.SetFilter(f)
		jsonResp(w, http.StatusOK, FilterResponse{Filter: f.String()})
	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// start serves POST /api/v1/conveyor/start.
func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := h.deps.Conveyor.Start(); err != nil {
		jsonErr(w, http.StatusConflict, err.Error())
		return
	}
	h.conveyorResp(w, http.StatusOK)
}

// stop serves POST /api/v1/conveyor/stop.
func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	h.deps.Conveyor.Stop()
	h.conveyorResp(w, http.StatusOK)
}

// fault serves POST /api/v1/conveyor/fault.
func (h *Handler) fault(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	ev, err := h.deps.Conveyor.Fault(ctx)
	switch {
	case errors.Is(err, conveyor.ErrNotRunning):
		jsonErr(w, http.StatusConflict, "start conveyor to simulate a fault")
	case err != nil:
		jsonErr(w, http.StatusInternalServerError, "failed to log fault")
	default:
		jsonResp(w, http.StatusCreated, FaultResponse{Event: ev, Status: h.deps.Conveyor.Status()})
	}
}

// alerts returns GET /api/v1/alerts: firing and recently resolved alerts.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.deps.Alerts.Active())
}

// --- helpers ----------------------------------------------------------------

func (h *Handler) conveyorResp(w http.ResponseWriter, code int) {
	jsonResp(w, code, ConveyorResponse{
		Active: h.deps.Conveyor.Active(),
		Status: h.deps.Conveyor.Status(),
	})
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
