// Package api exposes the serve-mode HTTP surface: run triggers, state
// inspection, health, and metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/querytrail/querytrail/internal/config"
	"github.com/querytrail/querytrail/internal/pipeline"
	"github.com/querytrail/querytrail/internal/state"
)

// DayDispatcher triggers whole-day runs.
type DayDispatcher interface {
	DispatchDay(ctx context.Context, date time.Time) (pipeline.DayResult, error)
}

// StateReader loads per-date completion state.
type StateReader interface {
	Load(ctx context.Context, date time.Time) (state.HourlyState, error)
}

// Backend bundles everything the handler calls into the pipeline. Config
// hot-reloads rebuild a Backend and swap it in atomically.
type Backend struct {
	Dispatcher DayDispatcher
	Runner     pipeline.HourRunner
	States     StateReader
	Location   *time.Location
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	backend atomic.Pointer[Backend]
	loader  *config.Loader
	mux     *http.ServeMux
}

// New creates an HTTP handler and registers all routes.
func New(backend *Backend, loader *config.Loader) *Handler {
	h := &Handler{loader: loader, mux: http.NewServeMux()}
	h.backend.Store(backend)

	h.mux.HandleFunc("POST /v1/runs", h.triggerRun)
	h.mux.HandleFunc("GET /v1/state/{date}", h.getState)
	h.mux.HandleFunc("POST /v1/config/reload", h.reloadConfig)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	loggingMiddleware(h.mux).ServeHTTP(w, r)
}

// Swap atomically replaces the backend (used on config hot-reload).
func (h *Handler) Swap(backend *Backend) {
	h.backend.Store(backend)
}

// Backend returns the current backend.
func (h *Handler) Backend() *Backend {
	return h.backend.Load()
}

// runRequest triggers either a single hour (hour set) or a whole day. An
// empty report_date defaults to yesterday in the configured timezone.
type runRequest struct {
	ReportDate string `json:"report_date"`
	Hour       *int   `json:"hour"`
}

// POST /v1/runs — trigger a single-hour run or a whole-day dispatch.
func (h *Handler) triggerRun(w http.ResponseWriter, r *http.Request) {
	b := h.backend.Load()

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}

	date, err := resolveDate(req.ReportDate, b.Location)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Hour != nil {
		if *req.Hour < 0 || *req.Hour > 23 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("hour must be 0-23, got %d", *req.Hour))
			return
		}
		res, err := b.Runner.ProcessHour(r.Context(), date, *req.Hour)
		if err != nil {
			res.Error = err.Error()
			writeJSON(w, http.StatusInternalServerError, res)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	res, err := b.Dispatcher.DispatchDay(r.Context(), date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// GET /v1/state/{date} — the hourly completion state for a date.
func (h *Handler) getState(w http.ResponseWriter, r *http.Request) {
	b := h.backend.Load()

	date, err := time.ParseInLocation("2006-01-02", r.PathValue("date"), b.Location)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("date must be YYYY-MM-DD: %s", err))
		return
	}
	st, err := b.States.Load(r.Context(), date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"report_date":     date.Format("2006-01-02"),
		"processed_hours": st.ProcessedHours,
		"status":          st.Status,
	})
}

// POST /v1/config/reload — hot-reload the config from disk.
func (h *Handler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.loader.Reload()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := config.Validate(cfg); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	// Registered OnChange callbacks rebuild and swap the backend.
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded":    true,
		"bucket":      cfg.Bucket,
		"output_type": cfg.OutputType,
	})
}

// GET /healthz — always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz — 503 until the current config validates.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if err := config.Validate(h.loader.Config()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not ready",
			"reason": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// resolveDate parses value as YYYY-MM-DD in loc, defaulting to yesterday.
func resolveDate(value string, loc *time.Location) (time.Time, error) {
	if value == "" {
		return time.Now().In(loc).AddDate(0, 0, -1), nil
	}
	date, err := time.ParseInLocation("2006-01-02", value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("report_date must be YYYY-MM-DD: %s", err)
	}
	return date, nil
}
