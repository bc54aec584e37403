package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/maltedev/shophound/internal/journal"
	"github.com/maltedev/shophound/internal/pipeline"
)

// Runner is the orchestrator surface the API needs (for testing)
type Runner interface {
	RunStreaming(ctx context.Context, req pipeline.Request, sink pipeline.Emitter) (*pipeline.Summary, error)
}

// History is the journal surface the API needs (for testing)
type History interface {
	RecentRuns(ctx context.Context, limit int) ([]*journal.RunRecord, error)
	GetRun(ctx context.Context, id uuid.UUID) (*journal.RunRecord, error)
}

type healthCheck struct {
	name string
	ping func(ctx context.Context) error
}

type Handlers struct {
	runner      Runner
	history     History
	maxProducts int
	checks      []healthCheck
	logger      *slog.Logger
}

// NewHandlers wires the API. history may be nil when the run journal is
// disabled; the history endpoints then answer 503.
func NewHandlers(runner Runner, history History, maxProducts int, logger *slog.Logger) *Handlers {
	return &Handlers{
		runner:      runner,
		history:     history,
		maxProducts: maxProducts,
		logger:      logger.With("component", "api"),
	}
}

// CreateRunRequest starts an extraction run.
type CreateRunRequest struct {
	Query string   `json:"query"`
	URLs  []string `json:"urls"`
	// MaxProducts caps each site's batch. Omitted means the server
	// default; an explicit 0 is honored as-is.
	MaxProducts *int  `json:"max_products"`
	DeadlineMS  int64 `json:"deadline_ms"`
}

// CreateRun starts a run and streams its events to the caller as
// server-sent events, closing after run_summary. The run is bound to
// the request context, so a dropped connection cancels it.
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(req.URLs) == 0 {
		h.respondError(w, http.StatusBadRequest, "urls is required")
		return
	}

	maxProducts := h.maxProducts
	if req.MaxProducts != nil {
		maxProducts = *req.MaxProducts
	}

	runReq := pipeline.Request{
		Query:       req.Query,
		URLs:        req.URLs,
		MaxProducts: maxProducts,
		Deadline:    time.Duration(req.DeadlineMS) * time.Millisecond,
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		// No streaming support; run to completion and answer with the
		// summary alone.
		summary, err := h.runner.RunStreaming(r.Context(), runReq, nil)
		if err != nil {
			h.respondRunError(w, err)
			return
		}
		h.respondJSON(w, http.StatusOK, summary)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	sink := &sseEmitter{w: w, flusher: flusher}
	if _, err := h.runner.RunStreaming(r.Context(), runReq, sink); err != nil {
		// Headers are out already, so the error travels as a terminal
		// stream event.
		sink.emitError(err)
	}
}

func (h *Handlers) respondRunError(w http.ResponseWriter, err error) {
	if errors.Is(err, pipeline.ErrNoCandidateURLs) {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Error("run failed to start", "error", err)
	h.respondError(w, http.StatusInternalServerError, "failed to start run")
}

// ListRuns returns the newest journaled runs.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.respondError(w, http.StatusServiceUnavailable, "run history is disabled")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := h.history.RecentRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*journal.RunRecord{}
	}

	h.respondJSON(w, http.StatusOK, runs)
}

// GetRun returns one journaled run with its site outcomes.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.respondError(w, http.StatusServiceUnavailable, "run history is disabled")
		return
	}

	runID, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "run ID must be a UUID")
		return
	}

	run, err := h.history.GetRun(r.Context(), runID)
	if errors.Is(err, journal.ErrRunNotFound) {
		h.respondError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get run", "run_id", runID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	h.respondJSON(w, http.StatusOK, run)
}

// RegisterHealthCheck attaches a dependency probe to the health
// endpoint. Register checks before the router starts serving.
func (h *Handlers) RegisterHealthCheck(name string, ping func(ctx context.Context) error) {
	h.checks = append(h.checks, healthCheck{name: name, ping: ping})
}

// Health reports service liveness and the reachability of attached
// sinks. Any failing probe degrades the status to 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	health := map[string]interface{}{
		"status":  "ok",
		"history": h.history != nil,
	}

	status := http.StatusOK
	for _, check := range h.checks {
		if err := check.ping(ctx); err != nil {
			health[check.name] = err.Error()
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			health[check.name] = "ok"
		}
	}

	h.respondJSON(w, status, health)
}

// sseEmitter writes run events to an open response. The orchestrator
// calls Emit from a single goroutine, so no locking is needed here.
type sseEmitter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (e *sseEmitter) Emit(_ context.Context, ev *pipeline.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	e.flusher.Flush()
	return nil
}

func (e *sseEmitter) emitError(err error) {
	fmt.Fprintf(e.w, "event: error\ndata: %s\n\n", jsonError(err))
	e.flusher.Flush()
}

func jsonError(err error) []byte {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return data
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
