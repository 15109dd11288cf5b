package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"traceview/internal/clients/events"
	"traceview/internal/config"
	"traceview/internal/metrics"
	"traceview/internal/orchestrator"
	"traceview/internal/render"
)

// Handler holds the server dependencies
type Handler struct {
	cfg          *config.Config
	orchestrator *orchestrator.Orchestrator
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// NewHandler creates a new handler. m may be nil, in which case /metrics is not served.
func NewHandler(cfg *config.Config, orch *orchestrator.Orchestrator, m *metrics.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:          cfg,
		orchestrator: orch,
		metrics:      m,
		logger:       logger,
	}
}

// RegisterRoutes registers all HTTP routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Get("/ready", h.HandleReady)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/organizations/{org}/traces/{traceID}/views", h.HandleOpenView)
		r.Get("/views", h.HandleListViews)
		r.Route("/views/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGetView)
			r.Delete("/", h.HandleCloseView)
			r.Post("/rows/{row}/expand", h.HandleExpand)
			r.Post("/rows/{row}/zoom", h.HandleZoom)
		})
	})
}

type viewResponse struct {
	ID      string       `json:"id"`
	Org     string       `json:"org"`
	TraceID string       `json:"trace_id"`
	Rows    []render.Row `json:"rows"`
}

type viewSummary struct {
	ID        string    `json:"id"`
	Org       string    `json:"org"`
	TraceID   string    `json:"trace_id"`
	Rows      int       `json:"rows"`
	CreatedAt time.Time `json:"created_at"`
}

type expandRequest struct {
	Expanded bool `json:"expanded"`
}

type expandResponse struct {
	Changed bool         `json:"changed"`
	Rows    []render.Row `json:"rows"`
}

type zoomRequest struct {
	Zoomed bool `json:"zoomed"`
}

type zoomResponse struct {
	EventID string       `json:"event_id,omitempty"`
	Rows    []render.Row `json:"rows"`
}

// HandleOpenView fetches a trace and opens a view of it.
func (h *Handler) HandleOpenView(w http.ResponseWriter, r *http.Request) {
	org, traceID := chi.URLParam(r, "org"), chi.URLParam(r, "traceID")

	view, err := h.orchestrator.Open(r.Context(), org, traceID)
	if err != nil {
		h.logger.Error("Failed to open view", "org", org, "traceID", traceID, "error", err)
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, viewResponse{
		ID:      view.ID,
		Org:     view.Org,
		TraceID: view.TraceID,
		Rows:    render.Rows(view.Tree),
	})
}

// HandleListViews lists the open views.
func (h *Handler) HandleListViews(w http.ResponseWriter, r *http.Request) {
	views := h.orchestrator.List()
	out := make([]viewSummary, 0, len(views))
	for _, v := range views {
		out = append(out, viewSummary{ID: v.ID, Org: v.Org, TraceID: v.TraceID, Rows: v.Tree.Len(), CreatedAt: v.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleGetView returns the rows of a view, as JSON or as text with ?format=text.
func (h *Handler) HandleGetView(w http.ResponseWriter, r *http.Request) {
	view, err := h.orchestrator.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	rows := render.Rows(view.Tree)
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		opts := render.Options{}
		if h.cfg != nil {
			opts.Indent = h.cfg.Render.Indent
		}
		if err := render.Text(w, rows, opts); err != nil {
			h.logger.Warn("Failed to write text view", "view", view.ID, "error", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, viewResponse{ID: view.ID, Org: view.Org, TraceID: view.TraceID, Rows: rows})
}

// HandleCloseView drops a view.
func (h *Handler) HandleCloseView(w http.ResponseWriter, r *http.Request) {
	if err := h.orchestrator.Close(chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleExpand expands or collapses a row.
func (h *Handler) HandleExpand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	row, ok := rowParam(w, r)
	if !ok {
		return
	}
	var req expandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid expand payload", http.StatusBadRequest)
		return
	}

	changed, err := h.orchestrator.Expand(id, row, req.Expanded)
	if err != nil {
		h.writeError(w, err)
		return
	}
	view, err := h.orchestrator.Get(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, expandResponse{Changed: changed, Rows: render.Rows(view.Tree)})
}

// HandleZoom zooms a row in or out, fetching its spans when needed.
func (h *Handler) HandleZoom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	row, ok := rowParam(w, r)
	if !ok {
		return
	}
	var req zoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid zoom payload", http.StatusBadRequest)
		return
	}

	event, err := h.orchestrator.Zoom(r.Context(), id, row, req.Zoomed)
	if err != nil {
		h.writeError(w, err)
		return
	}
	view, err := h.orchestrator.Get(id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := zoomResponse{Rows: render.Rows(view.Tree)}
	if event != nil {
		resp.EventID = event.EventID
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleHealth returns health status
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReady returns readiness status
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	if h.orchestrator == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func rowParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	row, err := strconv.Atoi(chi.URLParam(r, "row"))
	if err != nil {
		http.Error(w, "Invalid row index", http.StatusBadRequest)
		return 0, false
	}
	return row, true
}

// writeError maps domain errors to status codes. Anything unrecognised came
// from the upstream API.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, orchestrator.ErrViewNotFound),
		errors.Is(err, orchestrator.ErrRowOutOfRange),
		errors.Is(err, orchestrator.ErrPathNotFound),
		errors.Is(err, events.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, context.Canceled):
		status = http.StatusRequestTimeout
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
