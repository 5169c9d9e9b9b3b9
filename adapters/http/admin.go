// Package http exposes the diagnostics surface: health, metrics, queue
// and model introspection, the journal tail, and a manual resync
// trigger. It is an operator tool, not a public API.
package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/artfold/designbridge/app"
	"github.com/artfold/designbridge/ports"
)

// Handler serves the admin endpoints.
type Handler struct {
	sched   *app.Scheduler
	store   ports.ModelStore
	journal ports.Journal // nil when journaling is disabled
	resync  *app.Resyncer
	metrics bool
	logger  zerolog.Logger
}

// New creates the admin handler.
func New(sched *app.Scheduler, store ports.ModelStore, journal ports.Journal, resync *app.Resyncer, metricsEnabled bool, logger zerolog.Logger) *Handler {
	return &Handler{
		sched:   sched,
		store:   store,
		journal: journal,
		resync:  resync,
		metrics: metricsEnabled,
		logger:  logger.With().Str("component", "admin").Logger(),
	}
}

// Router builds the chi router.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/queue", h.getQueue)
		r.Get("/model", h.getModel)
		r.Get("/journal", h.getJournal)
		r.Post("/resync", h.postResync)
	})
	return r
}

func (h *Handler) getQueue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.sched.Stats())
}

func (h *Handler) getModel(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Snapshot())
}

func (h *Handler) getJournal(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "journal disabled"})
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	entries, err := h.journal.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("journal query failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "journal query failed"})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type resyncRequest struct {
	Scope      string `json:"scope"` // "all" or "document"
	DocumentID string `json:"document_id,omitempty"`
}

func (h *Handler) postResync(w http.ResponseWriter, r *http.Request) {
	var req resyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	var err error
	switch req.Scope {
	case "all":
		err = h.resync.All(r.Context())
	case "document":
		if req.DocumentID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document_id required"})
			return
		}
		err = h.resync.Document(r.Context(), req.DocumentID)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": `scope must be "all" or "document"`})
		return
	}

	if err != nil {
		h.logger.Error().Err(err).Str("scope", req.Scope).Msg("manual resync failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resynced"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
