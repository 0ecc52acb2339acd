package archiver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/blockedby/tg-archiver/internal/recorder"
)

// LedgerReader reads channel ledgers.
type LedgerReader interface {
	Ledger(ctx context.Context, channelID int64) (*recorder.Ledger, error)
}

// Handler handles HTTP requests for the archiver
type Handler struct {
	manager     *RunManager
	ledgers     LedgerReader
	defaultPath string
}

// NewHandler creates a new handler with the given manager
func NewHandler(manager *RunManager, ledgers LedgerReader, defaultPath string) *Handler {
	return &Handler{
		manager:     manager,
		ledgers:     ledgers,
		defaultPath: defaultPath,
	}
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// StartResponse is returned when a run is accepted.
type StartResponse struct {
	RunID     string    `json:"runId"`
	Status    string    `json:"status"`
	Channel   string    `json:"channel"`
	StartedAt time.Time `json:"startedAt"`
}

// StartArchive handles POST /api/v1/archive
func (h *Handler) StartArchive(w http.ResponseWriter, r *http.Request) {
	var req ArchiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	opts, err := req.Options(h.defaultPath)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := h.manager.Start(r.Context(), opts)
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyRunning):
			respondError(w, http.StatusConflict, err.Error())
		case errors.Is(err, ErrChannelUnresolved):
			respondError(w, http.StatusUnprocessableEntity, err.Error())
		case IsValidationError(err):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	respondJSON(w, http.StatusAccepted, StartResponse{
		RunID:     run.ID,
		Status:    "running",
		Channel:   run.Options.Channel,
		StartedAt: run.StartedAt,
	})
}

// ListRuns handles GET /api/v1/archive
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("active") == "true" {
		respondJSON(w, http.StatusOK, h.manager.Active())
		return
	}
	respondJSON(w, http.StatusOK, h.manager.List())
}

// RunStatus handles GET /api/v1/archive/{id}
func (h *Handler) RunStatus(w http.ResponseWriter, r *http.Request) {
	run, ok := h.manager.Get(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, ErrRunNotFound.Error())
		return
	}
	respondJSON(w, http.StatusOK, run.Snapshot())
}

// StopRun handles DELETE /api/v1/archive/{id}
func (h *Handler) StopRun(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Stop(chi.URLParam(r, "id")); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "archive run stopping",
	})
}

// GetLedger handles GET /api/v1/ledger/{channelId}
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "channelId"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "channel id must be numeric")
		return
	}
	if h.ledgers == nil {
		respondError(w, http.StatusServiceUnavailable, "ledger store not configured")
		return
	}

	l, err := h.ledgers.Ledger(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if l == nil {
		respondError(w, http.StatusNotFound, "no archive record for channel")
		return
	}
	respondJSON(w, http.StatusOK, l)
}

// helper functions

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
