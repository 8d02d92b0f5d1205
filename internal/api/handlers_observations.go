package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/scout-sync/internal/models"
	"github.com/scout-sync/internal/queue"
	"github.com/scout-sync/internal/types"
)

// OfflineListResponse is the queue listing
type OfflineListResponse struct {
	Items []*models.OfflineObservation `json:"items"`
	Count int                          `json:"count"`
}

// handleListOffline lists queue entries, optionally filtered by
// ?status=pending,failed
func (s *Server) handleListOffline(w http.ResponseWriter, r *http.Request) {
	var statuses []types.SyncStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				statuses = append(statuses, types.SyncStatus(part))
			}
		}
	}

	items, err := s.deps.Queue.List(r.Context(), statuses...)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if items == nil {
		items = []*models.OfflineObservation{}
	}

	respondJSON(w, http.StatusOK, OfflineListResponse{Items: items, Count: len(items)})
}

// handleQueueStats returns per-status counts
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Queue.Stats(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// handleGetOffline returns one queue entry
func (s *Server) handleGetOffline(w http.ResponseWriter, r *http.Request) {
	obs, err := s.deps.Queue.Get(r.Context(), mux.Vars(r)["localId"])
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, obs)
}

// handleEnqueue queues an observation regardless of connectivity
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var in queue.ObservationInput
	if err := parseJSONBody(r, &in); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	obs, err := s.deps.Queue.Add(r.Context(), in)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, obs)
}

// handleSubmitObservation writes an observation through to the remote store
// when possible and queues it otherwise
func (s *Server) handleSubmitObservation(w http.ResponseWriter, r *http.Request) {
	var in queue.ObservationInput
	if err := parseJSONBody(r, &in); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	result, err := s.deps.Submissions.Submit(r.Context(), in)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Queued {
		status = http.StatusAccepted
	}
	respondJSON(w, status, result)
}
