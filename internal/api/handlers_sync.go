package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	apperrors "github.com/scout-sync/internal/errors"
)

// handleHealth reports local store health plus the queue summary
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.deps.Sync.Status()
	body := map[string]interface{}{
		"status":       "healthy",
		"service":      "scout-sync",
		"online":       state.Online,
		"pendingCount": state.PendingCount,
		"isSyncing":    state.IsSyncing,
	}

	if s.deps.LocalStore != nil {
		if err := s.deps.LocalStore.Health(r.Context()); err != nil {
			body["status"] = "unhealthy"
			body["error"] = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}

	respondJSON(w, http.StatusOK, body)
}

// handleSyncStatus returns the synchronizer state the pending badge renders
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.deps.Sync.Status())
}

// handleSyncNow runs one drain pass. The pass is detached from the request
// so a client disconnect does not leave entries half-processed.
func (s *Server) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Connectivity.IsOnline() {
		respondServiceError(w, apperrors.NewOfflineError("sync"))
		return
	}

	result, err := s.deps.Sync.SyncPending(context.WithoutCancel(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	status := http.StatusOK
	if result.Skipped {
		status = http.StatusAccepted
	}
	respondJSON(w, status, result)
}

// handleRetry retries one entry on demand, including exhausted ones
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	localID := mux.Vars(r)["localId"]

	result, err := s.deps.Sync.RetryItem(context.WithoutCancel(r.Context()), localID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}
