package api

import (
	"context"
	"net/http"

	"github.com/scout-sync/internal/cache"
)

// handleListPlayers lists players live or from the last snapshot
func (s *Server) handleListPlayers(w http.ResponseWriter, r *http.Request) {
	s.respondRead(w, r, s.deps.Cache.ListPlayers)
}

// handleListObservations lists observations live or from the last snapshot
func (s *Server) handleListObservations(w http.ResponseWriter, r *http.Request) {
	s.respondRead(w, r, s.deps.Cache.ListObservations)
}

func (s *Server) respondRead(w http.ResponseWriter, r *http.Request, read func(ctx context.Context) (*cache.ReadResult, error)) {
	result, err := read(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if result.FromCache {
		w.Header().Set("X-From-Cache", "true")
	}
	respondJSON(w, http.StatusOK, result)
}
