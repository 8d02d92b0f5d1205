package api

import (
	"net/http"
)

// ConnectivityRequest sets the connectivity signal
type ConnectivityRequest struct {
	Online *bool `json:"online"`
}

func (s *Server) handleGetConnectivity(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]bool{"online": s.deps.Connectivity.IsOnline()})
}

// handleSetConnectivity lets an event-based client report network changes
func (s *Server) handleSetConnectivity(w http.ResponseWriter, r *http.Request) {
	var req ConnectivityRequest
	if err := parseJSONBody(r, &req); err != nil || req.Online == nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Body must be {\"online\": true|false}", nil)
		return
	}

	s.deps.Connectivity.SetOnline(*req.Online)
	respondJSON(w, http.StatusOK, map[string]bool{"online": s.deps.Connectivity.IsOnline()})
}
