package http

import (
	"net/http"

	"burnrate/internal/auth"
)

func (s *Server) handleStartSync(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserFrom(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Sync.Start(r.Context(), userID); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.deps.Sync.Progress(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, p)
}

func (s *Server) handleSyncProgress(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserFrom(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.deps.Sync.Progress(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCancelSync(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserFrom(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Sync.Cancel(r.Context(), userID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
