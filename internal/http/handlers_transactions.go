package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"burnrate/internal/auth"
	"burnrate/internal/core"
)

// maxListDays bounds GET /api/transactions ranges.
const maxListDays = 366

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserFrom(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	now := s.deps.Now().In(s.deps.Location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.deps.Location)

	to, err := parseDateParam(r, "to", s.deps.Location, today)
	if err != nil {
		writeError(w, r, err)
		return
	}
	from, err := parseDateParam(r, "from", s.deps.Location, to.AddDate(0, 0, -30))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if to.Sub(from) > maxListDays*24*time.Hour {
		writeError(w, r, core.NewValidationError("from", "range longer than a year"))
		return
	}

	// to is a whole day.
	end := to.AddDate(0, 0, 1).Add(-time.Second)
	views, err := s.deps.Budget.Transactions(r.Context(), userID, from, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleUpdateComment(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserFrom(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body struct {
		Comment string `json:"comment"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Budget.UpdateComment(r.Context(), userID, chi.URLParam(r, "id"), body.Comment); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleOverride serves the exclusion (exclude=true) and inclusion lists.
func (s *Server) handleOverride(exclude, on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := auth.UserFrom(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		txID := chi.URLParam(r, "id")
		if exclude {
			err = s.deps.Budget.SetExcluded(r.Context(), userID, txID, on)
		} else {
			err = s.deps.Budget.SetIncluded(r.Context(), userID, txID, on)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleAssignCategory(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserFrom(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body struct {
		Key string `json:"key"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Budget.AssignCategory(r.Context(), userID, chi.URLParam(r, "id"), body.Key); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnassignCategory(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserFrom(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Budget.UnassignCategory(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
