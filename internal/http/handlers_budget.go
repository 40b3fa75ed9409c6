package http

import (
	"net/http"

	"burnrate/internal/auth"
)

func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserFrom(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	anchor, err := parseDateParam(r, "date", s.deps.Location, s.deps.Now().In(s.deps.Location))
	if err != nil {
		writeError(w, r, err)
		return
	}
	skip, err := parseBoolParam(r, "skipHistorical")
	if err != nil {
		writeError(w, r, err)
		return
	}

	mb, err := s.deps.Budget.Month(r.Context(), userID, anchor, skip)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mb)
}

func (s *Server) handleSaveSnapshots(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserFrom(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	anchor, err := parseDateParam(r, "date", s.deps.Location, s.deps.Now().In(s.deps.Location))
	if err != nil {
		writeError(w, r, err)
		return
	}
	force, err := parseBoolParam(r, "force")
	if err != nil {
		writeError(w, r, err)
		return
	}

	saved, err := s.deps.Budget.SaveSnapshots(r.Context(), userID, anchor, force)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"saved": saved})
}

func (s *Server) handleCategoryTotals(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserFrom(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	anchor, err := parseDateParam(r, "date", s.deps.Location, s.deps.Now().In(s.deps.Location))
	if err != nil {
		writeError(w, r, err)
		return
	}

	totals, err := s.deps.Budget.Categories(r.Context(), userID, anchor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserFrom(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	anchor, err := parseDateParam(r, "date", s.deps.Location, s.deps.Now().In(s.deps.Location))
	if err != nil {
		writeError(w, r, err)
		return
	}

	ref, err := s.deps.Budget.Export(r.Context(), userID, anchor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"range": ref})
}
