package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"burnrate/internal/auth"
	"burnrate/internal/core"
	"burnrate/internal/services"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserFrom(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	settings, err := s.deps.Settings.Get(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserFrom(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	var u services.SettingsUpdate
	if err := decodeJSON(w, r, &u); err != nil {
		writeError(w, r, err)
		return
	}
	settings, err := s.deps.Settings.Update(r.Context(), userID, u)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleSetToken(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserFrom(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Settings.SetToken(r.Context(), userID, body.Token); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserFrom(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := s.deps.Categories.List(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleSaveCategory(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserFrom(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	var c core.CustomCategory
	if err := decodeJSON(w, r, &c); err != nil {
		writeError(w, r, err)
		return
	}
	saved, err := s.deps.Categories.Save(r.Context(), userID, c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserFrom(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Categories.Delete(r.Context(), userID, chi.URLParam(r, "key")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
