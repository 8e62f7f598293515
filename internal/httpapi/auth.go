package httpapi

import (
	"net/http"

	"github.com/cams-platform/cams/internal/errors"
	"github.com/cams-platform/cams/internal/httputil"
	"github.com/cams-platform/cams/internal/middleware"
	"github.com/cams-platform/cams/internal/services/auth"
)

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}

	tokens, u, err := s.svc.Auth.Login(r.Context(), payload.Username, payload.Password, r.RemoteAddr)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, struct {
		auth.TokenPair
		User interface{} `json:"user"`
	}{TokenPair: tokens, User: u})
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}

	tokens, err := s.svc.Auth.Refresh(r.Context(), payload.RefreshToken)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tokens)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := s.svc.Auth.Logout(r.Context(), payload.RefreshToken); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		httputil.WriteError(w, errors.Unauthorized("not authenticated"))
		return
	}
	u, err := s.svc.Users.Get(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, u)
}
