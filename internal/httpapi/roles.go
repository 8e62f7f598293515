package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cams-platform/cams/internal/httputil"
)

func (s *Server) createRole(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Permissions []string `json:"permissions"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}

	created, err := s.svc.Roles.Create(r.Context(), payload.Name, payload.Description, payload.Permissions)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	s.recordAudit(r, "role.create", "role", created.ID, fmt.Sprintf("created role %q", created.Name))
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (s *Server) getRole(w http.ResponseWriter, r *http.Request) {
	found, err := s.svc.Roles.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, found)
}

func (s *Server) listRoles(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Roles.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (s *Server) updateRole(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name        *string  `json:"name"`
		Description *string  `json:"description"`
		Permissions []string `json:"permissions"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}

	updated, err := s.svc.Roles.Update(r.Context(), mux.Vars(r)["id"], payload.Name, payload.Description, payload.Permissions)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	s.recordAudit(r, "role.update", "role", updated.ID, fmt.Sprintf("updated role %q", updated.Name))
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteRole(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.svc.Roles.Delete(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	s.recordAudit(r, "role.delete", "role", id, "deleted role")
	w.WriteHeader(http.StatusNoContent)
}
