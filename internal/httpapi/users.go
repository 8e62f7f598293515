package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cams-platform/cams/internal/httputil"
	"github.com/cams-platform/cams/internal/services/users"
)

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string   `json:"username"`
		Email    string   `json:"email"`
		FullName string   `json:"full_name"`
		Password string   `json:"password"`
		RoleIDs  []string `json:"role_ids"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}

	u, err := s.svc.Users.Create(r.Context(), users.CreateParams{
		Username: payload.Username,
		Email:    payload.Email,
		FullName: payload.FullName,
		Password: payload.Password,
		RoleIDs:  payload.RoleIDs,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	s.recordAudit(r, "user.create", "user", u.ID, fmt.Sprintf("created user %q", u.Username))
	httputil.WriteJSON(w, http.StatusCreated, u)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.svc.Users.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, u)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Users.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    *string `json:"email"`
		FullName *string `json:"full_name"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}

	u, err := s.svc.Users.Update(r.Context(), mux.Vars(r)["id"], users.UpdateParams{
		Email:    payload.Email,
		FullName: payload.FullName,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	s.recordAudit(r, "user.update", "user", u.ID, fmt.Sprintf("updated user %q", u.Username))
	httputil.WriteJSON(w, http.StatusOK, u)
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.svc.Users.Delete(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	// Outstanding tokens die with the account.
	s.svc.Auth.RevokeUserTokens(r.Context(), id)
	s.recordAudit(r, "user.delete", "user", id, "deleted user")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setUserPassword(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Password string `json:"password"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}

	id := mux.Vars(r)["id"]
	if err := s.svc.Users.SetPassword(r.Context(), id, payload.Password); err != nil {
		httputil.WriteError(w, err)
		return
	}
	s.svc.Auth.RevokeUserTokens(r.Context(), id)
	s.recordAudit(r, "user.set_password", "user", id, "changed password")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) assignUserRoles(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RoleIDs []string `json:"role_ids"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}

	u, err := s.svc.Users.AssignRoles(r.Context(), mux.Vars(r)["id"], payload.RoleIDs)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	s.recordAudit(r, "user.assign_roles", "user", u.ID,
		fmt.Sprintf("assigned %d roles to %q", len(payload.RoleIDs), u.Username))
	httputil.WriteJSON(w, http.StatusOK, u)
}

func (s *Server) setUserActive(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Active bool `json:"active"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}

	id := mux.Vars(r)["id"]
	u, err := s.svc.Users.SetActive(r.Context(), id, payload.Active)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !payload.Active {
		s.svc.Auth.RevokeUserTokens(r.Context(), id)
	}
	s.recordAudit(r, "user.set_active", "user", u.ID,
		fmt.Sprintf("set user %q active=%t", u.Username, payload.Active))
	httputil.WriteJSON(w, http.StatusOK, u)
}

func (s *Server) unlockUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.svc.Users.Unlock(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	s.recordAudit(r, "user.unlock", "user", u.ID, fmt.Sprintf("unlocked user %q", u.Username))
	httputil.WriteJSON(w, http.StatusOK, u)
}
