package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cams-platform/cams/internal/httputil"
	"github.com/cams-platform/cams/internal/services/apps"
)

func (s *Server) createApplication(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name         string `json:"name"`
		Description  string `json:"description"`
		Environment  string `json:"environment"`
		TestSchedule string `json:"test_schedule"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}

	app, err := s.svc.Apps.Create(r.Context(), apps.CreateParams{
		Name:         payload.Name,
		Description:  payload.Description,
		Environment:  payload.Environment,
		TestSchedule: payload.TestSchedule,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	s.recordAudit(r, "application.create", "application", app.ID, fmt.Sprintf("created application %q", app.Name))
	httputil.WriteJSON(w, http.StatusCreated, app)
}

func (s *Server) getApplication(w http.ResponseWriter, r *http.Request) {
	app, err := s.svc.Apps.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, app)
}

func (s *Server) listApplications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.svc.Apps.List(r.Context(), q.Get("environment"), q.Get("active") == "true")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (s *Server) updateApplication(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name         *string `json:"name"`
		Description  *string `json:"description"`
		Environment  *string `json:"environment"`
		TestSchedule *string `json:"test_schedule"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}

	id := mux.Vars(r)["id"]
	app, err := s.svc.Apps.Update(r.Context(), id, apps.UpdateParams{
		Name:         payload.Name,
		Description:  payload.Description,
		Environment:  payload.Environment,
		TestSchedule: payload.TestSchedule,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	s.recordAudit(r, "application.update", "application", app.ID, fmt.Sprintf("updated application %q", app.Name))
	httputil.WriteJSON(w, http.StatusOK, app)
}

func (s *Server) deleteApplication(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.svc.Apps.Delete(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	s.recordAudit(r, "application.delete", "application", id, "deleted application")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) rotateAPIKey(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	app, err := s.svc.Apps.RotateAPIKey(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	s.recordAudit(r, "application.rotate_key", "application", app.ID, fmt.Sprintf("rotated API key for %q", app.Name))
	httputil.WriteJSON(w, http.StatusOK, app)
}

func (s *Server) setApplicationActive(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Active bool `json:"active"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}

	id := mux.Vars(r)["id"]
	app, err := s.svc.Apps.SetActive(r.Context(), id, payload.Active)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	s.recordAudit(r, "application.set_active", "application", app.ID,
		fmt.Sprintf("set application %q active=%t", app.Name, payload.Active))
	httputil.WriteJSON(w, http.StatusOK, app)
}
