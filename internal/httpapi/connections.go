package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cams-platform/cams/internal/httputil"
	"github.com/cams-platform/cams/internal/services/connections"
)

func (s *Server) createConnection(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name         string            `json:"name"`
		Driver       string            `json:"driver"`
		Host         string            `json:"host"`
		Port         int               `json:"port"`
		DatabaseName string            `json:"database_name"`
		Username     string            `json:"username"`
		Password     string            `json:"password"`
		Options      map[string]string `json:"options"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}

	conn, err := s.svc.Connections.Create(r.Context(), connections.CreateParams{
		ApplicationID: mux.Vars(r)["id"],
		Name:          payload.Name,
		Driver:        payload.Driver,
		Host:          payload.Host,
		Port:          payload.Port,
		DatabaseName:  payload.DatabaseName,
		Username:      payload.Username,
		Password:      payload.Password,
		Options:       payload.Options,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	s.recordAudit(r, "connection.create", "connection", conn.ID, fmt.Sprintf("created connection %q", conn.Name))
	httputil.WriteJSON(w, http.StatusCreated, conn)
}

func (s *Server) getConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.svc.Connections.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, conn)
}

func (s *Server) listConnections(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Connections.ListByApplication(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (s *Server) updateConnection(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name         *string           `json:"name"`
		Driver       *string           `json:"driver"`
		Host         *string           `json:"host"`
		Port         *int              `json:"port"`
		DatabaseName *string           `json:"database_name"`
		Username     *string           `json:"username"`
		Password     *string           `json:"password"`
		Options      map[string]string `json:"options"`
		IsActive     *bool             `json:"is_active"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}

	conn, err := s.svc.Connections.Update(r.Context(), mux.Vars(r)["id"], connections.UpdateParams{
		Name:         payload.Name,
		Driver:       payload.Driver,
		Host:         payload.Host,
		Port:         payload.Port,
		DatabaseName: payload.DatabaseName,
		Username:     payload.Username,
		Password:     payload.Password,
		Options:      payload.Options,
		IsActive:     payload.IsActive,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	s.recordAudit(r, "connection.update", "connection", conn.ID, fmt.Sprintf("updated connection %q", conn.Name))
	httputil.WriteJSON(w, http.StatusOK, conn)
}

func (s *Server) deleteConnection(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.svc.Connections.Delete(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	s.recordAudit(r, "connection.delete", "connection", id, "deleted connection")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) testConnection(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	result, err := s.svc.Connections.Test(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	s.recordAudit(r, "connection.test", "connection", id,
		fmt.Sprintf("ran connection test, passed=%t", result.Passed))
	httputil.WriteJSON(w, http.StatusOK, result)
}
