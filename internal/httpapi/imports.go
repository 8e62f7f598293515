package httpapi

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/cams-platform/cams/internal/errors"
	"github.com/cams-platform/cams/internal/httputil"
	"github.com/cams-platform/cams/internal/middleware"
	importsvc "github.com/cams-platform/cams/internal/services/imports"
)

// defaultImportBody bounds the import document size when no limit is
// configured.
const defaultImportBody = 16 << 20

func (s *Server) submitImport(w http.ResponseWriter, r *http.Request) {
	limit := s.importMaxBytes
	if limit <= 0 {
		limit = defaultImportBody
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		httputil.WriteError(w, errors.Validation("failed to read request body"))
		return
	}
	if int64(len(raw)) > limit {
		httputil.WriteError(w, errors.Validation("import document exceeds %d bytes", limit))
		return
	}

	job, err := s.svc.Imports.Submit(r.Context(), raw, middleware.GetUsername(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	s.recordAudit(r, "import.submit", "import_job", job.ID, "submitted bulk import")
	httputil.WriteJSON(w, http.StatusAccepted, struct {
		Job     interface{} `json:"job"`
		Channel string      `json:"channel"`
	}{Job: job, Channel: importsvc.ProgressChannel(job.ID)})
}

func (s *Server) getImportJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.Imports.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, job)
}

func (s *Server) listImportJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	list, err := s.svc.Imports.List(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}
