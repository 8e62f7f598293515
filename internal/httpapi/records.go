package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cams-platform/cams/internal/domain/record"
	"github.com/cams-platform/cams/internal/errors"
	"github.com/cams-platform/cams/internal/httputil"
)

const maxPageSize = 200

func (s *Server) queryRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	query := record.Query{
		Kind:       record.Kind(q.Get("kind")),
		Actor:      q.Get("actor"),
		Event:      q.Get("event"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
	}

	var err error
	if query.Since, err = parseTimeParam(q.Get("since")); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if query.Until, err = parseTimeParam(q.Get("until")); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if query.Limit, query.Offset, err = pagination(r); err != nil {
		httputil.WriteError(w, err)
		return
	}

	list, err := s.svc.Audit.Query(r.Context(), query)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, struct {
		Records []record.Record `json:"records"`
		Limit   int             `json:"limit"`
		Offset  int             `json:"offset"`
	}{Records: list, Limit: query.Limit, Offset: query.Offset})
}

func parseTimeParam(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, errors.Validation("time %q is not RFC 3339", value)
	}
	return ts, nil
}

// pagination reads limit/offset query parameters with a server-side cap.
func pagination(r *http.Request) (limit, offset int, err error) {
	limit = 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return 0, 0, errors.Validation("limit %q is not a positive integer", raw)
		}
		if limit > maxPageSize {
			limit = maxPageSize
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, errors.Validation("offset %q is not a non-negative integer", raw)
		}
	}
	return limit, offset, nil
}
