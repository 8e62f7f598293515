// Package audit records and queries the audit, security, and performance
// logs.
package audit

import (
	"context"
	"time"

	"github.com/cams-platform/cams/internal/domain/record"
	"github.com/cams-platform/cams/internal/errors"
	"github.com/cams-platform/cams/internal/logging"
	"github.com/cams-platform/cams/internal/storage"
)

const maxQueryLimit = 200

// Service writes and reads log records. Writes are best-effort: a failing
// log store must not fail the request that produced the record.
type Service struct {
	store storage.RecordStore
	log   *logging.Logger
}

// New constructs an audit service.
func New(store storage.RecordStore, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("audit")
	}
	return &Service{store: store, log: log}
}

// RecordAudit writes an audit record for a mutating operation. Actor and
// trace ID are taken from the context when set.
func (s *Service) RecordAudit(ctx context.Context, action, entityType, entityID, summary string) {
	rec := record.Record{
		Kind:       record.KindAudit,
		TraceID:    logging.GetTraceID(ctx),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Summary:    summary,
	}
	if actor, ok := ctx.Value(logging.UserIDKey).(string); ok {
		rec.Actor = actor
	}
	s.write(ctx, rec)
}

// RecordSecurity writes a security record. Implements auth.SecurityRecorder.
func (s *Service) RecordSecurity(ctx context.Context, event, actor, remoteAddr string, detail map[string]string) {
	s.write(ctx, record.Record{
		Kind:       record.KindSecurity,
		TraceID:    logging.GetTraceID(ctx),
		Event:      event,
		Actor:      actor,
		RemoteAddr: remoteAddr,
		Detail:     detail,
	})
	s.log.LogSecurityEvent(ctx, event, map[string]interface{}{"actor": actor, "remote_addr": remoteAddr})
}

// RecordPerformance writes a performance record.
func (s *Service) RecordPerformance(ctx context.Context, source, entityID string, duration time.Duration, cpuPercent, memPercent float64) {
	s.write(ctx, record.Record{
		Kind:       record.KindPerformance,
		Source:     source,
		EntityID:   entityID,
		DurationMs: duration.Milliseconds(),
		CPUPercent: cpuPercent,
		MemPercent: memPercent,
	})
}

func (s *Service) write(ctx context.Context, rec record.Record) {
	rec.At = time.Now().UTC()
	if _, err := s.store.CreateRecord(ctx, rec); err != nil {
		s.log.WithError(err).WithField("kind", rec.Kind).Warn("failed to persist log record")
	}
}

// Query returns records matching the filter, newest first. The limit is
// capped.
func (s *Service) Query(ctx context.Context, q record.Query) ([]record.Record, error) {
	if q.Kind != "" && !q.Kind.Valid() {
		return nil, errors.Validation("unknown record kind %q", q.Kind)
	}
	if q.Limit <= 0 || q.Limit > maxQueryLimit {
		q.Limit = maxQueryLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return s.store.QueryRecords(ctx, q)
}

// PurgeOlderThan deletes records of every kind older than the retention
// window and reports how many were removed.
func (s *Service) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	purged, err := s.store.PurgeRecordsBefore(ctx, "", cutoff)
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.log.WithField("purged", purged).
			WithField("cutoff", cutoff.Format(time.RFC3339)).
			Info("log records purged")
	}
	return purged, nil
}
