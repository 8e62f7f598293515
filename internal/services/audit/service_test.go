package audit

import (
	"context"
	"testing"
	"time"

	"github.com/cams-platform/cams/internal/domain/record"
	"github.com/cams-platform/cams/internal/errors"
	"github.com/cams-platform/cams/internal/logging"
	"github.com/cams-platform/cams/internal/storage/memory"
)

func TestRecordAuditCapturesActorAndTrace(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)

	ctx := context.WithValue(context.Background(), logging.UserIDKey, "user-1")
	ctx = logging.WithTraceID(ctx, "trace-abc")

	svc.RecordAudit(ctx, "create", "application", "app-1", "application created")

	recs, err := svc.Query(ctx, record.Query{Kind: record.KindAudit})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Actor != "user-1" {
		t.Fatalf("Actor = %q, want user-1", rec.Actor)
	}
	if rec.TraceID != "trace-abc" {
		t.Fatalf("TraceID = %q, want trace-abc", rec.TraceID)
	}
	if rec.Action != "create" || rec.EntityType != "application" || rec.EntityID != "app-1" {
		t.Fatalf("record = %+v", rec)
	}
	if rec.At.IsZero() {
		t.Fatal("At not set")
	}
}

func TestRecordSecurityAndPerformanceKinds(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	svc.RecordSecurity(ctx, record.EventLoginFailed, "alice", "10.0.0.1:5000", map[string]string{"username": "alice"})
	svc.RecordPerformance(ctx, "connection_test", "conn-1", 40*time.Millisecond, 0, 0)

	sec, err := svc.Query(ctx, record.Query{Kind: record.KindSecurity})
	if err != nil {
		t.Fatalf("Query security: %v", err)
	}
	if len(sec) != 1 || sec[0].Event != record.EventLoginFailed || sec[0].RemoteAddr != "10.0.0.1:5000" {
		t.Fatalf("security records = %+v", sec)
	}
	if sec[0].Detail["username"] != "alice" {
		t.Fatalf("Detail = %v", sec[0].Detail)
	}

	perf, err := svc.Query(ctx, record.Query{Kind: record.KindPerformance})
	if err != nil {
		t.Fatalf("Query performance: %v", err)
	}
	if len(perf) != 1 || perf[0].Source != "connection_test" || perf[0].DurationMs != 40 {
		t.Fatalf("performance records = %+v", perf)
	}
}

func TestQueryRejectsUnknownKind(t *testing.T) {
	svc := New(memory.New(), nil)
	if _, err := svc.Query(context.Background(), record.Query{Kind: "telemetry"}); !errors.IsCode(err, errors.CodeValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	now := time.Now().UTC()
	old := record.Record{Kind: record.KindAudit, Action: "old", At: now.Add(-72 * time.Hour)}
	if _, err := store.CreateRecord(ctx, old); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	svc.RecordAudit(ctx, "recent", "user", "u-1", "")

	purged, err := svc.PurgeOlderThan(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PurgeOlderThan: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}
	recs, err := svc.Query(ctx, record.Query{Kind: record.KindAudit})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(recs) != 1 || recs[0].Action != "recent" {
		t.Fatalf("remaining = %+v", recs)
	}
}
