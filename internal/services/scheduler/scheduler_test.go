package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cams-platform/cams/internal/domain/application"
	"github.com/cams-platform/cams/internal/domain/connection"
	"github.com/cams-platform/cams/internal/services/connections"
	"github.com/cams-platform/cams/internal/storage/memory"
)

type countingTester struct {
	mu     sync.Mutex
	tested []string
}

func (c *countingTester) Test(_ context.Context, conn connection.Connection, _ string) connection.TestResult {
	c.mu.Lock()
	c.tested = append(c.tested, conn.ID)
	c.mu.Unlock()
	return connection.TestResult{ConnectionID: conn.ID, Passed: true, TestedAt: time.Now().UTC()}
}

func TestSweepTestsDueApplications(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)

	due, err := store.CreateApplication(ctx, application.Application{
		Name:         "due-app",
		Environment:  application.EnvProduction,
		IsActive:     true,
		TestSchedule: "*/5 * * * *",
		NextTestDue:  now.Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("CreateApplication: %v", err)
	}
	notDue, err := store.CreateApplication(ctx, application.Application{
		Name:         "later-app",
		Environment:  application.EnvProduction,
		IsActive:     true,
		TestSchedule: "*/5 * * * *",
		NextTestDue:  now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateApplication: %v", err)
	}

	active, err := store.CreateConnection(ctx, connection.Connection{
		ApplicationID: due.ID, Name: "primary", Driver: connection.DriverPostgres,
		Host: "db", Port: 5432, IsActive: true,
	})
	if err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}
	if _, err := store.CreateConnection(ctx, connection.Connection{
		ApplicationID: due.ID, Name: "retired", Driver: connection.DriverPostgres,
		Host: "db", Port: 5433, IsActive: false,
	}); err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}
	if _, err := store.CreateConnection(ctx, connection.Connection{
		ApplicationID: notDue.ID, Name: "other", Driver: connection.DriverPostgres,
		Host: "db", Port: 5434, IsActive: true,
	}); err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}

	tester := &countingTester{}
	connSvc := connections.New(store, store, nil, nil, connections.WithTester(tester))

	sched := New(store, store, connSvc, nil, Config{}, nil)
	sched.now = func() time.Time { return now }

	sched.Sweep(ctx)

	if len(tester.tested) != 1 || tester.tested[0] != active.ID {
		t.Fatalf("tested connections = %v, want only %s", tester.tested, active.ID)
	}

	fresh, err := store.GetApplication(ctx, due.ID)
	if err != nil {
		t.Fatalf("GetApplication: %v", err)
	}
	// */5 from 12:00:30 fires next at 12:05:00.
	want := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	if !fresh.NextTestDue.Equal(want) {
		t.Fatalf("NextTestDue = %v, want %v", fresh.NextTestDue, want)
	}

	later, err := store.GetApplication(ctx, notDue.ID)
	if err != nil {
		t.Fatalf("GetApplication: %v", err)
	}
	if !later.NextTestDue.Equal(now.Add(time.Hour)) {
		t.Fatalf("NextTestDue for idle app moved to %v", later.NextTestDue)
	}
}

func TestSweepSecondPassIsIdle(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	app, err := store.CreateApplication(ctx, application.Application{
		Name:         "app",
		Environment:  application.EnvDevelopment,
		IsActive:     true,
		TestSchedule: "0 * * * *",
		NextTestDue:  now.Add(-time.Second),
	})
	if err != nil {
		t.Fatalf("CreateApplication: %v", err)
	}
	if _, err := store.CreateConnection(ctx, connection.Connection{
		ApplicationID: app.ID, Name: "c", Driver: connection.DriverMySQL,
		Host: "db", Port: 3306, IsActive: true,
	}); err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}

	tester := &countingTester{}
	connSvc := connections.New(store, store, nil, nil, connections.WithTester(tester))
	sched := New(store, store, connSvc, nil, Config{}, nil)
	sched.now = func() time.Time { return now }

	sched.Sweep(ctx)
	if len(tester.tested) != 1 {
		t.Fatalf("first sweep tested %d connections, want 1", len(tester.tested))
	}

	// The due time advanced past now, so an immediate second sweep is a no-op.
	sched.Sweep(ctx)
	if len(tester.tested) != 1 {
		t.Fatalf("second sweep ran tests again; tested = %v", tester.tested)
	}
}
