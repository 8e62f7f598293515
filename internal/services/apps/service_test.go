package apps

import (
	"context"
	"strings"
	"testing"

	"github.com/cams-platform/cams/internal/errors"
	"github.com/cams-platform/cams/internal/storage/memory"
)

func TestCreateApplication(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	app, err := svc.Create(ctx, CreateParams{
		Name:         "billing",
		Environment:  "prod",
		TestSchedule: "*/15 * * * *",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(app.APIKey, "cams_") {
		t.Fatalf("unexpected api key %q", app.APIKey)
	}
	if !app.IsActive {
		t.Fatalf("new applications should be active")
	}
	if app.NextTestDue.IsZero() {
		t.Fatalf("schedule should compute a next due time")
	}
}

func TestCreateApplicationValidation(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateParams{Name: "", Environment: "prod"}); !errors.IsCode(err, errors.CodeValidation) {
		t.Fatalf("expected validation error for empty name, got %v", err)
	}
	if _, err := svc.Create(ctx, CreateParams{Name: "x", Environment: "production"}); !errors.IsCode(err, errors.CodeValidation) {
		t.Fatalf("expected validation error for bad environment, got %v", err)
	}
	if _, err := svc.Create(ctx, CreateParams{Name: "x", Environment: "prod", TestSchedule: "bad cron"}); !errors.IsCode(err, errors.CodeValidation) {
		t.Fatalf("expected validation error for bad schedule, got %v", err)
	}
}

func TestRotateAPIKey(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	app, err := svc.Create(ctx, CreateParams{Name: "billing", Environment: "dev"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rotated, err := svc.RotateAPIKey(ctx, app.ID)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if rotated.APIKey == app.APIKey {
		t.Fatalf("api key did not change")
	}

	if _, err := svc.GetByAPIKey(ctx, app.APIKey); !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("old key should no longer resolve, got %v", err)
	}
	found, err := svc.GetByAPIKey(ctx, rotated.APIKey)
	if err != nil || found.ID != app.ID {
		t.Fatalf("new key lookup failed: %v", err)
	}
}

func TestSetActiveTogglesSchedule(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	app, err := svc.Create(ctx, CreateParams{
		Name: "billing", Environment: "prod", TestSchedule: "@hourly",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	off, err := svc.SetActive(ctx, app.ID, false)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if !off.NextTestDue.IsZero() {
		t.Fatalf("deactivation should clear the next due time")
	}

	on, err := svc.SetActive(ctx, app.ID, true)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if on.NextTestDue.IsZero() {
		t.Fatalf("activation should recompute the next due time")
	}
}

func TestUpdateScheduleRecomputesNextDue(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	app, err := svc.Create(ctx, CreateParams{Name: "billing", Environment: "prod"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !app.NextTestDue.IsZero() {
		t.Fatalf("no schedule means no due time")
	}

	expr := "*/5 * * * *"
	updated, err := svc.Update(ctx, app.ID, UpdateParams{TestSchedule: &expr})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.NextTestDue.IsZero() {
		t.Fatalf("setting a schedule should compute a due time")
	}

	empty := ""
	cleared, err := svc.Update(ctx, app.ID, UpdateParams{TestSchedule: &empty})
	if err != nil {
		t.Fatalf("clear schedule: %v", err)
	}
	if !cleared.NextTestDue.IsZero() {
		t.Fatalf("clearing the schedule should clear the due time")
	}
}
