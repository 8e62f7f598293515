package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cams-platform/cams/internal/domain/application"
	"github.com/cams-platform/cams/internal/errors"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func appRows(apps ...application.Application) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "name", "description", "environment", "api_key", "is_active",
		"test_schedule", "next_test_due", "created_at", "updated_at",
	})
	for _, a := range apps {
		rows.AddRow(a.ID, a.Name, a.Description, string(a.Environment), a.APIKey,
			a.IsActive, a.TestSchedule, a.NextTestDue, a.CreatedAt, a.UpdatedAt)
	}
	return rows
}

func TestGetApplication(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	want := application.Application{
		ID: "app-1", Name: "billing", Environment: application.EnvProduction,
		APIKey: "cams_abc", IsActive: true, TestSchedule: "*/5 * * * *",
		NextTestDue: now.Add(time.Minute), CreatedAt: now, UpdatedAt: now,
	}
	mock.ExpectQuery(`SELECT .+ FROM applications WHERE id = \$1`).
		WithArgs("app-1").
		WillReturnRows(appRows(want))

	got, err := store.GetApplication(context.Background(), "app-1")
	if err != nil {
		t.Fatalf("GetApplication: %v", err)
	}
	if got.Name != "billing" || got.Environment != application.EnvProduction {
		t.Fatalf("got = %+v", got)
	}
	if !got.NextTestDue.Equal(want.NextTestDue) {
		t.Fatalf("NextTestDue = %v, want %v", got.NextTestDue, want.NextTestDue)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetApplicationNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM applications WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnRows(appRows())

	_, err := store.GetApplication(context.Background(), "ghost")
	if !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateApplicationDuplicateName(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO applications`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "applications_name_key"})

	_, err := store.CreateApplication(context.Background(), application.Application{
		Name: "billing", Environment: application.EnvProduction,
	})
	if !errors.IsCode(err, errors.CodeConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateApplicationNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE applications`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := store.UpdateApplication(context.Background(), application.Application{
		ID: "ghost", Name: "x", Environment: application.EnvDevelopment,
	})
	if !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestListDueApplications(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	due := application.Application{
		ID: "app-1", Name: "billing", Environment: application.EnvProduction,
		IsActive: true, TestSchedule: "*/5 * * * *",
		NextTestDue: now.Add(-time.Minute), CreatedAt: now, UpdatedAt: now,
	}
	mock.ExpectQuery(`SELECT .+ FROM applications\s+WHERE is_active AND test_schedule`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(appRows(due))

	got, err := store.ListDueApplications(context.Background(), now)
	if err != nil {
		t.Fatalf("ListDueApplications: %v", err)
	}
	if len(got) != 1 || got[0].ID != "app-1" {
		t.Fatalf("got = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDeleteApplicationNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM applications WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeleteApplication(context.Background(), "ghost")
	if !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPing(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := New(sqlx.NewDb(db, "postgres"))

	mock.ExpectPing()
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
