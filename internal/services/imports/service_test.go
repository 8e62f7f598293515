package imports

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/cams-platform/cams/internal/domain/imports"
	"github.com/cams-platform/cams/internal/errors"
	"github.com/cams-platform/cams/internal/services/apps"
	"github.com/cams-platform/cams/internal/services/connections"
	"github.com/cams-platform/cams/internal/services/roles"
	"github.com/cams-platform/cams/internal/services/users"
	"github.com/cams-platform/cams/internal/storage/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []imports.Progress
}

func (p *recordingPublisher) Publish(_ string, _ string, payload interface{}) {
	progress, ok := payload.(imports.Progress)
	if !ok {
		return
	}
	p.mu.Lock()
	p.events = append(p.events, progress)
	p.mu.Unlock()
}

func (p *recordingPublisher) last() (imports.Progress, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return imports.Progress{}, false
	}
	return p.events[len(p.events)-1], true
}

func newImportService(t *testing.T, opts ...Option) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	roleSvc := roles.New(store, nil)
	userSvc := users.New(store, store, nil, users.WithBcryptCost(bcrypt.MinCost))
	appSvc := apps.New(store, nil)
	connSvc := connections.New(store, store, nil, nil)
	svc := New(store, store, roleSvc, userSvc, appSvc, connSvc, nil, opts...)
	return svc, store
}

func waitForJob(t *testing.T, svc *Service, id string) imports.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := svc.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if job.Status != imports.StatusRunning {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("import job did not finish in time")
	return imports.Job{}
}

func TestSniff(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"not json", `{"roles": [`, false},
		{"not an object", `[1, 2]`, false},
		{"section not array", `{"roles": {"name": "x"}}`, false},
		{"no records", `{"roles": [], "users": []}`, false},
		{"valid", `{"roles": [{"name": "a"}], "users": [{"username": "b"}, {"username": "c"}]}`, true},
	}
	for _, tc := range cases {
		totals, err := Sniff([]byte(tc.raw))
		if tc.ok != (err == nil) {
			t.Fatalf("%s: err = %v, want ok=%v", tc.name, err, tc.ok)
		}
		if err != nil {
			if !errors.IsCode(err, errors.CodeValidation) {
				t.Fatalf("%s: err = %v, want validation code", tc.name, err)
			}
			continue
		}
		if totals["roles"] != 1 || totals["users"] != 2 {
			t.Fatalf("%s: totals = %v", tc.name, totals)
		}
	}
}

func TestSubmitAppliesDocumentInDependencyOrder(t *testing.T) {
	events := &recordingPublisher{}
	svc, store := newImportService(t, WithEventPublisher(events))
	ctx := context.Background()

	doc := `{
		"connections": [{
			"application": "billing", "name": "primary", "driver": "postgres",
			"host": "db.internal", "port": 5432, "database_name": "billing",
			"username": "app", "password": "s3cret"
		}],
		"applications": [{"name": "billing", "environment": "prod"}],
		"users": [{"username": "ops", "email": "ops@example.com", "password": "passw0rd1", "roles": ["operator"]}],
		"roles": [{"name": "operator", "permissions": ["applications.*", "connections.*"]}]
	}`

	job, err := svc.Submit(ctx, []byte(doc), "admin")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Status != imports.StatusRunning {
		t.Fatalf("initial status = %q, want %q", job.Status, imports.StatusRunning)
	}

	done := waitForJob(t, svc, job.ID)
	if done.Status != imports.StatusCompleted {
		t.Fatalf("status = %q, errors = %v", done.Status, done.Errors)
	}
	if done.Imported != 4 || done.Failed != 0 {
		t.Fatalf("imported = %d failed = %d, want 4/0", done.Imported, done.Failed)
	}

	// The connection record referenced an application defined later in the
	// document, so ordering made it resolvable.
	app, err := store.GetApplicationByName(ctx, "billing")
	if err != nil {
		t.Fatalf("GetApplicationByName: %v", err)
	}
	conns, err := store.ListConnections(ctx, app.ID)
	if err != nil {
		t.Fatalf("ListConnections: %v", err)
	}
	if len(conns) != 1 || conns[0].Name != "primary" {
		t.Fatalf("connections = %v", conns)
	}

	user, err := store.GetUserByUsername(ctx, "ops")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if len(user.RoleIDs) != 1 {
		t.Fatalf("user roles = %v, want the imported operator role", user.RoleIDs)
	}

	last, ok := events.last()
	if !ok {
		t.Fatal("no progress events published")
	}
	if !last.Done || last.Imported != 4 {
		t.Fatalf("final progress = %+v", last)
	}
}

func TestSubmitRejectsSecondJobWhileRunning(t *testing.T) {
	svc, _ := newImportService(t)

	svc.mu.Lock()
	svc.running = true
	svc.mu.Unlock()

	_, err := svc.Submit(context.Background(), []byte(`{"roles": [{"name": "x", "permissions": ["*"]}]}`), "admin")
	if !errors.IsCode(err, errors.CodeConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestSubmitTalliesRecordErrors(t *testing.T) {
	svc, _ := newImportService(t)
	ctx := context.Background()

	// The second user names a role that does not exist.
	doc := `{
		"roles": [{"name": "viewer2", "permissions": ["applications.read"]}],
		"users": [
			{"username": "good", "email": "good@example.com", "password": "passw0rd1", "roles": ["viewer2"]},
			{"username": "bad", "email": "bad@example.com", "password": "passw0rd1", "roles": ["ghost"]}
		]
	}`
	job, err := svc.Submit(ctx, []byte(doc), "admin")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done := waitForJob(t, svc, job.ID)

	if done.Status != imports.StatusCompleted {
		t.Fatalf("status = %q, want completed with partial failures", done.Status)
	}
	if done.Imported != 2 || done.Failed != 1 {
		t.Fatalf("imported = %d failed = %d, want 2/1", done.Imported, done.Failed)
	}
	if len(done.Errors) != 1 {
		t.Fatalf("errors = %v", done.Errors)
	}
	if done.Errors[0].Section != imports.SectionUsers || done.Errors[0].Index != 1 {
		t.Fatalf("error = %+v, want users record 1", done.Errors[0])
	}
}

func TestSubmitAllFailuresMarksJobFailed(t *testing.T) {
	svc, _ := newImportService(t)
	ctx := context.Background()

	doc := `{"applications": [{"name": "x", "environment": "galaxy"}]}`
	job, err := svc.Submit(ctx, []byte(doc), "admin")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done := waitForJob(t, svc, job.ID)
	if done.Status != imports.StatusFailed {
		t.Fatalf("status = %q, want failed", done.Status)
	}
	if done.Imported != 0 || done.Failed != 1 {
		t.Fatalf("imported = %d failed = %d, want 0/1", done.Imported, done.Failed)
	}
}

func TestSubmitHonorsConfiguredErrorCap(t *testing.T) {
	svc, _ := newImportService(t, WithMaxErrors(1))
	ctx := context.Background()

	// Every user names a role that does not exist, so each record fails.
	doc := `{
		"users": [
			{"username": "one", "email": "one@example.com", "password": "passw0rd1", "roles": ["ghost"]},
			{"username": "two", "email": "two@example.com", "password": "passw0rd1", "roles": ["ghost"]},
			{"username": "three", "email": "three@example.com", "password": "passw0rd1", "roles": ["ghost"]}
		]
	}`
	job, err := svc.Submit(ctx, []byte(doc), "admin")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done := waitForJob(t, svc, job.ID)

	if done.Status != imports.StatusFailed {
		t.Fatalf("status = %q, want failed after hitting the error cap", done.Status)
	}
	if done.Failed != 1 {
		t.Fatalf("failed = %d, want the run aborted after 1 error", done.Failed)
	}
}
