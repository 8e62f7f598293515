package users

import (
	"context"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/cams-platform/cams/internal/errors"
	"github.com/cams-platform/cams/internal/storage/memory"
)

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	return New(store, store, nil, WithBcryptCost(bcrypt.MinCost)), store
}

func TestCreateUser(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	u, err := svc.Create(ctx, CreateParams{
		Username: "alice",
		Email:    "alice@example.com",
		FullName: "Alice Doe",
		Password: "passw0rd",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.ID == "" || !u.IsActive {
		t.Fatalf("unexpected user: %+v", u)
	}
	if u.PasswordHash == "passw0rd" || u.PasswordHash == "" {
		t.Fatalf("password must be hashed")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("passw0rd")); err != nil {
		t.Fatalf("hash does not verify: %v", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	cases := []CreateParams{
		{Username: "", Email: "a@example.com", Password: "passw0rd"},
		{Username: "alice", Email: "not-an-email", Password: "passw0rd"},
		{Username: "alice", Email: "a@example.com", Password: "short1"},
		{Username: "alice", Email: "a@example.com", Password: "allletters"},
		{Username: "alice", Email: "a@example.com", Password: "12345678"},
	}
	for _, p := range cases {
		if _, err := svc.Create(ctx, p); !errors.IsCode(err, errors.CodeValidation) {
			t.Fatalf("expected validation error for %+v, got %v", p, err)
		}
	}

	if _, err := svc.Create(ctx, CreateParams{
		Username: "alice", Email: "a@example.com", Password: "passw0rd", RoleIDs: []string{"ghost"},
	}); err == nil {
		t.Fatalf("expected error for unknown role id")
	}
}

func TestSetPasswordResetsLockout(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	u, err := svc.Create(ctx, CreateParams{Username: "alice", Email: "a@example.com", Password: "passw0rd"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	u.FailedLogins = 5
	u.LockedUntil = time.Now().Add(time.Hour)
	if _, err := store.UpdateUser(ctx, u); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := svc.SetPassword(ctx, u.ID, "newpass99"); err != nil {
		t.Fatalf("set password: %v", err)
	}
	reloaded, err := svc.Get(ctx, u.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reloaded.FailedLogins != 0 || reloaded.Locked(time.Now()) {
		t.Fatalf("lockout should be cleared: %+v", reloaded)
	}
}

func TestAssignRolesAndUnlock(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	u, err := svc.Create(ctx, CreateParams{Username: "alice", Email: "a@example.com", Password: "passw0rd"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.AssignRoles(ctx, u.ID, []string{"missing"}); err == nil {
		t.Fatalf("expected error for unknown role")
	}

	u.LockedUntil = time.Now().Add(time.Hour)
	if _, err := store.UpdateUser(ctx, u); err != nil {
		t.Fatalf("update: %v", err)
	}
	unlocked, err := svc.Unlock(ctx, u.ID)
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if unlocked.Locked(time.Now()) {
		t.Fatalf("user should be unlocked")
	}
}
