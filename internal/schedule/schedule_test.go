package schedule

import (
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	if err := Validate(""); err != nil {
		t.Fatalf("empty schedule should be valid: %v", err)
	}
	if err := Validate("*/5 * * * *"); err != nil {
		t.Fatalf("five-field expression should be valid: %v", err)
	}
	if err := Validate("@hourly"); err != nil {
		t.Fatalf("descriptor should be valid: %v", err)
	}
	if err := Validate("not a schedule"); err == nil {
		t.Fatalf("expected error for garbage expression")
	}
	if err := Validate("* * * *"); err == nil {
		t.Fatalf("expected error for four-field expression")
	}
}

func TestNext(t *testing.T) {
	after := time.Date(2025, 6, 1, 10, 2, 30, 0, time.UTC)

	next, err := Next("*/5 * * * *", after)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	want := time.Date(2025, 6, 1, 10, 5, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	if _, err := Next("bogus", after); err == nil {
		t.Fatalf("expected error for invalid expression")
	}
}
