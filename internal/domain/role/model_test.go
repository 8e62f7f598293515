package role

import "testing"

func TestAllows(t *testing.T) {
	admin := []string{"*"}
	operator := []string{"applications.read", "connections.*"}

	if !Allows(admin, "users.write") {
		t.Fatalf("global wildcard should allow everything")
	}
	if !Allows(operator, "connections.test") {
		t.Fatalf("resource wildcard should allow connections.test")
	}
	if !Allows(operator, "applications.read") {
		t.Fatalf("exact permission should match")
	}
	if Allows(operator, "applications.write") {
		t.Fatalf("applications.write should be denied")
	}
	if Allows(nil, "applications.read") {
		t.Fatalf("empty permission set should deny")
	}
}

func TestUnion(t *testing.T) {
	merged := Union([]string{"a.read", "B.Write"}, []string{"a.read", "c.*"})
	if len(merged) != 3 {
		t.Fatalf("expected 3 unique permissions, got %d: %v", len(merged), merged)
	}
	for _, p := range merged {
		if p != "a.read" && p != "b.write" && p != "c.*" {
			t.Fatalf("unexpected permission %q", p)
		}
	}
}
