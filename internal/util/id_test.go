package util

import (
	"strings"
	"testing"
)

func TestNewIDPrefix(t *testing.T) {
	id := NewID("jti")
	if !strings.HasPrefix(id, "jti_") {
		t.Fatalf("expected jti_ prefix, got %q", id)
	}
	if !IsUUID(strings.TrimPrefix(id, "jti_")) {
		t.Fatalf("expected uuid suffix, got %q", id)
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewID("")
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestIsUUIDRejectsGarbage(t *testing.T) {
	if IsUUID("not-a-uuid") {
		t.Fatal("expected garbage to be rejected")
	}
}
