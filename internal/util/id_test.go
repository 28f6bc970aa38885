package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	id := NewID("qry")
	if !strings.HasPrefix(id, "qry_") {
		t.Fatalf("NewID(qry) = %q, want qry_ prefix", id)
	}
	if len(id) != len("qry_")+32 {
		t.Fatalf("NewID(qry) length = %d", len(id))
	}
	if NewID("qry") == NewID("qry") {
		t.Fatal("two IDs collided")
	}
}

func TestNewIDWithoutPrefix(t *testing.T) {
	id := NewID("")
	if len(id) != 32 || strings.Contains(id, "_") {
		t.Fatalf("NewID(\"\") = %q", id)
	}
}

func TestNewToken(t *testing.T) {
	token := NewToken()
	if len(token) != 64 {
		t.Fatalf("NewToken() length = %d, want 64", len(token))
	}
	if NewToken() == NewToken() {
		t.Fatal("two tokens collided")
	}
}
