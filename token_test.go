package main

import (
	"errors"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer("secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	token, expires, err := issuer.Issue("session-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(expires) <= 0 {
		t.Fatalf("token already expired at %s", expires)
	}

	id, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id != "session-1" {
		t.Fatalf("session = %q, want session-1", id)
	}
}

func TestTokenRejectsForgedAndExpired(t *testing.T) {
	issuer, _ := NewTokenIssuer("secret", time.Hour)
	other, _ := NewTokenIssuer("other-secret", time.Hour)

	forged, _, err := other.Issue("session-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := issuer.Verify(forged); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("forged token: expected ErrInvalidToken, got %v", err)
	}

	token, _, _ := issuer.Issue("session-1")
	issuer.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := issuer.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token: expected ErrInvalidToken, got %v", err)
	}

	for _, bad := range []string{"", "not-a-token"} {
		if _, err := issuer.Verify(bad); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Verify(%q): expected ErrInvalidToken, got %v", bad, err)
		}
	}
}

func TestTokenRandomSecret(t *testing.T) {
	a, err := NewTokenIssuer("", 0)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := NewTokenIssuer("", 0)

	token, _, _ := a.Issue("s")
	if _, err := b.Verify(token); err == nil {
		t.Fatal("issuers with random secrets should not trust each other")
	}
	if _, err := a.Verify(token); err != nil {
		t.Fatalf("issuer should trust its own token: %v", err)
	}
}
