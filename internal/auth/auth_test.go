package auth

import (
	"errors"
	"testing"
)

func TestVerifyService(t *testing.T) {
	v := NewVerifier("svc-secret", "")

	if err := v.VerifyService("svc-secret"); err != nil {
		t.Fatalf("expected valid service token, got %v", err)
	}
	if err := v.VerifyService("wrong"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if err := v.VerifyService(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestVerifyServiceNotConfigured(t *testing.T) {
	v := NewVerifier("", "")
	if err := v.VerifyService("anything"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestVerifyAdmin(t *testing.T) {
	hash, err := HashAdminToken("admin-secret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	v := NewVerifier("", hash)

	if err := v.VerifyAdmin("admin-secret"); err != nil {
		t.Fatalf("expected valid admin token, got %v", err)
	}
	if err := v.VerifyAdmin("guess"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyAdminNotConfigured(t *testing.T) {
	v := NewVerifier("svc", "")
	if err := v.VerifyAdmin("anything"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
