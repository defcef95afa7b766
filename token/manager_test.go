package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestManager(t *testing.T, mutate func(*Config)) *Manager {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cfg := Config{
		TTL:           time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "authcore-test",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestIssueParseRoundTrip(t *testing.T) {
	m := newTestManager(t, nil)

	raw, err := m.Issue("user-1", "t1", "sess-1", 3, []string{"admin", "member"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := m.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "user-1" || claims.TenantID != "t1" || claims.SessionID != "sess-1" {
		t.Fatalf("unexpected identity claims: %+v", claims)
	}
	if claims.TokenVersion != 3 {
		t.Fatalf("expected token version 3, got %d", claims.TokenVersion)
	}
	if len(claims.Roles) != 2 || claims.Roles[0] != "admin" {
		t.Fatalf("unexpected role snapshot: %v", claims.Roles)
	}
}

func TestParseRejectsExpired(t *testing.T) {
	m := newTestManager(t, func(cfg *Config) {
		cfg.TTL = time.Nanosecond
	})

	raw, err := m.Issue("user-1", "", "sess-1", 0, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, err := m.Parse(raw); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestParseRejectsTampering(t *testing.T) {
	m := newTestManager(t, nil)

	raw, err := m.Issue("user-1", "", "sess-1", 0, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		t.Fatalf("expected compact JWS, got %q", raw)
	}

	cases := []string{
		parts[0] + "." + parts[1] + ".AAAA" + parts[2][4:],   // signature bit flip
		parts[0] + ".eyJzdWIiOiJldmlsIn0." + parts[2],        // payload swap
		"garbage",                                            // not a token
		"",                                                   // empty
	}
	for _, c := range cases {
		if _, err := m.Parse(c); !errors.Is(err, ErrMalformed) {
			t.Errorf("Parse(%q): expected ErrMalformed, got %v", c, err)
		}
	}
}

func TestParseRejectsForeignKey(t *testing.T) {
	a := newTestManager(t, nil)
	b := newTestManager(t, nil)

	raw, err := a.Issue("user-1", "", "sess-1", 0, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := b.Parse(raw); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for token signed with a different key, got %v", err)
	}
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	issuerA, err := NewManager(Config{
		TTL: time.Minute, SigningMethod: MethodEd25519,
		PrivateKey: priv, PublicKey: pub, Issuer: "a",
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	issuerB, err := NewManager(Config{
		TTL: time.Minute, SigningMethod: MethodEd25519,
		PrivateKey: priv, PublicKey: pub, Issuer: "b",
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	raw, err := issuerA.Issue("user-1", "", "sess-1", 0, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := issuerB.Parse(raw); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for issuer mismatch, got %v", err)
	}
}

func TestHS256RoundTrip(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	m, err := NewManager(Config{
		TTL:           time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    secret,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	raw, err := m.Issue("user-2", "t2", "sess-2", 1, []string{"viewer"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := m.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "user-2" || claims.TokenVersion != 1 {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestNewManagerValidation(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	cases := []Config{
		{TTL: 0, SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub},
		{TTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("short")},
		{TTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: []byte("bad"), PublicKey: pub},
		{TTL: time.Minute, SigningMethod: "rsa", PrivateKey: priv, PublicKey: pub},
		{TTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub, Leeway: 5 * time.Minute},
	}
	for i, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Errorf("case %d: expected configuration error", i)
		}
	}
}
