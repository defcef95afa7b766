package authcore

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterCreatesUnverifiedAccount(t *testing.T) {
	h := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	rec, err := h.engine.Register(ctx, "alice@example.com", "Str0ngPassw0rd", []string{"viewer"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if rec.Status != StatusUnverified {
		t.Fatalf("want StatusUnverified, got %s", rec.Status)
	}
	if rec.PasswordHash == "" || rec.PasswordHash == "Str0ngPassw0rd" {
		t.Fatal("password not hashed")
	}

	mail := h.mailer.wait(t)
	if mail.template != TemplateVerifyEmail || mail.recipient != "alice@example.com" {
		t.Fatalf("unexpected mail: %+v", mail)
	}
	if mail.data["token"] == "" {
		t.Fatal("verification mail carries no token")
	}
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	h := newTestEngine(t, testConfig(t))

	_, err := h.engine.Register(context.Background(), "alice@example.com", "short", nil)
	if !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("want ErrPasswordPolicy, got %v", err)
	}
	h.mailer.expectNone(t)
}

func TestVerifyEmailActivatesOnce(t *testing.T) {
	h := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	rec, err := h.engine.Register(ctx, "alice@example.com", "Str0ngPassw0rd", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	tok := h.mailer.wait(t).data["token"]

	if err := h.engine.VerifyEmail(ctx, tok); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	user, err := h.users.GetByID(ctx, DefaultTenant, rec.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if user.Status != StatusActive {
		t.Fatalf("want StatusActive, got %s", user.Status)
	}

	// The token was consumed by the first redemption.
	if err := h.engine.VerifyEmail(ctx, tok); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("want ErrTokenInvalid on replay, got %v", err)
	}
	if err := h.engine.VerifyEmail(ctx, "not-a-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("want ErrTokenInvalid for garbage, got %v", err)
	}
}

func TestUnverifiedLoginPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("denied by default", func(t *testing.T) {
		h := newTestEngine(t, testConfig(t))
		if _, err := h.engine.Register(ctx, "alice@example.com", "Str0ngPassw0rd", nil); err != nil {
			t.Fatalf("Register: %v", err)
		}
		_, err := h.engine.Login(ctx, "alice@example.com", "Str0ngPassw0rd", "")
		if !errors.Is(err, ErrAccountUnverified) {
			t.Fatalf("want ErrAccountUnverified, got %v", err)
		}
	})

	t.Run("allowed when configured", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.AllowUnverifiedLogin = true
		h := newTestEngine(t, cfg)
		if _, err := h.engine.Register(ctx, "alice@example.com", "Str0ngPassw0rd", nil); err != nil {
			t.Fatalf("Register: %v", err)
		}
		pair, err := h.engine.Login(ctx, "alice@example.com", "Str0ngPassw0rd", "")
		if err != nil {
			t.Fatalf("Login: %v", err)
		}
		if pair.AccessToken == "" || pair.RefreshToken == "" {
			t.Fatal("incomplete token pair")
		}
	})
}

func TestRequestEmailVerificationResend(t *testing.T) {
	h := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	if _, err := h.engine.Register(ctx, "alice@example.com", "Str0ngPassw0rd", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	h.mailer.wait(t)

	if err := h.engine.RequestEmailVerification(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestEmailVerification: %v", err)
	}
	tok := h.mailer.wait(t).data["token"]
	if err := h.engine.VerifyEmail(ctx, tok); err != nil {
		t.Fatalf("VerifyEmail with reissued token: %v", err)
	}

	// Unknown identifiers report success without sending anything.
	if err := h.engine.RequestEmailVerification(ctx, "ghost@example.com"); err != nil {
		t.Fatalf("RequestEmailVerification(ghost): %v", err)
	}
	h.mailer.expectNone(t)
}

func TestRegisterRateLimited(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit.Register.Limit = 2
	h := newTestEngine(t, cfg)
	ctx := WithClientIP(context.Background(), "203.0.113.9")

	for i := 0; i < 2; i++ {
		h.engine.Register(ctx, "dup@example.com", "Str0ngPassw0rd", nil)
	}
	_, err := h.engine.Register(ctx, "third@example.com", "Str0ngPassw0rd", nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
	var limited *RateLimitedError
	if !errors.As(err, &limited) || limited.RetryAfter <= 0 {
		t.Fatalf("rejection lacks retry-after: %v", err)
	}
}
