package authcore

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestRefreshRotation(t *testing.T) {
	h := newTestEngine(t, testConfig(t))
	ctx := context.Background()
	h.register(t, "alice@example.com", "Str0ngPassw0rd")

	first, err := h.engine.Login(ctx, "alice@example.com", "Str0ngPassw0rd", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	second, err := h.engine.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token not rotated")
	}
	if _, err := h.engine.VerifyAccess(ctx, second.AccessToken); err != nil {
		t.Fatalf("VerifyAccess on rotated pair: %v", err)
	}

	third, err := h.engine.Refresh(ctx, second.RefreshToken)
	if err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	if _, err := h.engine.VerifyAccess(ctx, third.AccessToken); err != nil {
		t.Fatalf("VerifyAccess after chain: %v", err)
	}
}

func TestRefreshReuseRevokesEverything(t *testing.T) {
	h := newTestEngine(t, testConfig(t))
	ctx := context.Background()
	h.register(t, "alice@example.com", "Str0ngPassw0rd")

	first, err := h.engine.Login(ctx, "alice@example.com", "Str0ngPassw0rd", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	second, err := h.engine.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// Replaying the consumed token is treated as theft.
	if _, err := h.engine.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrTokenReuseDetected) {
		t.Fatalf("want ErrTokenReuseDetected, got %v", err)
	}

	// The whole session family is gone, including the legitimate holder.
	if _, err := h.engine.Refresh(ctx, second.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("want ErrTokenInvalid for revoked family, got %v", err)
	}
	// Outstanding access tokens fail the version check.
	if _, err := h.engine.VerifyAccess(ctx, second.AccessToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("want ErrTokenRevoked, got %v", err)
	}
}

func TestRefreshGarbageToken(t *testing.T) {
	h := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	if _, err := h.engine.Refresh(ctx, "not-a-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("want ErrTokenInvalid, got %v", err)
	}
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	h := newTestEngine(t, testConfig(t))
	ctx := context.Background()
	h.register(t, "alice@example.com", "Str0ngPassw0rd")

	pair, err := h.engine.Login(ctx, "alice@example.com", "Str0ngPassw0rd", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.engine.Refresh(ctx, pair.RefreshToken)
		}(i)
	}
	wg.Wait()

	wins, reuses := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrTokenReuseDetected):
			reuses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || reuses != attempts-1 {
		t.Fatalf("want 1 winner and %d reuse detections, got %d/%d", attempts-1, wins, reuses)
	}
}

func TestLogout(t *testing.T) {
	h := newTestEngine(t, testConfig(t))
	ctx := context.Background()
	h.register(t, "alice@example.com", "Str0ngPassw0rd")

	pair, err := h.engine.Login(ctx, "alice@example.com", "Str0ngPassw0rd", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := h.engine.Logout(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := h.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("want ErrTokenRevoked after logout, got %v", err)
	}
	// Logging out twice is fine.
	if err := h.engine.Logout(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("repeat Logout: %v", err)
	}
}

func TestLogoutAll(t *testing.T) {
	h := newTestEngine(t, testConfig(t))
	ctx := context.Background()
	rec := h.register(t, "alice@example.com", "Str0ngPassw0rd")

	var pairs []*TokenPair
	for i := 0; i < 3; i++ {
		pair, err := h.engine.Login(ctx, "alice@example.com", "Str0ngPassw0rd", "")
		if err != nil {
			t.Fatalf("Login %d: %v", i, err)
		}
		pairs = append(pairs, pair)
	}

	n, err := h.engine.LogoutAll(ctx, rec.ID)
	if err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	if n != 3 {
		t.Fatalf("want 3 sessions revoked, got %d", n)
	}
	for i, pair := range pairs {
		if _, err := h.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("pair %d: want ErrTokenInvalid, got %v", i, err)
		}
		if _, err := h.engine.VerifyAccess(ctx, pair.AccessToken); !errors.Is(err, ErrTokenRevoked) {
			t.Fatalf("pair %d: want ErrTokenRevoked, got %v", i, err)
		}
	}
}

func TestRefreshDisabledAccount(t *testing.T) {
	h := newTestEngine(t, testConfig(t))
	ctx := context.Background()
	rec := h.register(t, "alice@example.com", "Str0ngPassw0rd")

	pair, err := h.engine.Login(ctx, "alice@example.com", "Str0ngPassw0rd", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := h.users.SetStatus(ctx, DefaultTenant, rec.ID, StatusDisabled); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, err := h.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("want ErrAccountDisabled, got %v", err)
	}
}
