package authcore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/authcore-io/authcore/internal/onetime"
	"github.com/authcore-io/authcore/lockout"
	"github.com/authcore-io/authcore/metrics"
	"github.com/authcore-io/authcore/mfa"
	"github.com/authcore-io/authcore/password"
	"github.com/authcore-io/authcore/permission"
	"github.com/authcore-io/authcore/ratelimit"
	"github.com/authcore-io/authcore/refresh"
	"github.com/authcore-io/authcore/session"
	"github.com/authcore-io/authcore/token"
)

// Engine is the credential and session core. Construct it with a Builder;
// after Build it is immutable and safe for concurrent use.
type Engine struct {
	config       Config
	users        UserProvider
	hasher       *password.Hasher
	tokens       *token.Manager
	sessions     *session.Store
	lockouts     *lockout.Guard
	limiter      ratelimit.Admitter
	challenges   *onetime.Store
	resolver     *permission.Resolver
	mailer       Mailer
	secondFactor mfa.Verifier
	audit        *auditDispatcher
	metrics      *metrics.Metrics
	hashGate     *semaphore.Weighted
	decoyHash    string
	logger       *log.Logger
}

// Close flushes and stops the audit dispatcher. The Engine must not be used
// afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped reports audit events discarded because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// VerifyAccess parses and verifies an access token, then checks that the
// account's token version has not moved past it. A revoke-all (logout-all,
// password change, reset, reuse detection) bumps the version and cuts off
// every access token minted before it.
func (e *Engine) VerifyAccess(ctx context.Context, accessToken string) (*PrincipalClaims, error) {
	claims, err := e.tokens.Parse(accessToken)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	current, err := e.sessions.TokenVersion(ctx, claims.TenantID, claims.Subject)
	if err != nil {
		return nil, e.storageErr(err)
	}
	if claims.TokenVersion < current {
		return nil, ErrTokenRevoked
	}
	if claims.ExpiresAt == nil {
		return nil, ErrTokenInvalid
	}

	return &PrincipalClaims{
		PrincipalID:  claims.Subject,
		TenantID:     claims.TenantID,
		SessionID:    claims.SessionID,
		TokenVersion: claims.TokenVersion,
		Roles:        claims.Roles,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}

// Authorize checks that the principal's roles grant action on resource.
func (e *Engine) Authorize(ctx context.Context, claims *PrincipalClaims, resource, action string) error {
	if claims == nil {
		return fmt.Errorf("%w: nil claims", ErrValidation)
	}
	err := e.resolver.Authorize(ctx, claims.PrincipalID, claims.Roles, resource, action)
	if err != nil {
		if errors.Is(err, permission.ErrDenied) {
			e.metrics.IncAuthorizeDenied()
			e.emit(ctx, AuditEvent{
				EventType:   EventAuthorizeDenied,
				TenantID:    claims.TenantID,
				PrincipalID: claims.PrincipalID,
				Metadata:    map[string]string{"resource": resource, "action": action},
			})
			return fmt.Errorf("%w: %s:%s", ErrPermissionDenied, resource, action)
		}
		return e.storageErr(err)
	}
	return nil
}

// EffectivePermissions returns the union of permissions granted by the
// principal's roles, as "resource:action" strings.
func (e *Engine) EffectivePermissions(ctx context.Context, claims *PrincipalClaims) ([]string, error) {
	if claims == nil {
		return nil, fmt.Errorf("%w: nil claims", ErrValidation)
	}
	set, err := e.resolver.Effective(ctx, claims.PrincipalID, claims.Roles)
	if err != nil {
		return nil, e.storageErr(err)
	}
	return set.Keys(), nil
}

// issuePair mints a refresh session and an access token bound to it.
func (e *Engine) issuePair(ctx context.Context, user *UserRecord) (*TokenPair, error) {
	secret, err := refresh.NewSecret()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	rec := &session.Record{
		ID:         newSessionID(),
		TenantID:   user.TenantID,
		UserID:     user.ID,
		SecretHash: refresh.HashSecret(secret),
		IssuedAt:   now.Unix(),
		ExpiresAt:  now.Add(e.config.RefreshTTL).Unix(),
	}
	if err := e.sessions.Create(ctx, rec); err != nil {
		return nil, e.storageErr(err)
	}

	opaque, err := refresh.Encode(rec.ID, secret)
	if err != nil {
		return nil, err
	}

	version, err := e.sessions.TokenVersion(ctx, user.TenantID, user.ID)
	if err != nil {
		return nil, e.storageErr(err)
	}
	access, err := e.tokens.Issue(user.ID, user.TenantID, rec.ID, version, user.Roles)
	if err != nil {
		return nil, err
	}

	e.metrics.IncTokenIssued()
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     opaque,
		AccessExpiresAt:  now.Add(e.config.AccessToken.TTL),
		RefreshExpiresAt: now.Add(e.config.RefreshTTL),
	}, nil
}

// verifyWithGate runs an argon2 verification under the concurrency cap.
func (e *Engine) verifyWithGate(ctx context.Context, plaintext, encoded string) (bool, error) {
	if err := e.hashGate.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer e.hashGate.Release(1)
	return e.hasher.Verify(plaintext, encoded)
}

// hashWithGate runs an argon2 hash computation under the concurrency cap.
func (e *Engine) hashWithGate(ctx context.Context, plaintext string) (string, error) {
	if err := e.hashGate.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer e.hashGate.Release(1)
	return e.hasher.Hash(plaintext)
}

func (e *Engine) emit(ctx context.Context, event AuditEvent) {
	event.ID = newEventID()
	event.Timestamp = time.Now().UTC()
	if event.IP == "" {
		event.IP = clientIP(ctx)
	}
	e.audit.Emit(event)
}

// storageErr maps a backend failure onto ErrStorageUnavailable. All guard
// checks fail closed through here.
func (e *Engine) storageErr(err error) error {
	e.metrics.IncStorageFailures()
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

// admit runs the rate limiter and converts its rejection into the public
// error shape.
func (e *Engine) admit(ctx context.Context, key string, class ratelimit.Class) error {
	err := e.limiter.Allow(ctx, key, class)
	if err == nil {
		return nil
	}
	var limited *ratelimit.LimitedError
	if errors.As(err, &limited) {
		e.metrics.IncRateLimited(string(limited.Class))
		return &RateLimitedError{Class: string(limited.Class), RetryAfter: limited.RetryAfter}
	}
	return e.storageErr(err)
}

// checkLock converts an active lockout into the public error shape.
func (e *Engine) checkLock(ctx context.Context, lockKey string) error {
	err := e.lockouts.CheckAllowed(ctx, lockKey)
	if err == nil {
		return nil
	}
	var locked *lockout.LockedError
	if errors.As(err, &locked) {
		return &AccountLockedError{RetryAfter: locked.RetryAfter}
	}
	return e.storageErr(err)
}

func newSessionID() string {
	return uuid.NewString()
}

// lockKey scopes lockout state to (tenant, identifier). Unknown identifiers
// get counters too, so probing cannot distinguish them.
func lockKey(tenant, identifier string) string {
	return tenant + "\x00" + strings.ToLower(identifier)
}

// challengeSubject packs the tenant into the value stored with a single-use
// token so redemption restores scope without trusting the caller.
func challengeSubject(tenant, userID string) string {
	return tenant + "\x00" + userID
}

func splitChallengeSubject(subject string) (tenant, userID string, ok bool) {
	tenant, userID, ok = strings.Cut(subject, "\x00")
	return
}
