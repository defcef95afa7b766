package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/authcore-io/authcore/ratelimit"
	"github.com/authcore-io/authcore/refresh"
	"github.com/authcore-io/authcore/session"
)

// Login authenticates an identifier and password and, when the account has a
// second factor enrolled, the supplied evidence. On success it returns a
// fresh token pair.
//
// Every credential failure, including an unknown identifier, comes back as
// ErrInvalidCredentials. Unknown identifiers still pay the full argon2
// verification cost against a decoy hash, so response timing does not reveal
// account existence.
func (e *Engine) Login(ctx context.Context, identifier, plaintext, secondFactor string) (*TokenPair, error) {
	identifier = normalizeIdentifier(identifier)
	if identifier == "" {
		return nil, fmt.Errorf("%w: identifier must not be empty", ErrValidation)
	}

	tenant := tenantID(ctx)
	lk := lockKey(tenant, identifier)

	if err := e.admit(ctx, rateKey(ctx, identifier), ratelimit.ClassLogin); err != nil {
		return nil, err
	}
	if err := e.checkLock(ctx, lk); err != nil {
		return nil, err
	}

	user, err := e.users.GetByIdentifier(ctx, tenant, identifier)
	if err != nil && !errors.Is(err, ErrPrincipalNotFound) {
		return nil, e.storageErr(err)
	}

	storedHash := e.decoyHash
	if user != nil {
		storedHash = user.PasswordHash
	}
	ok, verr := e.verifyWithGate(ctx, plaintext, storedHash)
	if verr != nil || !ok || user == nil {
		return nil, e.loginFailed(ctx, tenant, lk, user)
	}

	switch user.Status {
	case StatusDisabled:
		e.metrics.IncLoginFailure()
		return nil, ErrAccountDisabled
	case StatusUnverified:
		if !e.config.AllowUnverifiedLogin {
			e.metrics.IncLoginFailure()
			return nil, ErrAccountUnverified
		}
	}

	if e.secondFactor != nil && user.SecondFactorEnrolled {
		if secondFactor == "" {
			return nil, ErrSecondFactorRequired
		}
		passed, err := e.secondFactor.Verify(ctx, user.ID, secondFactor)
		if err != nil {
			return nil, e.storageErr(err)
		}
		if !passed {
			if err := e.loginFailed(ctx, tenant, lk, user); err != nil && !errors.Is(err, ErrInvalidCredentials) {
				return nil, err
			}
			return nil, ErrSecondFactorInvalid
		}
	}

	if err := e.lockouts.RecordSuccess(ctx, lk); err != nil {
		return nil, e.storageErr(err)
	}
	e.maybeRehash(ctx, user, plaintext)

	pair, err := e.issuePair(ctx, user)
	if err != nil {
		return nil, err
	}
	e.metrics.IncLoginSuccess()
	e.emit(ctx, AuditEvent{
		EventType:   EventLogin,
		TenantID:    tenant,
		PrincipalID: user.ID,
		Success:     true,
	})
	return pair, nil
}

// loginFailed records the failure against the lockout counter and returns
// the uniform credential error. A lockout transition is observable only on
// the next attempt.
func (e *Engine) loginFailed(ctx context.Context, tenant, lk string, user *UserRecord) error {
	e.metrics.IncLoginFailure()

	ev := AuditEvent{EventType: EventLoginFailed, TenantID: tenant}
	if user != nil {
		ev.PrincipalID = user.ID
	}
	e.emit(ctx, ev)

	locked, err := e.lockouts.RecordFailure(ctx, lk)
	if err != nil {
		return e.storageErr(err)
	}
	if locked {
		e.metrics.IncLockouts()
		lockEv := AuditEvent{EventType: EventLockout, TenantID: tenant}
		if user != nil {
			lockEv.PrincipalID = user.ID
		}
		e.emit(ctx, lockEv)
	}
	return ErrInvalidCredentials
}

// maybeRehash upgrades a stored hash whose parameters lag the configured
// costs. Best effort, it never fails the login that triggered it.
func (e *Engine) maybeRehash(ctx context.Context, user *UserRecord, plaintext string) {
	needs, err := e.hasher.NeedsRehash(user.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.hashWithGate(ctx, plaintext)
	if err != nil {
		return
	}
	if err := e.users.UpdatePasswordHash(ctx, user.TenantID, user.ID, hash); err != nil {
		e.logger.Printf("authcore: rehash for %s: %v", user.ID, err)
		return
	}
	user.PasswordHash = hash
}

// Refresh rotates a refresh token: the presented token is atomically
// consumed and replaced, and a new access token is minted. Presenting an
// already rotated token is treated as theft; every session of the owning
// account is revoked before ErrTokenReuseDetected is returned.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	sessionID, secret, err := refresh.Decode(refreshToken)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	tenant := tenantID(ctx)
	if err := e.admit(ctx, rateKey(ctx, sessionID), ratelimit.ClassRefresh); err != nil {
		return nil, err
	}

	nextSecret, err := refresh.NewSecret()
	if err != nil {
		return nil, err
	}
	rot, err := e.sessions.Rotate(ctx, tenant, sessionID,
		refresh.HashSecret(secret), refresh.HashSecret(nextSecret), e.config.RefreshTTL)
	if err != nil {
		return nil, e.rotateFailed(ctx, tenant, sessionID, err)
	}

	user, err := e.users.GetByID(ctx, tenant, rot.UserID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, e.storageErr(err)
	}
	if user.Status == StatusDisabled {
		return nil, ErrAccountDisabled
	}

	opaque, err := refresh.Encode(rot.NewID, nextSecret)
	if err != nil {
		return nil, err
	}
	version, err := e.sessions.TokenVersion(ctx, tenant, user.ID)
	if err != nil {
		return nil, e.storageErr(err)
	}
	access, err := e.tokens.Issue(user.ID, tenant, rot.NewID, version, user.Roles)
	if err != nil {
		return nil, err
	}

	e.metrics.IncTokenRotated()
	e.emit(ctx, AuditEvent{
		EventType:   EventRefresh,
		TenantID:    tenant,
		PrincipalID: user.ID,
		SessionID:   rot.NewID,
		Success:     true,
	})

	now := time.Now()
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     opaque,
		AccessExpiresAt:  now.Add(e.config.AccessToken.TTL),
		RefreshExpiresAt: now.Add(e.config.RefreshTTL),
	}, nil
}

// rotateFailed maps a rotation failure onto the public error set, handling
// the theft response for reuse.
func (e *Engine) rotateFailed(ctx context.Context, tenant, sessionID string, err error) error {
	var reuse *session.ReuseError
	switch {
	case errors.As(err, &reuse):
		e.metrics.IncTokenReuse()
		if n, rerr := e.sessions.RevokeAll(ctx, tenant, reuse.UserID); rerr != nil {
			e.logger.Printf("authcore: revoke-all after reuse for %s: %v", reuse.UserID, rerr)
		} else {
			e.metrics.AddSessionsRevoked(int64(n))
		}
		e.emit(ctx, AuditEvent{
			EventType:   EventReuseDetected,
			TenantID:    tenant,
			PrincipalID: reuse.UserID,
			SessionID:   sessionID,
		})
		return ErrTokenReuseDetected
	case errors.Is(err, session.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, session.ErrRevoked):
		return ErrTokenRevoked
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrHashMismatch):
		return ErrTokenInvalid
	default:
		return e.storageErr(err)
	}
}

// Logout revokes the presented refresh token. Tokens that are already gone
// (expired or never existed) are treated as logged out.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	sessionID, secret, err := refresh.Decode(refreshToken)
	if err != nil {
		return ErrTokenInvalid
	}

	tenant := tenantID(ctx)
	err = e.sessions.Revoke(ctx, tenant, sessionID, refresh.HashSecret(secret))
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotFound):
		return nil
	case errors.Is(err, session.ErrReuseDetected):
		return e.rotateFailed(ctx, tenant, sessionID, err)
	case errors.Is(err, session.ErrHashMismatch):
		return ErrTokenInvalid
	default:
		return e.storageErr(err)
	}

	e.metrics.AddSessionsRevoked(1)
	e.emit(ctx, AuditEvent{
		EventType: EventLogout,
		TenantID:  tenant,
		SessionID: sessionID,
		Success:   true,
	})
	return nil
}

// LogoutAll revokes every session of the principal and bumps the token
// version, cutting off outstanding access tokens as well. Returns the
// number of refresh sessions destroyed.
func (e *Engine) LogoutAll(ctx context.Context, principalID string) (int, error) {
	if principalID == "" {
		return 0, fmt.Errorf("%w: principal id must not be empty", ErrValidation)
	}
	tenant := tenantID(ctx)
	n, err := e.sessions.RevokeAll(ctx, tenant, principalID)
	if err != nil {
		return 0, e.storageErr(err)
	}
	e.metrics.AddSessionsRevoked(int64(n))
	e.emit(ctx, AuditEvent{
		EventType:   EventLogoutAll,
		TenantID:    tenant,
		PrincipalID: principalID,
		Success:     true,
		Metadata:    map[string]string{"sessions": fmt.Sprint(n)},
	})
	return n, nil
}
