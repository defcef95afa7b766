package authcore

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by Engine operations. Match with errors.Is; some
// carry a typed wrapper (AccountLockedError, RateLimitedError) reachable via
// errors.As.
var (
	// ErrValidation reports malformed input before any backend is touched.
	ErrValidation = errors.New("authcore: invalid input")

	// ErrInvalidCredentials is returned for every authentication failure
	// that must not reveal whether the identifier exists: unknown account,
	// wrong password, or both.
	ErrInvalidCredentials = errors.New("authcore: invalid credentials")

	// ErrAccountExists is returned by Register when the identifier is
	// already taken within the tenant.
	ErrAccountExists = errors.New("authcore: account already exists")

	// ErrAccountLocked is returned while a lockout is active. The concrete
	// error is an *AccountLockedError carrying the remaining duration.
	ErrAccountLocked = errors.New("authcore: account locked")

	// ErrAccountDisabled is returned when the credentials were correct but
	// the account has been administratively disabled.
	ErrAccountDisabled = errors.New("authcore: account disabled")

	// ErrAccountUnverified is returned when the credentials were correct
	// but the account has not completed email verification and the policy
	// does not allow unverified logins.
	ErrAccountUnverified = errors.New("authcore: account not verified")

	// ErrRateLimited is returned when a request class budget is exhausted.
	// The concrete error is a *RateLimitedError.
	ErrRateLimited = errors.New("authcore: rate limited")

	// ErrTokenExpired is returned for structurally valid tokens past their
	// lifetime.
	ErrTokenExpired = errors.New("authcore: token expired")

	// ErrTokenInvalid covers malformed, unparsable, or unknown tokens of
	// any kind. The causes are deliberately not distinguished.
	ErrTokenInvalid = errors.New("authcore: token invalid")

	// ErrTokenRevoked is returned for tokens invalidated by logout or a
	// revoke-all event.
	ErrTokenRevoked = errors.New("authcore: token revoked")

	// ErrTokenReuseDetected is returned when an already rotated refresh
	// token is presented again. All sessions of the affected account have
	// been revoked by the time the caller sees this error.
	ErrTokenReuseDetected = errors.New("authcore: refresh token reuse detected")

	// ErrPermissionDenied is returned by Authorize when the principal's
	// effective permission set does not grant the requested action.
	ErrPermissionDenied = errors.New("authcore: permission denied")

	// ErrPasswordPolicy reports a candidate password that fails the
	// configured complexity policy.
	ErrPasswordPolicy = errors.New("authcore: password policy violation")

	// ErrPasswordReuse is returned by ChangePassword and password reset
	// when the new password equals the current one.
	ErrPasswordReuse = errors.New("authcore: new password must differ")

	// ErrSecondFactorRequired is returned by Login when the account has a
	// second factor enrolled and no evidence was supplied.
	ErrSecondFactorRequired = errors.New("authcore: second factor required")

	// ErrSecondFactorInvalid is returned when the supplied second-factor
	// evidence did not verify.
	ErrSecondFactorInvalid = errors.New("authcore: second factor invalid")

	// ErrPrincipalNotFound is returned by UserProvider implementations for
	// lookups that matched nothing. Engine operations translate it into
	// ErrInvalidCredentials or ErrTokenInvalid where exposure would leak
	// account existence.
	ErrPrincipalNotFound = errors.New("authcore: principal not found")

	// ErrStorageUnavailable wraps backend transport failures. All guard
	// checks fail closed on it.
	ErrStorageUnavailable = errors.New("authcore: storage unavailable")
)

// AccountLockedError reports an active lockout and when it lifts.
type AccountLockedError struct {
	RetryAfter time.Duration
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("authcore: account locked, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *AccountLockedError) Unwrap() error { return ErrAccountLocked }

// RateLimitedError reports an exhausted request budget.
type RateLimitedError struct {
	Class      string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("authcore: %s rate limited, retry after %s", e.Class, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }
