package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/authcore-io/authcore/internal/onetime"
	"github.com/authcore-io/authcore/ratelimit"
)

// ChangePassword rotates a principal's password after re-verifying the
// current one. All refresh sessions are revoked and the token version is
// bumped, so every outstanding token of the account stops working.
func (e *Engine) ChangePassword(ctx context.Context, principalID, current, next string) error {
	if principalID == "" {
		return fmt.Errorf("%w: principal id must not be empty", ErrValidation)
	}

	tenant := tenantID(ctx)
	user, err := e.users.GetByID(ctx, tenant, principalID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return ErrInvalidCredentials
		}
		return e.storageErr(err)
	}

	ok, err := e.verifyWithGate(ctx, current, user.PasswordHash)
	if err != nil || !ok {
		return e.loginFailed(ctx, tenant, lockKey(tenant, user.Identifier), user)
	}
	if next == current {
		return ErrPasswordReuse
	}
	if err := e.config.PasswordPolicy.Check(next); err != nil {
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}

	hash, err := e.hashWithGate(ctx, next)
	if err != nil {
		return err
	}
	if err := e.users.UpdatePasswordHash(ctx, tenant, principalID, hash); err != nil {
		return e.storageErr(err)
	}

	if n, err := e.sessions.RevokeAll(ctx, tenant, principalID); err != nil {
		e.logger.Printf("authcore: revoke-all after password change for %s: %v", principalID, err)
	} else {
		e.metrics.AddSessionsRevoked(int64(n))
	}

	e.emit(ctx, AuditEvent{
		EventType:   EventPasswordChanged,
		TenantID:    tenant,
		PrincipalID: principalID,
		Success:     true,
	})
	return nil
}

// RequestPasswordReset issues a single-use reset token and mails it. The
// call reports success whether or not the identifier exists, so it cannot
// be used to probe for accounts.
func (e *Engine) RequestPasswordReset(ctx context.Context, identifier string) error {
	identifier = normalizeIdentifier(identifier)
	if identifier == "" {
		return fmt.Errorf("%w: identifier must not be empty", ErrValidation)
	}

	tenant := tenantID(ctx)
	if err := e.admit(ctx, rateKey(ctx, identifier), ratelimit.ClassPasswordReset); err != nil {
		return err
	}

	user, err := e.users.GetByIdentifier(ctx, tenant, identifier)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return nil
		}
		return e.storageErr(err)
	}
	if user.Status == StatusDisabled {
		return nil
	}

	challenge, err := e.challenges.Issue(ctx, onetime.PurposePasswordReset,
		challengeSubject(tenant, user.ID), e.config.ResetTokenTTL)
	if err != nil {
		return e.storageErr(err)
	}
	e.sendMail(user.Identifier, TemplatePasswordReset, map[string]string{"token": challenge})

	e.emit(ctx, AuditEvent{
		EventType:   EventResetRequested,
		TenantID:    tenant,
		PrincipalID: user.ID,
		Success:     true,
	})
	return nil
}

// CompletePasswordReset redeems a reset token and installs the new
// password. The token works exactly once. Every session of the account is
// revoked and any active lockout is cleared, since the password proves
// control of the mailbox.
func (e *Engine) CompletePasswordReset(ctx context.Context, resetToken, next string) error {
	// Validate before consuming so a weak candidate does not burn the token.
	if err := e.config.PasswordPolicy.Check(next); err != nil {
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}

	subject, err := e.challenges.Consume(ctx, onetime.PurposePasswordReset, resetToken)
	if err != nil {
		if errors.Is(err, onetime.ErrNotFound) {
			return ErrTokenInvalid
		}
		return e.storageErr(err)
	}
	tenant, userID, ok := splitChallengeSubject(subject)
	if !ok {
		return ErrTokenInvalid
	}

	user, err := e.users.GetByID(ctx, tenant, userID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return ErrTokenInvalid
		}
		return e.storageErr(err)
	}

	if same, err := e.verifyWithGate(ctx, next, user.PasswordHash); err == nil && same {
		return ErrPasswordReuse
	}

	hash, err := e.hashWithGate(ctx, next)
	if err != nil {
		return err
	}
	if err := e.users.UpdatePasswordHash(ctx, tenant, userID, hash); err != nil {
		return e.storageErr(err)
	}

	if n, err := e.sessions.RevokeAll(ctx, tenant, userID); err != nil {
		e.logger.Printf("authcore: revoke-all after reset for %s: %v", userID, err)
	} else {
		e.metrics.AddSessionsRevoked(int64(n))
	}
	if err := e.lockouts.RecordSuccess(ctx, lockKey(tenant, user.Identifier)); err != nil {
		e.logger.Printf("authcore: lockout clear after reset for %s: %v", userID, err)
	}

	e.metrics.IncPasswordResets()
	e.emit(ctx, AuditEvent{
		EventType:   EventResetCompleted,
		TenantID:    tenant,
		PrincipalID: userID,
		Success:     true,
	})
	return nil
}
