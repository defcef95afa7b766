package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/authcore-io/authcore/internal/onetime"
	"github.com/authcore-io/authcore/ratelimit"
)

const maxIdentifierLen = 254

// Register creates an account in StatusUnverified, stores only the argon2id
// hash of the password, and mails a single-use verification token. The roles
// are attached as-is; role semantics live in the permission directory.
func (e *Engine) Register(ctx context.Context, identifier, plaintext string, roles []string) (*UserRecord, error) {
	identifier = normalizeIdentifier(identifier)
	if identifier == "" || len(identifier) > maxIdentifierLen {
		return nil, fmt.Errorf("%w: identifier must be 1..%d characters", ErrValidation, maxIdentifierLen)
	}

	tenant := tenantID(ctx)
	if err := e.admit(ctx, rateKey(ctx, identifier), ratelimit.ClassRegister); err != nil {
		return nil, err
	}

	if err := e.config.PasswordPolicy.Check(plaintext); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}
	hash, err := e.hashWithGate(ctx, plaintext)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := &UserRecord{
		ID:           newSessionID(),
		TenantID:     tenant,
		Identifier:   identifier,
		PasswordHash: hash,
		Status:       StatusUnverified,
		Roles:        roles,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.users.Create(ctx, rec); err != nil {
		if errors.Is(err, ErrAccountExists) {
			return nil, ErrAccountExists
		}
		return nil, e.storageErr(err)
	}

	challenge, err := e.challenges.Issue(ctx, onetime.PurposeEmailVerification,
		challengeSubject(tenant, rec.ID), e.config.VerificationTokenTTL)
	if err != nil {
		// The account exists; the caller can recover via a resend.
		e.logger.Printf("authcore: verification challenge for %s: %v", rec.ID, err)
	} else {
		e.sendMail(rec.Identifier, TemplateVerifyEmail, map[string]string{"token": challenge})
	}

	e.metrics.IncRegistrations()
	e.emit(ctx, AuditEvent{
		EventType:   EventRegister,
		TenantID:    tenant,
		PrincipalID: rec.ID,
		Success:     true,
	})
	return rec, nil
}

// RequestEmailVerification re-issues the verification challenge for an
// unverified account. It reports success regardless of whether the
// identifier exists.
func (e *Engine) RequestEmailVerification(ctx context.Context, identifier string) error {
	identifier = normalizeIdentifier(identifier)
	if identifier == "" {
		return fmt.Errorf("%w: identifier must not be empty", ErrValidation)
	}

	tenant := tenantID(ctx)
	if err := e.admit(ctx, rateKey(ctx, identifier), ratelimit.ClassRegister); err != nil {
		return err
	}

	user, err := e.users.GetByIdentifier(ctx, tenant, identifier)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return nil
		}
		return e.storageErr(err)
	}
	if user.Status != StatusUnverified {
		return nil
	}

	challenge, err := e.challenges.Issue(ctx, onetime.PurposeEmailVerification,
		challengeSubject(tenant, user.ID), e.config.VerificationTokenTTL)
	if err != nil {
		return e.storageErr(err)
	}
	e.sendMail(user.Identifier, TemplateVerifyEmail, map[string]string{"token": challenge})
	return nil
}

// VerifyEmail redeems a verification token and activates the account. Each
// token works exactly once; expired, consumed and unknown tokens are
// indistinguishable.
func (e *Engine) VerifyEmail(ctx context.Context, verificationToken string) error {
	subject, err := e.challenges.Consume(ctx, onetime.PurposeEmailVerification, verificationToken)
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
	switch user.Status {
	case StatusActive:
		return nil
	case StatusDisabled:
		return ErrAccountDisabled
	}

	if err := e.users.SetStatus(ctx, tenant, userID, StatusActive); err != nil {
		return e.storageErr(err)
	}
	e.emit(ctx, AuditEvent{
		EventType:   EventEmailVerified,
		TenantID:    tenant,
		PrincipalID: userID,
		Success:     true,
	})
	return nil
}

// sendMail delivers asynchronously so SMTP latency never sits on an
// authentication path. Failures are logged, not surfaced.
func (e *Engine) sendMail(recipient, template string, data map[string]string) {
	if e.mailer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.mailer.Send(ctx, recipient, template, data); err != nil {
			e.logger.Printf("authcore: mail %s to %s: %v", template, recipient, err)
		}
	}()
}

func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// rateKey prefers the client address so one source cannot starve an
// identifier's budget for everyone else.
func rateKey(ctx context.Context, identifier string) string {
	if ip := clientIP(ctx); ip != "" {
		return ip
	}
	return identifier
}
