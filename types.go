package authcore

import (
	"context"
	"time"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	// StatusUnverified is the state of a freshly registered account that
	// has not completed email verification.
	StatusUnverified AccountStatus = "unverified"
	// StatusActive accounts may log in without restriction.
	StatusActive AccountStatus = "active"
	// StatusDisabled accounts are administratively blocked. Correct
	// credentials still fail with ErrAccountDisabled.
	StatusDisabled AccountStatus = "disabled"
)

// UserRecord is the durable account state the Engine reads and writes
// through a UserProvider. The Engine never stores plaintext passwords;
// PasswordHash is always a PHC-encoded argon2id string.
type UserRecord struct {
	ID                   string
	TenantID             string
	Identifier           string
	PasswordHash         string
	Status               AccountStatus
	Roles                []string
	SecondFactorEnrolled bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// UserProvider is the durable account store. Implementations must return
// ErrPrincipalNotFound for lookups that match nothing and ErrAccountExists
// from Create when (tenant, identifier) is already taken.
//
// store/postgres ships a ready implementation; tests use an in-memory one.
type UserProvider interface {
	GetByIdentifier(ctx context.Context, tenantID, identifier string) (*UserRecord, error)
	GetByID(ctx context.Context, tenantID, id string) (*UserRecord, error)
	Create(ctx context.Context, rec *UserRecord) error
	UpdatePasswordHash(ctx context.Context, tenantID, id, hash string) error
	SetStatus(ctx context.Context, tenantID, id string, status AccountStatus) error
}

// Mail template names passed to Mailer.Send.
const (
	TemplateVerifyEmail   = "verify_email"
	TemplatePasswordReset = "password_reset"
)

// Mailer delivers account emails. Send is called from short-lived
// goroutines; implementations should be safe for concurrent use. A delivery
// failure is logged, never surfaced to the caller that triggered it.
type Mailer interface {
	Send(ctx context.Context, recipient, template string, data map[string]string) error
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// PrincipalClaims are the verified contents of an access token, as returned
// by VerifyAccess.
type PrincipalClaims struct {
	PrincipalID  string
	TenantID     string
	SessionID    string
	TokenVersion uint64
	Roles        []string
	ExpiresAt    time.Time
}
