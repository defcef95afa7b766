package authcore

import (
	"fmt"
	"time"

	"github.com/authcore-io/authcore/lockout"
	"github.com/authcore-io/authcore/password"
	"github.com/authcore-io/authcore/ratelimit"
	"github.com/authcore-io/authcore/token"
)

// Config assembles the tuning knobs of every subsystem. Start from
// DefaultConfig or HardenedConfig and override what you need; signing key
// material always has to be filled in by the caller.
type Config struct {
	// KeyPrefix namespaces all Redis keys written by the engine.
	KeyPrefix string

	Password       password.Params
	PasswordPolicy password.Policy

	// AccessToken configures the JWT manager. PrivateKey (and PublicKey
	// for Ed25519) must be set by the caller.
	AccessToken token.Config

	// RefreshTTL is the lifetime of a refresh token. Rotation restarts it.
	RefreshTTL time.Duration

	Lockout   lockout.Config
	RateLimit ratelimit.Config

	// PermissionTTL bounds how long a cached role resolution may be served
	// before the directory is consulted again.
	PermissionTTL time.Duration

	// ResetTokenTTL and VerificationTokenTTL bound the single-use
	// challenge tokens sent by email.
	ResetTokenTTL        time.Duration
	VerificationTokenTTL time.Duration

	// AllowUnverifiedLogin lets accounts in StatusUnverified authenticate.
	// Verification emails keep working either way.
	AllowUnverifiedLogin bool

	// MaxConcurrentHashes caps in-flight argon2 computations so a login
	// burst cannot exhaust memory.
	MaxConcurrentHashes int64

	// AuditBuffer is the capacity of the async audit queue. Events beyond
	// the buffer are dropped and counted, never blocked on.
	AuditBuffer int
}

// DefaultConfig is the baseline: 30-minute access tokens, 30-day refresh
// tokens, lockout after 5 failures, argon2id at 64 MiB.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:      "ac",
		Password:       password.DefaultParams(),
		PasswordPolicy: password.DefaultPolicy(),
		AccessToken: token.Config{
			TTL:           30 * time.Minute,
			SigningMethod: token.MethodEd25519,
		},
		RefreshTTL:           30 * 24 * time.Hour,
		Lockout:              lockout.DefaultConfig(),
		RateLimit:            ratelimit.DefaultConfig(),
		PermissionTTL:        time.Minute,
		ResetTokenTTL:        time.Hour,
		VerificationTokenTTL: 24 * time.Hour,
		MaxConcurrentHashes:  4,
		AuditBuffer:          256,
	}
}

// HardenedConfig trades latency for margin: heavier hashing, shorter token
// lifetimes, a tighter lockout.
func HardenedConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.MemoryKB = 128 * 1024
	cfg.Password.Time = 4
	cfg.PasswordPolicy.MinLength = 12
	cfg.PasswordPolicy.RequireSpecial = true
	cfg.AccessToken.TTL = 15 * time.Minute
	cfg.RefreshTTL = 7 * 24 * time.Hour
	cfg.Lockout.Threshold = 3
	cfg.Lockout.Duration = 30 * time.Minute
	cfg.ResetTokenTTL = 30 * time.Minute
	return cfg
}

// Validate checks the engine-level fields. Subsystem configs are validated
// by their own constructors during Build.
func (c Config) Validate() error {
	if c.KeyPrefix == "" {
		return fmt.Errorf("%w: key prefix must not be empty", ErrValidation)
	}
	if c.RefreshTTL <= 0 {
		return fmt.Errorf("%w: refresh ttl must be positive", ErrValidation)
	}
	if c.PermissionTTL <= 0 {
		return fmt.Errorf("%w: permission ttl must be positive", ErrValidation)
	}
	if c.ResetTokenTTL <= 0 || c.VerificationTokenTTL <= 0 {
		return fmt.Errorf("%w: challenge ttls must be positive", ErrValidation)
	}
	if c.MaxConcurrentHashes <= 0 {
		return fmt.Errorf("%w: max concurrent hashes must be positive", ErrValidation)
	}
	if c.AuditBuffer < 0 {
		return fmt.Errorf("%w: audit buffer must not be negative", ErrValidation)
	}
	return nil
}
