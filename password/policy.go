package password

import (
	"errors"
	"unicode"
)

// ErrPolicy is returned by Policy.Check when the candidate password does not
// satisfy the configured composition rules.
var ErrPolicy = errors.New("password: policy violation")

// Policy describes composition rules applied when a password is first chosen
// (registration, change, reset). It is deliberately not applied during
// verification so a policy change never locks out existing credentials.
type Policy struct {
	MinLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

// DefaultPolicy returns the baseline policy: 8..128 bytes with at least one
// uppercase letter, one lowercase letter, and one digit.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:    8,
		RequireUpper: true,
		RequireLower: true,
		RequireDigit: true,
	}
}

// Check validates a candidate password against the policy. Length bounds are
// byte-based to match what the hasher accepts.
func (p Policy) Check(candidate string) error {
	if candidate == "" {
		return ErrEmptyPlaintext
	}
	if len(candidate) > MaxPlaintextBytes {
		return ErrPlaintextTooLong
	}
	if len(candidate) < p.MinLength {
		return ErrPolicy
	}

	var upper, lower, digit, special bool
	for _, r := range candidate {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}

	if p.RequireUpper && !upper {
		return ErrPolicy
	}
	if p.RequireLower && !lower {
		return ErrPolicy
	}
	if p.RequireDigit && !digit {
		return ErrPolicy
	}
	if p.RequireSpecial && !special {
		return ErrPolicy
	}
	return nil
}
