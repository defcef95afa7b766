// Package mfa provides the pluggable second-factor verification step used
// between credential verification and token issuance.
//
// The Engine depends only on the Verifier interface; TOTP (RFC 6238) is the
// bundled implementation. Enrollment, secret storage, and code delivery are
// collaborator concerns.
package mfa

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Verifier checks a second factor for a principal. evidence is whatever the
// client submitted: a TOTP code, a recovery code, a push approval token.
type Verifier interface {
	Verify(ctx context.Context, principalID, evidence string) (bool, error)
}

// SecretSource retrieves a principal's enrolled TOTP secret. enrolled=false
// means the principal has no second factor; Verify then fails closed.
type SecretSource interface {
	TOTPSecret(ctx context.Context, principalID string) (secret []byte, enrolled bool, err error)
}

const secretBytes = 20

// TOTPConfig tunes code generation. Zero values take RFC 6238 defaults.
type TOTPConfig struct {
	Digits int           // default 6
	Period time.Duration // default 30s
	Skew   int           // accepted steps either side of now, default 1
	Issuer string        // used only for provisioning URIs
}

// TOTP is a time-based one-time-password Verifier.
type TOTP struct {
	source SecretSource
	cfg    TOTPConfig
	now    func() time.Time
}

// NewTOTP creates a TOTP verifier reading secrets from source.
func NewTOTP(source SecretSource, cfg TOTPConfig) (*TOTP, error) {
	if source == nil {
		return nil, errors.New("mfa: nil secret source")
	}
	if cfg.Digits == 0 {
		cfg.Digits = 6
	}
	if cfg.Digits < 6 || cfg.Digits > 10 {
		return nil, errors.New("mfa: digits must be 6..10")
	}
	if cfg.Period == 0 {
		cfg.Period = 30 * time.Second
	}
	if cfg.Period < time.Second {
		return nil, errors.New("mfa: period must be >= 1s")
	}
	if cfg.Skew < 0 || cfg.Skew > 2 {
		return nil, errors.New("mfa: skew must be 0..2")
	}
	return &TOTP{source: source, cfg: cfg, now: time.Now}, nil
}

// Verify implements Verifier. A principal without an enrolled secret never
// verifies, and malformed codes are rejected before any HMAC work.
func (t *TOTP) Verify(ctx context.Context, principalID, evidence string) (bool, error) {
	code := strings.TrimSpace(evidence)
	if len(code) != t.cfg.Digits || !isDigits(code) {
		return false, nil
	}

	secret, enrolled, err := t.source.TOTPSecret(ctx, principalID)
	if err != nil {
		return false, fmt.Errorf("mfa: secret lookup: %w", err)
	}
	if !enrolled || len(secret) == 0 {
		return false, nil
	}

	step := t.now().Unix() / int64(t.cfg.Period/time.Second)
	for offset := -t.cfg.Skew; offset <= t.cfg.Skew; offset++ {
		counter := step + int64(offset)
		if counter < 0 {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hotp(secret, counter, t.cfg.Digits)), []byte(code)) == 1 {
			return true, nil
		}
	}
	return false, nil
}

// GenerateSecret draws a fresh 160-bit secret and its base32 form for
// enrollment.
func GenerateSecret() ([]byte, string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return raw, enc.EncodeToString(raw), nil
}

// ProvisionURI renders the otpauth:// URI encoded into enrollment QR codes.
func (t *TOTP) ProvisionURI(secretBase32, account string) string {
	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", t.cfg.Issuer)
	v.Set("period", strconv.Itoa(int(t.cfg.Period/time.Second)))
	v.Set("digits", strconv.Itoa(t.cfg.Digits))
	v.Set("algorithm", "SHA1")

	label := url.PathEscape(t.cfg.Issuer + ":" + account)
	return "otpauth://totp/" + label + "?" + v.Encode()
}

func hotp(secret []byte, counter int64, digits int) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, secret)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	mod := uint32(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, code%mod)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
