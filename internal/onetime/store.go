// Package onetime persists single-use, time-bounded challenge tokens:
// password-reset links and email-verification links.
//
// The pattern matches refresh tokens: the bearer value is random, returned
// once, and stored only as a SHA-256 digest. Consumption is atomic: a token
// can be redeemed exactly once no matter how many requests race on it.
package onetime

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when the token is unknown, expired, or was
	// already consumed. The cases are indistinguishable on purpose.
	ErrNotFound = errors.New("onetime: challenge not found")
	// ErrUnavailable wraps Redis transport failures.
	ErrUnavailable = errors.New("onetime: backend unavailable")
)

const secretBytes = 32

// Purpose namespaces challenges so a verification token can never redeem a
// password reset.
type Purpose string

const (
	PurposePasswordReset     Purpose = "pwreset"
	PurposeEmailVerification Purpose = "emailverify"
)

// Store issues and consumes challenges for one Redis backend.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewStore creates a Store using the given key prefix (default "ac").
func NewStore(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "ac"
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) key(purpose Purpose, digest [32]byte) string {
	return s.prefix + ":ott:" + string(purpose) + ":" + hex.EncodeToString(digest[:])
}

// Issue creates a challenge bound to principalID and returns the bearer
// token. Only the token's digest is stored.
func (s *Store) Issue(ctx context.Context, purpose Purpose, principalID string, ttl time.Duration) (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	if err := s.rdb.Set(ctx, s.key(purpose, sha256.Sum256([]byte(token))), principalID, ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return token, nil
}

var consumeScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if not v then
  return false
end
redis.call("DEL", KEYS[1])
return v
`)

// Consume redeems a challenge and returns the bound principal ID. The
// read-and-delete is one atomic script: concurrent redemptions of the same
// token yield exactly one success.
func (s *Store) Consume(ctx context.Context, purpose Purpose, token string) (string, error) {
	if token == "" {
		return "", ErrNotFound
	}

	res, err := consumeScript.Run(ctx, s.rdb, []string{s.key(purpose, sha256.Sum256([]byte(token)))}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	principalID, ok := res.(string)
	if !ok || principalID == "" {
		return "", ErrNotFound
	}
	return principalID, nil
}

// Revoke discards an outstanding challenge without redeeming it.
func (s *Store) Revoke(ctx context.Context, purpose Purpose, token string) error {
	if token == "" {
		return nil
	}
	if err := s.rdb.Del(ctx, s.key(purpose, sha256.Sum256([]byte(token)))).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
