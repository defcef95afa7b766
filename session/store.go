// Package session persists refresh-token records in Redis.
//
// Every issued refresh token has exactly one record: the SHA-256 of its
// secret, the owning principal, its expiry, and a revocation marker. The
// bearer value itself is never stored. Rotation, revocation, and reuse
// checks run as single Lua scripts so that two concurrent rotations of the
// same token can never both succeed.
//
// The store also owns the per-principal token-version counter used for
// coarse access-token revocation: RevokeAll bumps the counter, and access
// tokens minted under an older version fail verification without any
// per-token bookkeeping.
package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when no record exists for the presented token.
	ErrNotFound = errors.New("session: record not found")
	// ErrExpired is returned when the record exists but its expiry has passed.
	ErrExpired = errors.New("session: record expired")
	// ErrRevoked is returned when the token was revoked by an explicit logout.
	ErrRevoked = errors.New("session: record revoked")
	// ErrReuseDetected is returned when a token consumed by a previous
	// rotation is presented again. The caller must treat this as theft and
	// revoke every session of the owning principal.
	ErrReuseDetected = errors.New("session: refresh token reuse detected")
	// ErrHashMismatch is returned when the presented secret does not match
	// the stored hash of a live record.
	ErrHashMismatch = errors.New("session: refresh hash mismatch")
	// ErrUnavailable wraps Redis transport failures. Callers fail closed.
	ErrUnavailable = errors.New("session: backend unavailable")
)

// ReuseError carries the owning principal of a replayed token so the caller
// can revoke every one of their sessions. Unwraps to ErrReuseDetected.
type ReuseError struct {
	UserID string
}

func (e *ReuseError) Error() string {
	return fmt.Sprintf("session: refresh token reuse detected for user %s", e.UserID)
}

func (e *ReuseError) Unwrap() error { return ErrReuseDetected }

const (
	statusNotFound int64 = 0
	statusExpired  int64 = 1
	statusReuse    int64 = 2
	statusRotated  int64 = 3
	statusMismatch int64 = 4
	statusRevoked  int64 = 5

	revocationNone   = ""
	revocationRotate = "rotated"
	revocationLogout = "logout"
)

// Record is the persisted form of one refresh token.
type Record struct {
	ID         string
	TenantID   string
	UserID     string
	SecretHash [32]byte
	IssuedAt   int64
	ExpiresAt  int64
}

// Rotation is the result of a successful Rotate call.
type Rotation struct {
	NewID  string
	UserID string
}

// Store manages refresh-token records and token-version counters. Safe for
// concurrent use.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewStore creates a Store using the given key prefix (default "ac").
func NewStore(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "ac"
	}
	return &Store{rdb: rdb, prefix: prefix, now: time.Now}
}

func (s *Store) recordKey(tenantID, id string) string {
	return s.prefix + ":rt:" + tenantID + ":" + id
}

func (s *Store) userSetPrefix(tenantID string) string {
	return s.prefix + ":usr:" + tenantID + ":"
}

func (s *Store) versionKey(tenantID, userID string) string {
	return s.prefix + ":tv:" + tenantID + ":" + userID
}

var createScript = redis.NewScript(`
redis.call("HSET", KEYS[1], "uid", ARGV[1], "th", ARGV[2], "iat", ARGV[3], "exp", ARGV[4], "rev", "")
redis.call("EXPIREAT", KEYS[1], ARGV[4])
redis.call("SADD", KEYS[2], ARGV[5])
return 1
`)

// Create persists a new refresh-token record atomically.
func (s *Store) Create(ctx context.Context, rec *Record) error {
	keys := []string{
		s.recordKey(rec.TenantID, rec.ID),
		s.userSetPrefix(rec.TenantID) + rec.UserID,
	}
	err := createScript.Run(ctx, s.rdb, keys,
		rec.UserID,
		hex.EncodeToString(rec.SecretHash[:]),
		rec.IssuedAt,
		rec.ExpiresAt,
		rec.ID,
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// rotateScript atomically validates the presented token and replaces it.
// The consumed record is kept (marked "rotated") for the rest of its natural
// lifetime so that replaying it is detectable as reuse rather than as an
// unknown token.
var rotateScript = redis.NewScript(`
local cur = redis.call("HMGET", KEYS[1], "uid", "th", "exp", "rev")
local uid = cur[1]
local th = cur[2]
local exp = cur[3]
local rev = cur[4]
if not uid then
  return {0}
end
if rev == "rotated" then
  return {2, uid}
end
if rev ~= "" then
  return {5, uid}
end
if tonumber(exp) <= tonumber(ARGV[3]) then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", ARGV[6] .. uid, ARGV[5])
  return {1}
end
if th ~= ARGV[1] then
  return {4, uid}
end
redis.call("HSET", KEYS[1], "rev", "rotated")
redis.call("HSET", KEYS[2], "uid", uid, "th", ARGV[2], "iat", ARGV[3], "exp", ARGV[4], "rev", "")
redis.call("EXPIREAT", KEYS[2], ARGV[4])
local set = ARGV[6] .. uid
redis.call("SADD", set, ARGV[7])
redis.call("SREM", set, ARGV[5])
return {3, uid}
`)

// Rotate verifies the presented secret hash against the record and, in the
// same atomic step, marks the record consumed and creates its successor.
// Exactly one of any number of concurrent rotations of the same token
// succeeds; the rest observe ErrReuseDetected.
func (s *Store) Rotate(ctx context.Context, tenantID, id string, providedHash, nextHash [32]byte, ttl time.Duration) (*Rotation, error) {
	newID := uuid.NewString()
	now := s.now().Unix()

	keys := []string{
		s.recordKey(tenantID, id),
		s.recordKey(tenantID, newID),
	}
	res, err := rotateScript.Run(ctx, s.rdb, keys,
		hex.EncodeToString(providedHash[:]),
		hex.EncodeToString(nextHash[:]),
		now,
		now+int64(ttl/time.Second),
		id,
		s.userSetPrefix(tenantID),
		newID,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	status, userID := decodeScriptResult(res)
	switch status {
	case statusRotated:
		return &Rotation{NewID: newID, UserID: userID}, nil
	case statusNotFound:
		return nil, ErrNotFound
	case statusExpired:
		return nil, ErrExpired
	case statusReuse:
		return nil, &ReuseError{UserID: userID}
	case statusRevoked:
		return nil, ErrRevoked
	case statusMismatch:
		return nil, ErrHashMismatch
	default:
		return nil, fmt.Errorf("%w: unexpected rotate status %d", ErrUnavailable, status)
	}
}

var revokeScript = redis.NewScript(`
local cur = redis.call("HMGET", KEYS[1], "uid", "th", "rev")
local uid = cur[1]
local th = cur[2]
local rev = cur[3]
if not uid then
  return {0}
end
if rev == "rotated" then
  return {2, uid}
end
if th ~= ARGV[1] then
  return {4, uid}
end
redis.call("HSET", KEYS[1], "rev", "logout")
redis.call("SREM", ARGV[2] .. uid, ARGV[3])
return {3, uid}
`)

// Revoke marks a single record revoked (logout). The caller must present the
// live token; revoking an already-rotated record reports reuse just like
// rotation would. Revoking an already-revoked record is a no-op.
func (s *Store) Revoke(ctx context.Context, tenantID, id string, providedHash [32]byte) error {
	keys := []string{s.recordKey(tenantID, id)}
	res, err := revokeScript.Run(ctx, s.rdb, keys,
		hex.EncodeToString(providedHash[:]),
		s.userSetPrefix(tenantID),
		id,
	).Slice()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	status, userID := decodeScriptResult(res)
	switch status {
	case statusRotated:
		return nil
	case statusNotFound:
		return ErrNotFound
	case statusReuse:
		return &ReuseError{UserID: userID}
	case statusMismatch:
		return ErrHashMismatch
	default:
		return fmt.Errorf("%w: unexpected revoke status %d", ErrUnavailable, status)
	}
}

var revokeAllScript = redis.NewScript(`
local ids = redis.call("SMEMBERS", KEYS[1])
for _, id in ipairs(ids) do
  redis.call("DEL", ARGV[1] .. id)
end
redis.call("DEL", KEYS[1])
redis.call("INCR", KEYS[2])
return #ids
`)

// RevokeAll destroys every live refresh record of the principal and bumps
// the token-version counter so outstanding access tokens fail verification
// on their next use. Returns the number of records destroyed.
func (s *Store) RevokeAll(ctx context.Context, tenantID, userID string) (int, error) {
	keys := []string{
		s.userSetPrefix(tenantID) + userID,
		s.versionKey(tenantID, userID),
	}
	n, err := revokeAllScript.Run(ctx, s.rdb, keys, s.prefix+":rt:"+tenantID+":").Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// TokenVersion returns the principal's current token version. Principals
// that have never been mass-revoked are at version zero.
func (s *Store) TokenVersion(ctx context.Context, tenantID, userID string) (uint64, error) {
	v, err := s.rdb.Get(ctx, s.versionKey(tenantID, userID)).Uint64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v, nil
}

// ActiveCount returns the number of live refresh records for the principal.
func (s *Store) ActiveCount(ctx context.Context, tenantID, userID string) (int, error) {
	n, err := s.rdb.SCard(ctx, s.userSetPrefix(tenantID)+userID).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(n), nil
}

func decodeScriptResult(res []interface{}) (int64, string) {
	if len(res) == 0 {
		return -1, ""
	}
	status, _ := res[0].(int64)
	userID := ""
	if len(res) > 1 {
		userID, _ = res[1].(string)
	}
	return status, userID
}
