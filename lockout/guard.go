// Package lockout tracks consecutive failed authentication attempts per
// principal and enforces temporary account lockout.
//
// State lives in Redis so it is shared across service instances and survives
// restarts; an attacker cannot reset the counter by reconnecting. Counter
// updates are single Redis commands (INCR, DEL), so concurrent failures
// cannot race past the threshold by more than the one attempt that is
// already in flight.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrLocked is the sentinel matched by errors.Is for lockout failures.
	// The concrete error is always a *LockedError carrying RetryAfter.
	ErrLocked = errors.New("lockout: account locked")
	// ErrUnavailable wraps Redis transport failures. Callers fail closed.
	ErrUnavailable = errors.New("lockout: backend unavailable")
)

// LockedError reports that the principal is locked out and for how long.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("lockout: account locked, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *LockedError) Unwrap() error { return ErrLocked }

// Config tunes the lockout state machine.
type Config struct {
	// Threshold is the number of consecutive failures that triggers lockout.
	Threshold int
	// Window is how long the failure counter persists without new failures.
	Window time.Duration
	// Duration is how long a triggered lockout lasts.
	Duration time.Duration
}

// DefaultConfig locks an account for 15 minutes after 5 consecutive
// failures counted over a 15-minute window.
func DefaultConfig() Config {
	return Config{
		Threshold: 5,
		Window:    15 * time.Minute,
		Duration:  15 * time.Minute,
	}
}

// Guard is the per-principal lockout state machine. Safe for concurrent use.
type Guard struct {
	rdb    redis.UniversalClient
	prefix string
	cfg    Config
}

// NewGuard creates a Guard using the given key prefix (default "ac").
func NewGuard(rdb redis.UniversalClient, prefix string, cfg Config) (*Guard, error) {
	if cfg.Threshold < 1 {
		return nil, errors.New("lockout: threshold must be >= 1")
	}
	if cfg.Window <= 0 || cfg.Duration <= 0 {
		return nil, errors.New("lockout: window and duration must be positive")
	}
	if prefix == "" {
		prefix = "ac"
	}
	return &Guard{rdb: rdb, prefix: prefix, cfg: cfg}, nil
}

func (g *Guard) failKey(principalID string) string {
	return g.prefix + ":lf:" + principalID
}

func (g *Guard) lockKey(principalID string) string {
	return g.prefix + ":lk:" + principalID
}

// CheckAllowed reports whether the principal may attempt authentication.
// It is consulted before any credential comparison, so a locked account
// never reaches the password hasher.
func (g *Guard) CheckAllowed(ctx context.Context, principalID string) error {
	ttl, err := g.rdb.PTTL(ctx, g.lockKey(principalID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ttl > 0 {
		return &LockedError{RetryAfter: ttl}
	}
	return nil
}

var recordFailureScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if count >= tonumber(ARGV[2]) then
  redis.call("SET", KEYS[2], "1", "PX", ARGV[3])
  redis.call("DEL", KEYS[1])
  return 1
end
return 0
`)

// RecordFailure registers a failed attempt. It returns true when this
// failure crossed the threshold and triggered a lockout.
func (g *Guard) RecordFailure(ctx context.Context, principalID string) (bool, error) {
	keys := []string{g.failKey(principalID), g.lockKey(principalID)}
	locked, err := recordFailureScript.Run(ctx, g.rdb, keys,
		g.cfg.Window.Milliseconds(),
		g.cfg.Threshold,
		g.cfg.Duration.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return locked == 1, nil
}

// RecordSuccess resets the failure counter and clears any lockout,
// regardless of prior state.
func (g *Guard) RecordSuccess(ctx context.Context, principalID string) error {
	if err := g.rdb.Del(ctx, g.failKey(principalID), g.lockKey(principalID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Failures returns the current consecutive-failure count. Missing keys read
// as zero and reveal nothing about account existence.
func (g *Guard) Failures(ctx context.Context, principalID string) (int, error) {
	n, err := g.rdb.Get(ctx, g.failKey(principalID)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}
