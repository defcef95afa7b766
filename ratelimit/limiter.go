// Package ratelimit bounds request rates for the sensitive authentication
// endpoints: registration, login, password reset, and refresh.
//
// The default limiter keeps fixed-window counters in Redis so the budget is
// shared across service instances; a client cannot escape it by spreading
// requests over replicas. A purely in-process variant backed by
// golang.org/x/time/rate is provided for single-instance deployments.
//
// Keys are caller-composed (network origin, authenticated principal, or
// both); the limiter never trusts identity, it only counts.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Class identifies an endpoint class with its own independent budget.
type Class string

const (
	ClassRegister      Class = "register"
	ClassLogin         Class = "login"
	ClassPasswordReset Class = "reset"
	ClassRefresh       Class = "refresh"
)

var (
	// ErrLimited is the sentinel matched by errors.Is for rate rejections.
	// The concrete error is always a *LimitedError carrying RetryAfter.
	ErrLimited = errors.New("ratelimit: too many requests")
	// ErrUnavailable wraps Redis transport failures. Callers fail closed.
	ErrUnavailable = errors.New("ratelimit: backend unavailable")
)

// LimitedError reports a rejected request and the delay after which the
// caller may retry.
type LimitedError struct {
	Class      Class
	RetryAfter time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("ratelimit: %s budget exhausted, retry after %s", e.Class, e.RetryAfter.Round(time.Second))
}

func (e *LimitedError) Unwrap() error { return ErrLimited }

// Window is one endpoint class budget: at most Limit requests per Interval.
type Window struct {
	Limit    int
	Interval time.Duration
}

// Config holds the per-class budgets. A zero-limit window disables the class.
type Config struct {
	Register      Window
	Login         Window
	PasswordReset Window
	Refresh       Window
}

// DefaultConfig mirrors the production defaults: registration and password
// reset are scarce, login is moderate, refresh is comparatively generous.
func DefaultConfig() Config {
	return Config{
		Register:      Window{Limit: 10, Interval: time.Hour},
		Login:         Window{Limit: 20, Interval: 15 * time.Minute},
		PasswordReset: Window{Limit: 5, Interval: time.Hour},
		Refresh:       Window{Limit: 60, Interval: time.Minute},
	}
}

func (c Config) window(class Class) (Window, error) {
	switch class {
	case ClassRegister:
		return c.Register, nil
	case ClassLogin:
		return c.Login, nil
	case ClassPasswordReset:
		return c.PasswordReset, nil
	case ClassRefresh:
		return c.Refresh, nil
	default:
		return Window{}, fmt.Errorf("ratelimit: unknown class %q", class)
	}
}

// Validate rejects windows with a positive limit but no interval.
func (c Config) Validate() error {
	for _, w := range []Window{c.Register, c.Login, c.PasswordReset, c.Refresh} {
		if w.Limit > 0 && w.Interval <= 0 {
			return errors.New("ratelimit: window interval must be positive")
		}
	}
	return nil
}

// Admitter is the admission contract consumed by the Engine. Allow returns
// nil, a *LimitedError, or a backend failure.
type Admitter interface {
	Allow(ctx context.Context, key string, class Class) error
}

// Limiter is the Redis-backed fixed-window admitter.
type Limiter struct {
	rdb    redis.UniversalClient
	prefix string
	cfg    Config
}

// NewLimiter creates a Limiter using the given key prefix (default "ac").
func NewLimiter(rdb redis.UniversalClient, prefix string, cfg Config) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "ac"
	}
	return &Limiter{rdb: rdb, prefix: prefix, cfg: cfg}, nil
}

var allowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if count > tonumber(ARGV[2]) then
  return {0, redis.call("PTTL", KEYS[1])}
end
return {1, 0}
`)

// Allow admits or rejects one request for (key, class). The counter
// increment and window start are a single atomic script, so concurrent
// requests cannot squeeze extra admissions out of a race.
func (l *Limiter) Allow(ctx context.Context, key string, class Class) error {
	w, err := l.cfg.window(class)
	if err != nil {
		return err
	}
	if w.Limit <= 0 {
		return nil
	}

	res, err := allowScript.Run(ctx, l.rdb,
		[]string{l.prefix + ":rl:" + string(class) + ":" + key},
		w.Interval.Milliseconds(),
		w.Limit,
	).Slice()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(res) != 2 {
		return fmt.Errorf("%w: unexpected script reply", ErrUnavailable)
	}

	admitted, _ := res[0].(int64)
	if admitted == 1 {
		return nil
	}
	ttlMS, _ := res[1].(int64)
	retry := time.Duration(ttlMS) * time.Millisecond
	if retry <= 0 {
		retry = w.Interval
	}
	return &LimitedError{Class: class, RetryAfter: retry}
}

// Local is an in-process admitter built on golang.org/x/time/rate token
// buckets. Budgets are per process: do not use it behind a load balancer
// with more than one replica.
type Local struct {
	cfg Config

	mu      sync.Mutex
	buckets map[string]*localBucket
}

type localBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewLocal creates the in-process admitter.
func NewLocal(cfg Config) (*Local, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Local{cfg: cfg, buckets: make(map[string]*localBucket)}, nil
}

// Allow admits or rejects one request for (key, class).
func (l *Local) Allow(_ context.Context, key string, class Class) error {
	w, err := l.cfg.window(class)
	if err != nil {
		return err
	}
	if w.Limit <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id := string(class) + ":" + key
	b, ok := l.buckets[id]
	if !ok {
		every := w.Interval / time.Duration(w.Limit)
		b = &localBucket{lim: rate.NewLimiter(rate.Every(every), w.Limit)}
		l.buckets[id] = b
	}
	b.seen = time.Now()
	l.evictStale()

	if !b.lim.Allow() {
		return &LimitedError{Class: class, RetryAfter: every(b.lim)}
	}
	return nil
}

// evictStale drops buckets idle longer than an hour. Called under mu.
func (l *Local) evictStale() {
	if len(l.buckets) < 4096 {
		return
	}
	cutoff := time.Now().Add(-time.Hour)
	for id, b := range l.buckets {
		if b.seen.Before(cutoff) {
			delete(l.buckets, id)
		}
	}
}

func every(lim *rate.Limiter) time.Duration {
	limit := lim.Limit()
	if limit <= 0 {
		return time.Second
	}
	return time.Duration(float64(time.Second) / float64(limit))
}
