package authcore

import (
	"crypto/rand"
	"errors"
	"log"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"

	"github.com/authcore-io/authcore/internal/onetime"
	"github.com/authcore-io/authcore/lockout"
	"github.com/authcore-io/authcore/metrics"
	"github.com/authcore-io/authcore/mfa"
	"github.com/authcore-io/authcore/password"
	"github.com/authcore-io/authcore/permission"
	"github.com/authcore-io/authcore/ratelimit"
	"github.com/authcore-io/authcore/session"
	"github.com/authcore-io/authcore/token"
)

// Builder assembles an Engine. Configure it once, call Build, discard it.
type Builder struct {
	config Config

	redis        redis.UniversalClient
	userProvider UserProvider
	directory    permission.Directory
	mailer       Mailer
	secondFactor mfa.Verifier
	auditSink    AuditSink
	metrics      *metrics.Metrics
	logger       *log.Logger

	localRate bool
	built     bool
}

// New returns a builder preloaded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the client backing sessions, lockouts, rate limits and
// single-use challenges. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserProvider sets the durable account store. Required.
func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithRoleDirectory sets the source of role-to-permission mappings. When
// omitted, an empty static directory is used and every Authorize call is
// denied.
func (b *Builder) WithRoleDirectory(dir permission.Directory) *Builder {
	b.directory = dir
	return b
}

// WithMailer enables verification and reset emails. Without it those
// operations still mint challenge tokens but nothing is delivered.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithSecondFactor enables second-factor checks during login for accounts
// that have one enrolled.
func (b *Builder) WithSecondFactor(v mfa.Verifier) *Builder {
	b.secondFactor = v
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetrics(m *metrics.Metrics) *Builder {
	b.metrics = m
	return b
}

func (b *Builder) WithLogger(l *log.Logger) *Builder {
	b.logger = l
	return b
}

// WithLocalRateLimiter replaces the Redis fixed-window limiter with an
// in-process token bucket. Only sensible for single-instance deployments.
func (b *Builder) WithLocalRateLimiter() *Builder {
	b.localRate = true
	return b
}

// Build validates the configuration, constructs every subsystem and wires
// them into an Engine. The builder cannot be reused afterwards.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("authcore: builder already used")
	}
	b.built = true

	if err := b.config.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("authcore: redis client is required")
	}
	if b.userProvider == nil {
		return nil, errors.New("authcore: user provider is required")
	}

	hasher, err := password.NewHasher(b.config.Password)
	if err != nil {
		return nil, err
	}
	tokens, err := token.NewManager(b.config.AccessToken)
	if err != nil {
		return nil, err
	}
	guard, err := lockout.NewGuard(b.redis, b.config.KeyPrefix, b.config.Lockout)
	if err != nil {
		return nil, err
	}

	var admitter ratelimit.Admitter
	if b.localRate {
		admitter, err = ratelimit.NewLocal(b.config.RateLimit)
	} else {
		admitter, err = ratelimit.NewLimiter(b.redis, b.config.KeyPrefix, b.config.RateLimit)
	}
	if err != nil {
		return nil, err
	}

	dir := b.directory
	if dir == nil {
		dir = permission.NewStaticDirectory(nil)
	}
	resolver, err := permission.NewResolver(dir, b.config.PermissionTTL)
	if err != nil {
		return nil, err
	}

	// The decoy hash keeps verification time flat for unknown identifiers.
	decoy := make([]byte, 24)
	if _, err := rand.Read(decoy); err != nil {
		return nil, err
	}
	decoyHash, err := hasher.Hash(string(decoy))
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = log.Default()
	}

	e := &Engine{
		config:       b.config,
		users:        b.userProvider,
		hasher:       hasher,
		tokens:       tokens,
		sessions:     session.NewStore(b.redis, b.config.KeyPrefix),
		lockouts:     guard,
		limiter:      admitter,
		challenges:   onetime.NewStore(b.redis, b.config.KeyPrefix),
		resolver:     resolver,
		mailer:       b.mailer,
		secondFactor: b.secondFactor,
		audit:        newAuditDispatcher(b.auditSink, b.config.AuditBuffer),
		metrics:      b.metrics,
		hashGate:     semaphore.NewWeighted(b.config.MaxConcurrentHashes),
		decoyHash:    decoyHash,
		logger:       logger,
	}
	return e, nil
}
