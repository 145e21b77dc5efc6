package authcore

import (
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/audit"
	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/lockout"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/ratelimit"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/totp"
)

// dummyPassword is hashed once at Build so that logins for unknown emails
// spend the same time verifying as logins for known ones.
const dummyPassword = "authcore-dummy-password-for-timing"

// Builder assembles an [Engine]. Configure it during initialization and call
// Build exactly once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	identities    identity.Store
	auditSink     audit.Sink
	auditReporter audit.FailureReporter
	logger        *slog.Logger
	now           func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the backend for sessions, rate counters and MFA state.
// Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithIdentityStore sets the credential store. Required.
func (b *Builder) WithIdentityStore(store identity.Store) *Builder {
	b.identities = store
	return b
}

// WithAuditSink sets where audit entries are written. Defaults to a JSON
// writer on stderr.
func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.auditSink = sink
	return b
}

// WithAuditReporter sets where audit write failures are surfaced. Defaults
// to logging them.
func (b *Builder) WithAuditReporter(r audit.FailureReporter) *Builder {
	b.auditReporter = r
	return b
}

// WithLogger sets the structured logger.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for every component. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.identities == nil {
		return nil, errors.New("identity store required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}

	// -------- CREDENTIALS --------
	hasher, err := password.NewArgon2(cfg.passwordConfig())
	if err != nil {
		return nil, err
	}
	dummyHash, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}
	totpEngine, err := totp.New(cfg.totpConfig())
	if err != nil {
		return nil, err
	}
	tokens, err := jwt.NewManager(cfg.jwtConfig(now))
	if err != nil {
		return nil, err
	}
	guard, err := lockout.New(b.identities, cfg.lockoutConfig(), now)
	if err != nil {
		return nil, err
	}

	// -------- REDIS-BACKED STATE --------
	prefix := cfg.Session.RedisPrefix
	sessions := session.NewStore(b.redis, prefix+":session", now)
	limiter := ratelimit.New(b.redis, cfg.RateLimit.RedisPrefix, now)

	// -------- AUDIT --------
	sink := b.auditSink
	if sink == nil {
		sink = audit.NewJSONWriterSink(os.Stderr)
	}
	reporter := b.auditReporter
	if reporter == nil {
		reporter = audit.LogReporter{Logger: logger}
	}
	auditLogger := audit.New(sink, audit.Config{
		WriteTimeout: cfg.Audit.WriteTimeout,
		Reporter:     reporter,
		Now:          now,
	}, logger)

	engine := &Engine{
		config:      cfg,
		logger:      logger,
		now:         now,
		identities:  b.identities,
		sessions:    sessions,
		limiter:     limiter,
		policy:      cfg.rateLimitPolicy(),
		lockout:     guard,
		hasher:      hasher,
		pwPolicy:    cfg.passwordPolicy(),
		totp:        totpEngine,
		tokens:      tokens,
		challenges:  stores.NewMFAChallengeStore(b.redis, prefix+":mfa:c", now),
		enrollments: stores.NewMFAEnrollmentStore(b.redis, prefix+":mfa:e"),
		replay:      stores.NewTOTPReplayGuard(b.redis, prefix+":mfa:r"),
		audit:       auditLogger,
		metrics:     NewMetrics(cfg.Metrics),
		dummyHash:   dummyHash,
	}

	b.built = true
	return engine, nil
}
