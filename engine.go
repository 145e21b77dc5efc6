package authcore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

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

// Engine is the authentication and authorization core. It holds no
// per-request state: counters, sessions and identities live in external
// stores, so any number of Engines may serve the same users.
//
// Engine is immutable after Build and safe for concurrent use.
type Engine struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	identities  identity.Store
	sessions    *session.Store
	limiter     *ratelimit.Limiter
	policy      ratelimit.Policy
	lockout     *lockout.Guard
	hasher      password.Hasher
	pwPolicy    password.Policy
	totp        *totp.Engine
	tokens      *jwt.Manager
	challenges  *stores.MFAChallengeStore
	enrollments *stores.MFAEnrollmentStore
	replay      *stores.TOTPReplayGuard
	audit       *audit.Logger
	metrics     *Metrics

	dummyHash string

	// bg tracks best-effort work (session touch) started by requests.
	bg sync.WaitGroup
}

// Close waits for background work started by requests to finish.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.bg.Wait()
}

// Limiter exposes the engine's rate limiter for middleware.
func (e *Engine) Limiter() *ratelimit.Limiter {
	return e.limiter
}

// RateLimitPolicy returns the configured rate limit tiers.
func (e *Engine) RateLimitPolicy() ratelimit.Policy {
	return e.policy
}

// AuditLogger exposes the engine's audit logger for middleware.
func (e *Engine) AuditLogger() *audit.Logger {
	return e.audit
}

// AuditFailures reports how many audit writes failed since Build.
func (e *Engine) AuditFailures() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Failures()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Ping checks that the session backend answers within the store timeout.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if _, err := e.sessions.Ping(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

func (e *Engine) ready() error {
	if e == nil || e.tokens == nil || e.sessions == nil || e.identities == nil {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.Timeouts.Store)
}

// failInfra logs an infrastructure failure at error level and converts it
// to the fail-closed error. Errors that already carry a client-facing kind
// pass through unchanged.
func (e *Engine) failInfra(ctx context.Context, op string, err error) error {
	if k := Classify(err); k != KindInfrastructure {
		return err
	}
	e.metricInc(MetricInfrastructureFailure)
	e.logger.ErrorContext(ctx, "authcore: backend failure", "op", op, "error", err)
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return unavailable(err)
}

// record fills client details from ctx and writes e to the audit log.
func (e *Engine) record(ctx context.Context, entry audit.Entry) {
	if entry.IP == "" {
		entry.IP = ClientIPFromContext(ctx)
	}
	if entry.UserAgent == "" {
		entry.UserAgent = UserAgentFromContext(ctx)
	}
	e.audit.Record(ctx, entry)
}

// checkRate consumes one unit of rule for key. A backend failure denies the
// request.
func (e *Engine) checkRate(ctx context.Context, scope, key string, rule ratelimit.Rule) error {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	res, err := e.limiter.CheckAndIncrement(sctx, key, rule.Limit, rule.Window)
	if err != nil {
		return e.failInfra(ctx, "ratelimit."+scope, err)
	}
	if !res.Allowed {
		e.metricInc(MetricRateLimitHit)
		return &RateLimitError{Scope: scope, RetryAfter: res.RetryAfter}
	}
	return nil
}

type hashResult struct {
	ok   bool
	hash string
	err  error
}

// runHash runs a CPU-bound hashing call on its own goroutine and bounds the
// wait by the hash timeout. A timeout is an infrastructure failure.
func (e *Engine) runHash(ctx context.Context, fn func() hashResult) (hashResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeouts.Hash)
	defer cancel()

	done := make(chan hashResult, 1)
	go func() { done <- fn() }()

	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		return hashResult{}, unavailable(ctx.Err())
	}
}

func (e *Engine) verifyPassword(ctx context.Context, plaintext, encoded string) (bool, error) {
	res, err := e.runHash(ctx, func() hashResult {
		ok, err := e.hasher.Verify(plaintext, encoded)
		return hashResult{ok: ok, err: err}
	})
	if err != nil {
		return false, err
	}
	if errors.Is(res.err, password.ErrPasswordTooLong) {
		return false, nil
	}
	if res.err != nil {
		return false, unavailable(res.err)
	}
	return res.ok, nil
}

func (e *Engine) hashPassword(ctx context.Context, plaintext string) (string, error) {
	res, err := e.runHash(ctx, func() hashResult {
		h, err := e.hasher.Hash(plaintext)
		return hashResult{hash: h, err: err}
	})
	if err != nil {
		return "", err
	}
	if errors.Is(res.err, password.ErrPasswordTooLong) {
		return "", ErrInvalidInput
	}
	if res.err != nil {
		return "", unavailable(res.err)
	}
	return res.hash, nil
}

// loadIdentity reads an identity by id. Missing identities map to notFound
// so each caller picks its own client-visible error.
func (e *Engine) loadIdentity(ctx context.Context, id string, notFound error) (identity.Identity, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	ident, err := e.identities.GetByID(sctx, id)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return identity.Identity{}, notFound
		}
		return identity.Identity{}, e.failInfra(ctx, "identity.get", err)
	}
	return ident, nil
}

func (e *Engine) updateIdentity(ctx context.Context, ident identity.Identity) error {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	ident.UpdatedAt = e.now()
	if err := e.identities.Update(sctx, ident); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return ErrInvalidInput
		}
		return e.failInfra(ctx, "identity.update", err)
	}
	return nil
}
