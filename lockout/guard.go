// Package lockout locks identities after repeated failed logins.
//
// The failure counter and lockout expiry live on the identity record and are
// changed only through the credential store's atomic operations, so
// concurrent failures from many servers are all counted.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/identity"
)

// Config holds the lockout threshold and duration.
type Config struct {
	Threshold int
	Duration  time.Duration
}

// DefaultConfig returns 5 attempts and a 15 minute lock.
func DefaultConfig() Config {
	return Config{Threshold: 5, Duration: 15 * time.Minute}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Threshold <= 0 {
		return errors.New("lockout threshold must be > 0")
	}
	if c.Duration <= 0 {
		return errors.New("lockout duration must be > 0")
	}
	return nil
}

// Guard applies the lockout policy against an [identity.Store].
type Guard struct {
	store  identity.Store
	config Config
	now    func() time.Time
}

// New creates a [Guard]. now may be nil.
func New(store identity.Store, cfg Config, now func() time.Time) (*Guard, error) {
	if store == nil {
		return nil, errors.New("lockout guard requires an identity store")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &Guard{store: store, config: cfg, now: now}, nil
}

// RecordFailedAttempt increments the identity's failure counter and returns
// the new count.
func (g *Guard) RecordFailedAttempt(ctx context.Context, identityID string) (int, error) {
	n, err := g.store.IncrementFailedAttempts(ctx, identityID)
	if err != nil {
		return 0, fmt.Errorf("record failed attempt: %w", err)
	}
	return n, nil
}

// ShouldLock reports whether count has reached the threshold.
func (g *Guard) ShouldLock(count int) bool {
	return count >= g.config.Threshold
}

// Lock sets the lockout expiry Duration from now. The counter is kept.
func (g *Guard) Lock(ctx context.Context, identityID string) (time.Time, error) {
	until := g.now().Add(g.config.Duration).UTC()
	if err := g.store.SetLockout(ctx, identityID, until); err != nil {
		return time.Time{}, fmt.Errorf("lock identity: %w", err)
	}
	return until, nil
}

// IsLocked reports whether ident is inside a lockout period.
func (g *Guard) IsLocked(ident identity.Identity) bool {
	return ident.LockedUntil != nil && g.now().Before(*ident.LockedUntil)
}

// LockExpired reports whether ident carries a lockout that has run out.
func (g *Guard) LockExpired(ident identity.Identity) bool {
	return ident.LockedUntil != nil && !g.now().Before(*ident.LockedUntil)
}

// RecordSuccess resets the counter and clears any lockout expiry.
func (g *Guard) RecordSuccess(ctx context.Context, identityID string) error {
	if err := g.store.ResetFailedAttempts(ctx, identityID); err != nil {
		return fmt.Errorf("reset failed attempts: %w", err)
	}
	return nil
}

// RecordFailure counts one failed attempt and locks the identity once the
// threshold is reached. locked is true when this call applied the lock.
func (g *Guard) RecordFailure(ctx context.Context, identityID string) (count int, locked bool, until time.Time, err error) {
	count, err = g.RecordFailedAttempt(ctx, identityID)
	if err != nil {
		return 0, false, time.Time{}, err
	}
	if !g.ShouldLock(count) {
		return count, false, time.Time{}, nil
	}
	until, err = g.Lock(ctx, identityID)
	if err != nil {
		return count, false, time.Time{}, err
	}
	return count, true, until, nil
}

// Check is the pre-verification gate. It returns true while the identity is
// locked. A lock that has run out is cleared so the identity starts again
// from a zero count.
func (g *Guard) Check(ctx context.Context, ident identity.Identity) (bool, error) {
	if g.IsLocked(ident) {
		return true, nil
	}
	if g.LockExpired(ident) {
		if err := g.RecordSuccess(ctx, ident.ID); err != nil {
			return false, err
		}
	}
	return false, nil
}
