package authcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/audit"
	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/permission"
)

func TestRefreshRotatesSingleUse(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "u-1", "user@example.com", permission.RoleUser, permission.Overrides{})
	first := h.login(t, "user@example.com")
	ctx := context.Background()

	h.clock.Advance(time.Minute)
	second, err := h.engine.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if second.SessionID != first.SessionID || second.RefreshToken == first.RefreshToken || second.AccessToken == "" {
		t.Fatalf("unexpected rotation result %+v", second)
	}
	if !second.RefreshExpiresAt.Equal(first.RefreshExpiresAt) {
		t.Fatalf("rotation must not extend the session: %v vs %v", second.RefreshExpiresAt, first.RefreshExpiresAt)
	}
	if _, err := h.engine.AuthorizeRequest(ctx, second.AccessToken, Requirement{}); err != nil {
		t.Fatalf("rotated access token rejected: %v", err)
	}

	_, err = h.engine.Refresh(ctx, first.RefreshToken)
	if !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected ErrRefreshReuse for the original token, got %v", err)
	}

	// Reuse revokes the whole session, including the legitimate holder.
	if _, err := h.engine.Refresh(ctx, second.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked after reuse, got %v", err)
	}
	if _, err := h.engine.AuthorizeRequest(ctx, second.AccessToken, Requirement{}); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected access token of a revoked session to fail, got %v", err)
	}

	reuse := h.audit.find(audit.ActionRefreshReuse, audit.OutcomeDenied)
	if len(reuse) != 1 || !reuse[0].Suspicious || reuse[0].ActorID != "u-1" {
		t.Fatalf("expected one suspicious reuse entry, got %+v", reuse)
	}
	if h.engine.MetricsSnapshot().Counters[MetricRefreshReuseDetected] != 1 {
		t.Fatal("expected reuse metric")
	}
}

func TestRefreshConcurrentSingleWinner(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "u-1", "user@example.com", permission.RoleUser, permission.Overrides{})
	tokens := h.login(t, "user@example.com")

	const n = 16
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.Refresh(context.Background(), tokens.RefreshToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	success, failed := 0, 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrRefreshReuse), errors.Is(err, ErrSessionRevoked):
			failed++
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	if success != 1 || failed != n-1 {
		t.Fatalf("expected 1 success and %d failures, got %d / %d", n-1, success, failed)
	}
}

func TestRefreshPicksUpRoleChanges(t *testing.T) {
	h := newHarness(t)
	ident := h.seed(t, "u-1", "user@example.com", permission.RoleUser, permission.Overrides{})
	tokens := h.login(t, "user@example.com")
	ctx := context.Background()
	need := Requirement{Permissions: permission.NewSet(permission.ListingModerate)}

	if _, err := h.engine.AuthorizeRequest(ctx, tokens.AccessToken, need); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden before promotion, got %v", err)
	}

	ident.Role = permission.RoleModerator
	if err := h.store.Update(ctx, ident); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	// The old access token keeps its snapshot until it is replaced.
	if _, err := h.engine.AuthorizeRequest(ctx, tokens.AccessToken, need); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected the old snapshot to still deny, got %v", err)
	}

	next, err := h.engine.Refresh(ctx, tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	claims, err := h.engine.AuthorizeRequest(ctx, next.AccessToken, need)
	if err != nil {
		t.Fatalf("expected promotion to apply after refresh, got %v", err)
	}
	if claims.Role != permission.RoleModerator {
		t.Fatalf("unexpected role %v", claims.Role)
	}
}

func TestRefreshRejectsInactiveIdentity(t *testing.T) {
	h := newHarness(t)
	ident := h.seed(t, "u-1", "user@example.com", permission.RoleUser, permission.Overrides{})
	tokens := h.login(t, "user@example.com")
	ctx := context.Background()

	ident.Status = identity.StatusBanned
	if err := h.store.Update(ctx, ident); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if _, err := h.engine.Refresh(ctx, tokens.RefreshToken); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
	if _, err := h.engine.AuthorizeRequest(ctx, tokens.AccessToken, Requirement{}); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected the session to be revoked, got %v", err)
	}
}

func TestRefreshTokenErrors(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "u-1", "user@example.com", permission.RoleUser, permission.Overrides{})
	tokens := h.login(t, "user@example.com")
	ctx := context.Background()

	if _, err := h.engine.Refresh(ctx, "garbage"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := h.engine.Refresh(ctx, tokens.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("an access token must not refresh, got %v", err)
	}

	h.clock.Advance(25 * time.Hour)
	if _, err := h.engine.Refresh(ctx, tokens.RefreshToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestRefreshRetryAfterStoreOutage(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "u-1", "user@example.com", permission.RoleUser, permission.Overrides{})
	tokens := h.login(t, "user@example.com")
	ctx := context.Background()

	h.store.Break()
	if _, err := h.engine.Refresh(ctx, tokens.RefreshToken); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable while the store is down, got %v", err)
	}

	// The failed attempt must not have consumed the refresh token.
	h.store.Repair()
	next, err := h.engine.Refresh(ctx, tokens.RefreshToken)
	if err != nil {
		t.Fatalf("retry after outage failed: %v", err)
	}
	if next.SessionID != tokens.SessionID {
		t.Fatalf("unexpected session %q", next.SessionID)
	}
	if _, err := h.engine.AuthorizeRequest(ctx, next.AccessToken, Requirement{}); err != nil {
		t.Fatalf("session should still be live: %v", err)
	}
	if got := h.audit.find(audit.ActionRefreshReuse, audit.OutcomeDenied); len(got) != 0 {
		t.Fatalf("retry must not be treated as reuse: %+v", got)
	}
	if h.engine.MetricsSnapshot().Counters[MetricRefreshReuseDetected] != 0 {
		t.Fatal("unexpected reuse metric")
	}
}

func TestRefreshAuditsRejectedTokens(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "u-1", "user@example.com", permission.RoleUser, permission.Overrides{})
	tokens := h.login(t, "user@example.com")
	ctx := context.Background()

	if _, err := h.engine.Refresh(ctx, "garbage"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	h.clock.Advance(25 * time.Hour)
	if _, err := h.engine.Refresh(ctx, tokens.RefreshToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	entries := h.audit.find(audit.ActionTokenRejected, audit.OutcomeDenied)
	if len(entries) != 2 {
		t.Fatalf("expected two rejection entries, got %+v", entries)
	}
	for _, e := range entries {
		if e.ResourceType != "refresh_token" {
			t.Fatalf("unexpected resource type %q", e.ResourceType)
		}
	}
	if entries[0].Detail["reason"] != "malformed" || entries[1].Detail["reason"] != "expired" {
		t.Fatalf("unexpected reasons %v / %v", entries[0].Detail["reason"], entries[1].Detail["reason"])
	}
}

func TestRefreshAfterLogout(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "u-1", "user@example.com", permission.RoleUser, permission.Overrides{})
	tokens := h.login(t, "user@example.com")
	ctx := context.Background()

	if err := h.engine.Logout(ctx, tokens.SessionID); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := h.engine.Refresh(ctx, tokens.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
}

func TestRefreshRateLimitedPerSession(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.RateLimit.RefreshLimit = 2 })
	h.seed(t, "u-1", "user@example.com", permission.RoleUser, permission.Overrides{})
	tokens := h.login(t, "user@example.com")
	ctx := context.Background()

	current := tokens.RefreshToken
	for i := 0; i < 2; i++ {
		next, err := h.engine.Refresh(ctx, current)
		if err != nil {
			t.Fatalf("refresh %d failed: %v", i+1, err)
		}
		current = next.RefreshToken
	}
	_, err := h.engine.Refresh(ctx, current)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if h.engine.MetricsSnapshot().Counters[MetricRefreshRateLimited] != 1 {
		t.Fatal("expected refresh rate limit metric")
	}
}
