package authcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/audit"
	"github.com/MrEthical07/authcore/permission"
)

// enableMFA gives the identity a fresh TOTP secret and returns it.
func (h *testHarness) enableMFA(t *testing.T, id string) string {
	t.Helper()
	ctx := context.Background()
	ident, err := h.store.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	secret, err := h.engine.totp.GenerateSecret(ident.Email)
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	ident.MFASecret = secret.Base32
	ident.MFAEnabled = true
	if err := h.store.Update(ctx, ident); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	return secret.Base32
}

func (h *testHarness) code(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	c, err := h.engine.totp.Code(secret, at)
	if err != nil {
		t.Fatalf("Code failed: %v", err)
	}
	return c
}

func (h *testHarness) challenge(t *testing.T, email string) string {
	t.Helper()
	res, err := h.engine.Login(context.Background(), email, testPassword, ClientInfo{DeviceID: "laptop", IP: "198.51.100.9"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !res.MFARequired || res.MFAChallenge == "" || res.Tokens.AccessToken != "" {
		t.Fatalf("expected an MFA challenge without tokens, got %+v", res)
	}
	return res.MFAChallenge
}

func TestVerifyMFACompletesLogin(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "u-1", "mfa@example.com", permission.RoleUser, permission.Overrides{})
	secret := h.enableMFA(t, "u-1")

	challenge := h.challenge(t, "mfa@example.com")
	res, err := h.engine.VerifyMFA(context.Background(), challenge, h.code(t, secret, h.clock.Now()))
	if err != nil {
		t.Fatalf("VerifyMFA failed: %v", err)
	}
	if res.Tokens.AccessToken == "" || res.User.ID != "u-1" {
		t.Fatalf("expected tokens, got %+v", res)
	}

	sessions, _ := h.engine.ListSessions(context.Background(), "u-1")
	if len(sessions) != 1 || sessions[0].DeviceID != "laptop" || sessions[0].IP != "198.51.100.9" {
		t.Fatalf("session must carry the device that started the login, got %+v", sessions)
	}

	// Challenges are single use.
	h.clock.Advance(30 * time.Second)
	_, err = h.engine.VerifyMFA(context.Background(), challenge, h.code(t, secret, h.clock.Now()))
	if !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired on reuse, got %v", err)
	}
}

func TestVerifyMFAClockDrift(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "u-1", "mfa@example.com", permission.RoleUser, permission.Overrides{})
	secret := h.enableMFA(t, "u-1")
	now := h.clock.Now()

	challenge := h.challenge(t, "mfa@example.com")
	_, err := h.engine.VerifyMFA(context.Background(), challenge, h.code(t, secret, now.Add(-90*time.Second)))
	if !errors.Is(err, ErrInvalidMFA) {
		t.Fatalf("code from T-3 must be rejected, got %v", err)
	}

	if _, err := h.engine.VerifyMFA(context.Background(), challenge, h.code(t, secret, now.Add(-30*time.Second))); err != nil {
		t.Fatalf("code from T-1 must be accepted, got %v", err)
	}
}

func TestVerifyMFARejectsReplayedStep(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "u-1", "mfa@example.com", permission.RoleUser, permission.Overrides{})
	secret := h.enableMFA(t, "u-1")
	code := h.code(t, secret, h.clock.Now())

	if _, err := h.engine.VerifyMFA(context.Background(), h.challenge(t, "mfa@example.com"), code); err != nil {
		t.Fatalf("first VerifyMFA failed: %v", err)
	}
	_, err := h.engine.VerifyMFA(context.Background(), h.challenge(t, "mfa@example.com"), code)
	if !errors.Is(err, ErrInvalidMFA) {
		t.Fatalf("expected replayed code to fail with ErrInvalidMFA, got %v", err)
	}
	if h.engine.MetricsSnapshot().Counters[MetricMFAReplay] != 1 {
		t.Fatal("expected replay metric")
	}
}

func TestVerifyMFAAttemptCap(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MFA.MaxAttempts = 3 })
	h.seed(t, "u-1", "mfa@example.com", permission.RoleUser, permission.Overrides{})
	secret := h.enableMFA(t, "u-1")
	challenge := h.challenge(t, "mfa@example.com")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := h.engine.VerifyMFA(ctx, challenge, "000000x"); !errors.Is(err, ErrInvalidMFA) {
			t.Fatalf("attempt %d: expected ErrInvalidMFA, got %v", i+1, err)
		}
	}
	if _, err := h.engine.VerifyMFA(ctx, challenge, "abcdef"); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected the challenge to be dropped at the cap, got %v", err)
	}
	if _, err := h.engine.VerifyMFA(ctx, challenge, h.code(t, secret, h.clock.Now())); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired after the cap, got %v", err)
	}
}

func TestVerifyMFAChallengeExpiry(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "u-1", "mfa@example.com", permission.RoleUser, permission.Overrides{})
	secret := h.enableMFA(t, "u-1")
	challenge := h.challenge(t, "mfa@example.com")

	h.clock.Advance(5*time.Minute + time.Second)
	_, err := h.engine.VerifyMFA(context.Background(), challenge, h.code(t, secret, h.clock.Now()))
	if !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}

	if _, err := h.engine.VerifyMFA(context.Background(), "not-a-challenge", "123456"); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired for a malformed id, got %v", err)
	}
}

func TestVerifyMFAConcurrentSingleSession(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "u-1", "mfa@example.com", permission.RoleUser, permission.Overrides{})
	secret := h.enableMFA(t, "u-1")
	challenge := h.challenge(t, "mfa@example.com")
	code := h.code(t, secret, h.clock.Now())

	const n = 4
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.VerifyMFA(context.Background(), challenge, code)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		if err == nil {
			success++
			continue
		}
		if Classify(err) != KindAuthentication {
			t.Fatalf("unexpected error kind: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one session, got %d", success)
	}
}

func TestMFAEnrollment(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "u-1", "enroll@example.com", permission.RoleUser, permission.Overrides{})
	ctx := context.Background()

	enrollment, err := h.engine.BeginMFAEnrollment(ctx, "u-1")
	if err != nil {
		t.Fatalf("BeginMFAEnrollment failed: %v", err)
	}
	if enrollment.Secret == "" || enrollment.URI == "" {
		t.Fatalf("incomplete enrollment %+v", enrollment)
	}

	if err := h.engine.ConfirmMFAEnrollment(ctx, "u-1", "12345"); !errors.Is(err, ErrInvalidMFA) {
		t.Fatalf("expected ErrInvalidMFA for a malformed code, got %v", err)
	}
	if err := h.engine.ConfirmMFAEnrollment(ctx, "u-1", h.code(t, enrollment.Secret, h.clock.Now())); err != nil {
		t.Fatalf("ConfirmMFAEnrollment failed: %v", err)
	}
	ident, _ := h.store.GetByID(ctx, "u-1")
	if !ident.MFAEnabled || ident.MFASecret != enrollment.Secret {
		t.Fatal("expected MFA enabled with the enrolled secret")
	}
	if _, err := h.engine.BeginMFAEnrollment(ctx, "u-1"); !errors.Is(err, ErrMFAAlreadyEnabled) {
		t.Fatalf("expected ErrMFAAlreadyEnabled, got %v", err)
	}

	h.challenge(t, "enroll@example.com")

	h.clock.Advance(30 * time.Second)
	if err := h.engine.DisableMFA(ctx, "u-1", h.code(t, enrollment.Secret, h.clock.Now())); err != nil {
		t.Fatalf("DisableMFA failed: %v", err)
	}
	h.login(t, "enroll@example.com")

	if len(h.audit.find(audit.ActionMFAEnroll, audit.OutcomeSuccess)) != 1 || len(h.audit.find(audit.ActionMFADisable, audit.OutcomeSuccess)) != 1 {
		t.Fatal("expected enroll and disable audit entries")
	}
}
