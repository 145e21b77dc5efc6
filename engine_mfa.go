package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/audit"
	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/ratelimit"
)

// VerifyMFA completes a login that returned MFARequired.
//
// A challenge is single use and is deleted after MFA.MaxAttempts wrong codes;
// both a missing and an exhausted challenge report ErrChallengeExpired. A
// code whose time step was already used by this identity is rejected.
func (e *Engine) VerifyMFA(ctx context.Context, challengeID, code string) (LoginResult, error) {
	if err := e.ready(); err != nil {
		return LoginResult{}, err
	}
	if !internal.ValidID(challengeID) {
		return LoginResult{}, ErrChallengeExpired
	}

	sctx, cancel := e.storeCtx(ctx)
	challenge, err := e.challenges.Get(sctx, challengeID)
	cancel()
	if err != nil {
		if errors.Is(err, stores.ErrChallengeNotFound) || errors.Is(err, stores.ErrChallengeExpired) {
			e.mfaFailed(ctx, "", ClientInfo{}, "challenge_expired")
			return LoginResult{}, ErrChallengeExpired
		}
		return LoginResult{}, e.failInfra(ctx, "mfa.challenge_get", err)
	}
	client := ClientInfo{DeviceID: challenge.DeviceID, IP: challenge.IP, UserAgent: challenge.UserAgent}

	if err := e.checkRate(ctx, "mfa", ratelimit.MFAKey(challenge.UserID), e.policy.MFA); err != nil {
		return LoginResult{}, err
	}

	ident, err := e.loadIdentity(ctx, challenge.UserID, ErrChallengeExpired)
	if err != nil {
		return LoginResult{}, err
	}
	if e.lockout.IsLocked(ident) {
		e.mfaFailed(ctx, ident.ID, client, "account_locked")
		return LoginResult{}, ErrAccountLocked
	}
	if !ident.Active() {
		e.mfaFailed(ctx, ident.ID, client, "account_inactive")
		return LoginResult{}, ErrAccountInactive
	}
	if !ident.MFAEnabled || ident.MFASecret == "" {
		e.mfaFailed(ctx, ident.ID, client, "mfa_disabled")
		return LoginResult{}, ErrChallengeExpired
	}

	if err := e.verifyTOTP(ctx, ident, code); err != nil {
		if !errors.Is(err, ErrInvalidMFA) {
			return LoginResult{}, err
		}
		sctx, cancel := e.storeCtx(ctx)
		exceeded, ferr := e.challenges.RecordFailure(sctx, challengeID, e.config.MFA.MaxAttempts)
		cancel()
		switch {
		case errors.Is(ferr, stores.ErrChallengeNotFound), errors.Is(ferr, stores.ErrChallengeExpired):
			return LoginResult{}, ErrChallengeExpired
		case ferr != nil:
			return LoginResult{}, e.failInfra(ctx, "mfa.challenge_record_failure", ferr)
		case exceeded:
			e.mfaFailed(ctx, ident.ID, client, "attempts_exceeded")
			return LoginResult{}, ErrChallengeExpired
		}
		e.mfaFailed(ctx, ident.ID, client, "invalid_code")
		return LoginResult{}, ErrInvalidMFA
	}

	sctx, cancel = e.storeCtx(ctx)
	consumed, err := e.challenges.Consume(sctx, challengeID)
	cancel()
	if err != nil {
		return LoginResult{}, e.failInfra(ctx, "mfa.challenge_consume", err)
	}
	if !consumed {
		return LoginResult{}, ErrChallengeExpired
	}

	tokens, err := e.issueSession(ctx, ident, client)
	if err != nil {
		return LoginResult{}, err
	}
	e.metricInc(MetricMFASuccess)
	e.metricInc(MetricLoginSuccess)
	e.record(ctx, audit.Entry{
		ActorID:      ident.ID,
		SessionID:    tokens.SessionID,
		Action:       audit.ActionMFAVerify,
		ResourceType: "session",
		ResourceID:   tokens.SessionID,
		Outcome:      audit.OutcomeSuccess,
		IP:           client.IP,
		UserAgent:    client.UserAgent,
	})
	return LoginResult{Tokens: tokens, User: publicUser(ident)}, nil
}

// verifyTOTP checks code against ident's secret and claims its time step.
// Wrong and replayed codes both return ErrInvalidMFA.
func (e *Engine) verifyTOTP(ctx context.Context, ident identity.Identity, code string) error {
	return e.verifyTOTPSecret(ctx, ident.ID, ident.MFASecret, code)
}

func (e *Engine) verifyTOTPSecret(ctx context.Context, userID, secret, code string) error {
	step, ok := e.totp.Match(code, secret, e.now())
	if !ok {
		e.metricInc(MetricMFAFailure)
		return ErrInvalidMFA
	}

	sctx, cancel := e.storeCtx(ctx)
	fresh, err := e.replay.Claim(sctx, userID, step, e.totp.Window())
	cancel()
	if err != nil {
		return e.failInfra(ctx, "mfa.replay_claim", err)
	}
	if !fresh {
		e.metricInc(MetricMFAReplay)
		e.metricInc(MetricMFAFailure)
		return ErrInvalidMFA
	}
	return nil
}

func (e *Engine) mfaFailed(ctx context.Context, userID string, client ClientInfo, reason string) {
	e.record(ctx, audit.Entry{
		ActorID:   userID,
		Action:    audit.ActionMFAVerify,
		Outcome:   audit.OutcomeFailure,
		IP:        client.IP,
		UserAgent: client.UserAgent,
		Detail:    map[string]any{"reason": reason},
	})
}

// BeginMFAEnrollment generates a TOTP secret for the caller and holds it
// until [Engine.ConfirmMFAEnrollment] proves the authenticator app has it.
func (e *Engine) BeginMFAEnrollment(ctx context.Context, userID string) (MFAEnrollment, error) {
	if err := e.ready(); err != nil {
		return MFAEnrollment{}, err
	}
	ident, err := e.loadIdentity(ctx, userID, ErrUnauthorized)
	if err != nil {
		return MFAEnrollment{}, err
	}
	if ident.MFAEnabled {
		return MFAEnrollment{}, ErrMFAAlreadyEnabled
	}

	secret, err := e.totp.GenerateSecret(ident.Email)
	if err != nil {
		return MFAEnrollment{}, e.failInfra(ctx, "totp.generate", err)
	}
	ttl := e.config.MFA.EnrollmentTTL
	sctx, cancel := e.storeCtx(ctx)
	err = e.enrollments.Save(sctx, ident.ID, secret.Base32, ttl)
	cancel()
	if err != nil {
		return MFAEnrollment{}, e.failInfra(ctx, "mfa.enrollment_save", err)
	}
	return MFAEnrollment{
		Secret:    secret.Base32,
		URI:       secret.URI,
		ExpiresAt: e.now().Add(ttl),
	}, nil
}

// ConfirmMFAEnrollment enables MFA once code matches the pending secret.
func (e *Engine) ConfirmMFAEnrollment(ctx context.Context, userID, code string) error {
	if err := e.ready(); err != nil {
		return err
	}
	ident, err := e.loadIdentity(ctx, userID, ErrUnauthorized)
	if err != nil {
		return err
	}
	if ident.MFAEnabled {
		return ErrMFAAlreadyEnabled
	}
	if err := e.checkRate(ctx, "mfa", ratelimit.MFAKey(ident.ID), e.policy.MFA); err != nil {
		return err
	}

	sctx, cancel := e.storeCtx(ctx)
	secret, err := e.enrollments.Get(sctx, ident.ID)
	cancel()
	if err != nil {
		if errors.Is(err, stores.ErrChallengeNotFound) {
			return ErrChallengeExpired
		}
		return e.failInfra(ctx, "mfa.enrollment_get", err)
	}
	if err := e.verifyTOTPSecret(ctx, ident.ID, secret, code); err != nil {
		e.record(ctx, audit.Entry{
			ActorID: ident.ID,
			Action:  audit.ActionMFAEnroll,
			Outcome: audit.OutcomeFailure,
		})
		return err
	}

	ident.MFASecret = secret
	ident.MFAEnabled = true
	if err := e.updateIdentity(ctx, ident); err != nil {
		return err
	}
	sctx, cancel = e.storeCtx(ctx)
	if err := e.enrollments.Delete(sctx, ident.ID); err != nil {
		e.logger.WarnContext(ctx, "authcore: pending mfa secret not deleted", "user_id", ident.ID, "error", err)
	}
	cancel()

	e.record(ctx, audit.Entry{
		ActorID:      ident.ID,
		Action:       audit.ActionMFAEnroll,
		ResourceType: "identity",
		ResourceID:   ident.ID,
		Outcome:      audit.OutcomeSuccess,
	})
	return nil
}

// DisableMFA turns MFA off after checking a current code.
func (e *Engine) DisableMFA(ctx context.Context, userID, code string) error {
	if err := e.ready(); err != nil {
		return err
	}
	ident, err := e.loadIdentity(ctx, userID, ErrUnauthorized)
	if err != nil {
		return err
	}
	if !ident.MFAEnabled {
		return ErrMFANotEnabled
	}
	if err := e.checkRate(ctx, "mfa", ratelimit.MFAKey(ident.ID), e.policy.MFA); err != nil {
		return err
	}
	if err := e.verifyTOTP(ctx, ident, code); err != nil {
		e.record(ctx, audit.Entry{
			ActorID: ident.ID,
			Action:  audit.ActionMFADisable,
			Outcome: audit.OutcomeFailure,
		})
		return err
	}

	ident.MFAEnabled = false
	ident.MFASecret = ""
	if err := e.updateIdentity(ctx, ident); err != nil {
		return err
	}
	e.record(ctx, audit.Entry{
		ActorID:      ident.ID,
		Action:       audit.ActionMFADisable,
		ResourceType: "identity",
		ResourceID:   ident.ID,
		Outcome:      audit.OutcomeSuccess,
	})
	return nil
}
