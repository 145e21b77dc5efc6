package authcore

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/authcore/audit"
	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/ratelimit"
	"github.com/MrEthical07/authcore/session"
)

// Login checks an email and password.
//
// The order of checks is fixed: rate limit per (email, IP), lookup, lockout,
// password, status. A locked account is rejected before its password is
// verified. Unknown emails run a verification against a dummy hash so
// response time does not reveal whether the account exists.
//
// If the identity has MFA enabled, no session is created; the result
// carries a challenge id for [Engine.VerifyMFA] instead.
func (e *Engine) Login(ctx context.Context, email, plaintext string, client ClientInfo) (LoginResult, error) {
	if err := e.ready(); err != nil {
		return LoginResult{}, err
	}
	email = identity.NormalizeEmail(email)
	if email == "" || plaintext == "" || !strings.Contains(email, "@") {
		return LoginResult{}, ErrInvalidInput
	}
	client = e.cleanClient(ctx, client)

	if err := e.checkRate(ctx, "login", ratelimit.LoginKey(email, client.IP), e.policy.Login); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.record(ctx, audit.Entry{
				Action:  audit.ActionRateLimited,
				Outcome: audit.OutcomeDenied,
				IP:      client.IP,
				Detail:  map[string]any{"scope": "login", "email": email},
			})
		}
		return LoginResult{}, err
	}

	sctx, cancel := e.storeCtx(ctx)
	ident, err := e.identities.GetByEmail(sctx, email)
	cancel()
	if err != nil {
		if !errors.Is(err, identity.ErrNotFound) {
			return LoginResult{}, e.failInfra(ctx, "identity.get_by_email", err)
		}
		// Equalise timing with the known-email path.
		if _, verr := e.verifyPassword(ctx, plaintext, e.dummyHash); verr != nil {
			return LoginResult{}, verr
		}
		e.loginFailed(ctx, "", client, "unknown_email", nil)
		return LoginResult{}, ErrInvalidCredentials
	}

	sctx, cancel = e.storeCtx(ctx)
	locked, err := e.lockout.Check(sctx, ident)
	cancel()
	if err != nil {
		return LoginResult{}, e.failInfra(ctx, "lockout.check", err)
	}
	if locked {
		e.metricInc(MetricLoginLocked)
		e.loginFailed(ctx, ident.ID, client, "account_locked", nil)
		return LoginResult{}, ErrAccountLocked
	}

	ok, err := e.verifyPassword(ctx, plaintext, ident.PasswordHash)
	if err != nil {
		return LoginResult{}, e.failInfra(ctx, "password.verify", err)
	}
	if !ok {
		return LoginResult{}, e.passwordMismatch(ctx, ident, client)
	}

	if !ident.Active() {
		e.loginFailed(ctx, ident.ID, client, "account_inactive", map[string]any{"status": ident.Status.String()})
		return LoginResult{}, ErrAccountInactive
	}

	if ident.FailedAttempts > 0 || ident.LockedUntil != nil {
		sctx, cancel = e.storeCtx(ctx)
		if err := e.lockout.RecordSuccess(sctx, ident.ID); err != nil {
			e.logger.WarnContext(ctx, "authcore: failed to reset login attempts", "user_id", ident.ID, "error", err)
		}
		cancel()
	}
	e.upgradeHash(ctx, ident, plaintext)

	if ident.MFAEnabled {
		return e.startMFAChallenge(ctx, ident, client)
	}

	tokens, err := e.issueSession(ctx, ident, client)
	if err != nil {
		return LoginResult{}, err
	}
	e.metricInc(MetricLoginSuccess)
	e.record(ctx, audit.Entry{
		ActorID:      ident.ID,
		SessionID:    tokens.SessionID,
		Action:       audit.ActionLogin,
		ResourceType: "session",
		ResourceID:   tokens.SessionID,
		Outcome:      audit.OutcomeSuccess,
		IP:           client.IP,
		UserAgent:    client.UserAgent,
		Detail:       map[string]any{"device_id": client.DeviceID},
	})
	return LoginResult{Tokens: tokens, User: publicUser(ident)}, nil
}

// passwordMismatch counts the failure against the identity and locks it
// once the threshold is reached. A store failure here fails the login
// closed rather than skipping the count.
func (e *Engine) passwordMismatch(ctx context.Context, ident identity.Identity, client ClientInfo) error {
	sctx, cancel := e.storeCtx(ctx)
	count, locked, until, err := e.lockout.RecordFailure(sctx, ident.ID)
	cancel()
	if err != nil {
		return e.failInfra(ctx, "lockout.record_failure", err)
	}

	e.loginFailed(ctx, ident.ID, client, "bad_password", map[string]any{"attempts": count})
	if locked {
		e.metricInc(MetricAccountLocked)
		e.record(ctx, audit.Entry{
			ActorID:      ident.ID,
			Action:       audit.ActionAccountLocked,
			ResourceType: "identity",
			ResourceID:   ident.ID,
			Outcome:      audit.OutcomeSuccess,
			Suspicious:   true,
			IP:           client.IP,
			UserAgent:    client.UserAgent,
			Detail:       map[string]any{"attempts": count, "locked_until": until},
		})
	}
	return ErrInvalidCredentials
}

func (e *Engine) loginFailed(ctx context.Context, userID string, client ClientInfo, reason string, detail map[string]any) {
	e.metricInc(MetricLoginFailure)
	if detail == nil {
		detail = make(map[string]any, 1)
	}
	detail["reason"] = reason
	e.record(ctx, audit.Entry{
		ActorID:   userID,
		Action:    audit.ActionLogin,
		Outcome:   audit.OutcomeFailure,
		IP:        client.IP,
		UserAgent: client.UserAgent,
		Detail:    detail,
	})
}

// upgradeHash rehashes a password stored with outdated parameters. Failures
// are logged and never fail the login.
func (e *Engine) upgradeHash(ctx context.Context, ident identity.Identity, plaintext string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.hasher.NeedsUpgrade(ident.PasswordHash)
	if err != nil || !needs {
		return
	}
	upgraded, err := e.hashPassword(ctx, plaintext)
	if err != nil {
		e.logger.WarnContext(ctx, "authcore: password rehash failed", "user_id", ident.ID, "error", err)
		return
	}
	ident.PasswordHash = upgraded
	if err := e.updateIdentity(ctx, ident); err != nil {
		e.logger.WarnContext(ctx, "authcore: password hash upgrade not saved", "user_id", ident.ID, "error", err)
	}
}

func (e *Engine) startMFAChallenge(ctx context.Context, ident identity.Identity, client ClientInfo) (LoginResult, error) {
	challengeID, err := internal.NewID()
	if err != nil {
		return LoginResult{}, e.failInfra(ctx, "mfa.challenge_id", err)
	}
	record := &stores.MFAChallenge{
		UserID:    ident.ID,
		DeviceID:  client.DeviceID,
		IP:        client.IP,
		UserAgent: client.UserAgent,
		ExpiresAt: e.now().Add(e.config.MFA.ChallengeTTL).UnixMilli(),
	}

	sctx, cancel := e.storeCtx(ctx)
	err = e.challenges.Save(sctx, challengeID, record)
	cancel()
	if err != nil {
		return LoginResult{}, e.failInfra(ctx, "mfa.challenge_save", err)
	}

	e.metricInc(MetricMFARequired)
	e.record(ctx, audit.Entry{
		ActorID:   ident.ID,
		Action:    audit.ActionLoginMFARequired,
		Outcome:   audit.OutcomeSuccess,
		IP:        client.IP,
		UserAgent: client.UserAgent,
	})
	return LoginResult{
		User:         publicUser(ident),
		MFARequired:  true,
		MFAChallenge: challengeID,
	}, nil
}

// issueSession creates a session for ident and signs its first token pair.
// The session expires with its first refresh token; later rotations never
// extend it.
func (e *Engine) issueSession(ctx context.Context, ident identity.Identity, client ClientInfo) (Tokens, error) {
	sid, err := internal.NewID()
	if err != nil {
		return Tokens{}, e.failInfra(ctx, "session.id", err)
	}
	refreshToken, refresh, err := e.tokens.IssueRefresh(sid)
	if err != nil {
		return Tokens{}, e.failInfra(ctx, "jwt.issue_refresh", err)
	}

	now := e.now()
	sess := session.Session{
		ID:           sid,
		UserID:       ident.ID,
		DeviceID:     client.DeviceID,
		IP:           client.IP,
		UserAgent:    client.UserAgent,
		IssuedAt:     now,
		ExpiresAt:    refresh.ExpiresAt,
		LastActivity: now,
		State:        session.StateActive,
		RefreshHash:  session.HashTokenID(refresh.TokenID),
	}
	sctx, cancel := e.storeCtx(ctx)
	err = e.sessions.Create(sctx, sess)
	cancel()
	if err != nil {
		return Tokens{}, e.failInfra(ctx, "session.create", err)
	}

	accessToken, access, err := e.issueAccess(ident, sid, client.DeviceID)
	if err != nil {
		// Do not leave a session nobody holds tokens for.
		rctx, rcancel := e.storeCtx(context.WithoutCancel(ctx))
		if rerr := e.sessions.Revoke(rctx, sid); rerr != nil {
			e.logger.WarnContext(ctx, "authcore: orphan session not revoked", "session_id", sid, "error", rerr)
		}
		rcancel()
		return Tokens{}, e.failInfra(ctx, "jwt.issue_access", err)
	}

	e.metricInc(MetricSessionCreated)
	return Tokens{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		SessionID:        sid,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

// issueAccess signs an access token carrying ident's current effective
// permissions.
func (e *Engine) issueAccess(ident identity.Identity, sessionID, deviceID string) (string, jwt.Access, error) {
	return e.tokens.IssueAccess(jwt.Access{
		UserID:      ident.ID,
		Email:       ident.Email,
		Name:        ident.Name,
		Role:        ident.Role,
		Permissions: ident.EffectivePermissions(),
		SessionID:   sessionID,
		DeviceID:    deviceID,
	})
}

func (e *Engine) cleanClient(ctx context.Context, client ClientInfo) ClientInfo {
	client = clientInfoFromContext(ctx, client)
	client.DeviceID = internal.ClientValue(client.DeviceID, e.config.Session.MaxDeviceIDBytes)
	client.UserAgent = internal.ClientValue(client.UserAgent, e.config.Session.MaxUserAgentBytes)
	client.IP = internal.ClientValue(client.IP, 64)
	return client
}
