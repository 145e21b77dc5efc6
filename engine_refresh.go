package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/audit"
	"github.com/MrEthical07/authcore/ratelimit"
	"github.com/MrEthical07/authcore/session"
)

// Refresh exchanges a refresh token for a new access and refresh token.
//
// Each refresh token is single use. The swap is a conditional write on the
// session: of two concurrent calls with the same token exactly one
// succeeds. Presenting a token that was already rotated revokes the whole
// session and returns ErrRefreshReuse.
//
// Permissions in the new access token are re-read from the credential store,
// so role and override changes take effect here.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	if err := e.ready(); err != nil {
		return Tokens{}, err
	}

	presented, err := e.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		kind := tokenRejectKind(err)
		e.logger.InfoContext(ctx, "authcore: refresh token rejected", "kind", kind, "error", err)
		e.record(ctx, audit.Entry{
			Action:       audit.ActionTokenRejected,
			ResourceType: "refresh_token",
			Outcome:      audit.OutcomeDenied,
			Detail:       map[string]any{"reason": kind},
		})
		if kind == "expired" {
			return Tokens{}, ErrTokenExpired
		}
		return Tokens{}, ErrUnauthorized
	}
	sid := presented.SessionID

	if err := e.checkRate(ctx, "refresh", ratelimit.RefreshKey(sid), e.policy.Refresh); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.metricInc(MetricRefreshRateLimited)
		}
		return Tokens{}, err
	}

	// Everything that can fail for infrastructure reasons runs before the
	// swap. Once the new hash is committed the only remaining step is
	// returning tokens that are already signed.
	sctx, cancel := e.storeCtx(ctx)
	sess, err := e.sessions.Get(sctx, sid)
	cancel()
	if err == nil && sess.State == session.StateRevoked {
		err = session.ErrRevoked
	}
	if err != nil {
		return Tokens{}, e.rotateFailed(ctx, sid, session.Rotation{UserID: sess.UserID, DeviceID: sess.DeviceID}, err)
	}

	ident, err := e.loadIdentity(ctx, sess.UserID, ErrSessionRevoked)
	if err == nil && !ident.Active() {
		err = ErrAccountInactive
	}
	if err != nil {
		if Classify(err) == KindAuthentication {
			e.revokeQuietly(ctx, sid)
			e.metricInc(MetricRefreshFailure)
			e.record(ctx, audit.Entry{
				ActorID:      sess.UserID,
				SessionID:    sid,
				Action:       audit.ActionRefresh,
				ResourceType: "session",
				ResourceID:   sid,
				Outcome:      audit.OutcomeDenied,
				Detail:       map[string]any{"reason": refreshDenyReason(err)},
			})
		}
		return Tokens{}, err
	}

	nextToken, next, err := e.tokens.IssueRefresh(sid)
	if err != nil {
		return Tokens{}, e.failInfra(ctx, "jwt.issue_refresh", err)
	}
	accessToken, access, err := e.issueAccess(ident, sid, sess.DeviceID)
	if err != nil {
		return Tokens{}, e.failInfra(ctx, "jwt.issue_access", err)
	}

	sctx, cancel = e.storeCtx(ctx)
	rot, err := e.sessions.RotateRefresh(sctx, sid,
		session.HashTokenID(presented.TokenID),
		session.HashTokenID(next.TokenID),
	)
	cancel()
	if err != nil {
		return Tokens{}, e.rotateFailed(ctx, sid, rot, err)
	}
	if rot.UserID != ident.ID {
		e.revokeQuietly(ctx, sid)
		return Tokens{}, ErrSessionRevoked
	}

	refreshExp := next.ExpiresAt
	if !rot.ExpiresAt.IsZero() && rot.ExpiresAt.Before(refreshExp) {
		refreshExp = rot.ExpiresAt
	}

	e.metricInc(MetricRefreshSuccess)
	e.record(ctx, audit.Entry{
		ActorID:      ident.ID,
		SessionID:    sid,
		Action:       audit.ActionRefresh,
		ResourceType: "session",
		ResourceID:   sid,
		Outcome:      audit.OutcomeSuccess,
	})
	return Tokens{
		AccessToken:      accessToken,
		RefreshToken:     nextToken,
		SessionID:        sid,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (e *Engine) rotateFailed(ctx context.Context, sid string, rot session.Rotation, err error) error {
	e.metricInc(MetricRefreshFailure)
	switch {
	case errors.Is(err, session.ErrRefreshReuse):
		e.metricInc(MetricRefreshReuseDetected)
		e.logger.WarnContext(ctx, "authcore: refresh token reuse, session revoked",
			"session_id", sid, "user_id", rot.UserID)
		e.record(ctx, audit.Entry{
			ActorID:      rot.UserID,
			SessionID:    sid,
			Action:       audit.ActionRefreshReuse,
			ResourceType: "session",
			ResourceID:   sid,
			Outcome:      audit.OutcomeDenied,
			Suspicious:   true,
			Detail:       map[string]any{"device_id": rot.DeviceID},
		})
		return ErrRefreshReuse
	case errors.Is(err, session.ErrRevoked), errors.Is(err, session.ErrNotFound):
		e.record(ctx, audit.Entry{
			ActorID:   rot.UserID,
			SessionID: sid,
			Action:    audit.ActionRefresh,
			Outcome:   audit.OutcomeFailure,
			Detail:    map[string]any{"reason": "session_revoked"},
		})
		return ErrSessionRevoked
	case errors.Is(err, session.ErrExpired):
		return ErrTokenExpired
	default:
		return e.failInfra(ctx, "session.rotate", err)
	}
}

// revokeQuietly revokes sid on a context detached from the caller so a
// security-driven revocation is not lost to a client disconnect.
func (e *Engine) revokeQuietly(ctx context.Context, sid string) {
	rctx, cancel := e.storeCtx(context.WithoutCancel(ctx))
	defer cancel()
	if err := e.sessions.Revoke(rctx, sid); err != nil {
		e.logger.ErrorContext(ctx, "authcore: session revoke failed", "session_id", sid, "error", err)
	}
}

func refreshDenyReason(err error) string {
	if errors.Is(err, ErrAccountInactive) {
		return "account_inactive"
	}
	return "identity_missing"
}
