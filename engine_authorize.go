package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/audit"
	"github.com/MrEthical07/authcore/authz"
	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/jwt"
)

// AuthorizeRequest is the single entry point every protected endpoint calls
// before running business logic.
//
// The token is verified cryptographically, then its session is checked for
// revocation in the session store on every call, then req is evaluated
// against the permission snapshot embedded in the token. A session store
// failure denies the request.
func (e *Engine) AuthorizeRequest(ctx context.Context, accessToken string, req Requirement) (Claims, error) {
	if err := e.ready(); err != nil {
		return Claims{}, err
	}
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.Observe(MetricValidateLatency, time.Since(start))
		}
	}()

	access, err := e.tokens.VerifyAccess(accessToken)
	if err != nil {
		e.metricInc(MetricAuthorizeUnauthenticated)
		kind := tokenRejectKind(err)
		e.logger.DebugContext(ctx, "authcore: access token rejected", "kind", kind, "error", err)
		e.record(ctx, audit.Entry{
			Action:       audit.ActionTokenRejected,
			ResourceType: "access_token",
			Outcome:      audit.OutcomeDenied,
			Detail:       map[string]any{"reason": kind},
		})
		if kind == "expired" {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrUnauthorized
	}
	claims := claimsFromAccess(access)

	sctx, cancel := e.storeCtx(ctx)
	revoked, err := e.sessions.IsRevoked(sctx, claims.SessionID)
	cancel()
	if err != nil {
		return Claims{}, e.failInfra(ctx, "session.is_revoked", err)
	}
	if revoked {
		e.metricInc(MetricSessionRevokedRejected)
		e.record(ctx, audit.Entry{
			ActorID:      claims.UserID,
			SessionID:    claims.SessionID,
			Action:       audit.ActionTokenRejected,
			ResourceType: "access_token",
			Outcome:      audit.OutcomeDenied,
			Detail:       map[string]any{"reason": "session_revoked"},
		})
		return Claims{}, ErrSessionRevoked
	}

	if d := evaluate(claims, req); !d.Allowed {
		e.metricInc(MetricAuthorizeForbidden)
		ferr := &ForbiddenError{Reason: d.Reason, Missing: d.Missing}
		e.record(ctx, audit.Entry{
			ActorID:      claims.UserID,
			SessionID:    claims.SessionID,
			Action:       audit.ActionAuthorize,
			ResourceType: "permission",
			ResourceID:   req.ResourceOwnerID,
			Outcome:      audit.OutcomeDenied,
			Detail:       decisionDetail(req, d),
		})
		return Claims{}, ferr
	}

	e.metricInc(MetricAuthorizeAllowed)
	if e.config.Audit.RecordAllowed {
		e.record(ctx, audit.Entry{
			ActorID:      claims.UserID,
			SessionID:    claims.SessionID,
			Action:       audit.ActionAuthorize,
			ResourceType: "permission",
			ResourceID:   req.ResourceOwnerID,
			Outcome:      audit.OutcomeSuccess,
			Detail:       decisionDetail(req, authz.Decision{Allowed: true}),
		})
	}
	e.touch(ctx, claims.SessionID)
	return claims, nil
}

// tokenRejectKind names why a token failed verification. The name goes to
// the audit log; clients only ever see the generic message.
func tokenRejectKind(err error) string {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return "expired"
	case errors.Is(err, jwt.ErrBadSignature):
		return "bad_signature"
	default:
		return "malformed"
	}
}

// evaluate applies the permission check, then the minimum role, then the
// ownership gate. The first denial wins.
func evaluate(c Claims, req Requirement) authz.Decision {
	sub := c.subject()
	if d := authz.Authorize(sub, req.Permissions); !d.Allowed {
		return d
	}
	if req.MinRole != 0 && !authz.HasRole(sub, req.MinRole) {
		return authz.Decision{Reason: "insufficient_role"}
	}
	if req.ResourceOwnerID != "" {
		if d := authz.AuthorizeOwnership(sub, req.ResourceOwnerID); !d.Allowed {
			return d
		}
	}
	return authz.Decision{Allowed: true}
}

func decisionDetail(req Requirement, d authz.Decision) map[string]any {
	detail := map[string]any{"required": req.Permissions.Names()}
	if req.MinRole != 0 {
		detail["min_role"] = req.MinRole.String()
	}
	if d.Reason != "" {
		detail["reason"] = d.Reason
	}
	if len(d.Missing) > 0 {
		names := make([]string, len(d.Missing))
		for i, p := range d.Missing {
			names[i] = p.String()
		}
		detail["missing"] = names
	}
	return detail
}

func claimsFromAccess(a jwt.Access) Claims {
	return Claims{
		UserID:      a.UserID,
		Email:       a.Email,
		Name:        a.Name,
		Role:        a.Role,
		Permissions: a.Permissions,
		SessionID:   a.SessionID,
		DeviceID:    a.DeviceID,
		IssuedAt:    a.IssuedAt,
		ExpiresAt:   a.ExpiresAt,
	}
}

// touch updates the session's last activity in the background. It never
// affects the request.
func (e *Engine) touch(ctx context.Context, sessionID string) {
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		tctx, cancel := e.storeCtx(context.WithoutCancel(ctx))
		defer cancel()
		if err := e.sessions.Touch(tctx, sessionID); err != nil {
			e.logger.WarnContext(tctx, "authcore: session touch failed", "session_id", sessionID, "error", err)
		}
	}()
}

// Logout revokes one session. Revoking an unknown or already revoked
// session succeeds.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !internal.ValidID(sessionID) {
		return ErrInvalidInput
	}

	sctx, cancel := e.storeCtx(ctx)
	err := e.sessions.Revoke(sctx, sessionID)
	cancel()
	if err != nil {
		return e.failInfra(ctx, "session.revoke", err)
	}

	e.metricInc(MetricLogout)
	actor := ""
	if c, ok := ClaimsFromContext(ctx); ok {
		actor = c.UserID
	}
	e.record(ctx, audit.Entry{
		ActorID:      actor,
		SessionID:    sessionID,
		Action:       audit.ActionLogout,
		ResourceType: "session",
		ResourceID:   sessionID,
		Outcome:      audit.OutcomeSuccess,
	})
	return nil
}

// LogoutAll revokes every session of userID and returns how many were live.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if userID == "" {
		return 0, ErrInvalidInput
	}
	n, err := e.revokeAll(ctx, userID)
	if err != nil {
		return 0, err
	}

	e.metricInc(MetricLogoutAll)
	actor := userID
	if c, ok := ClaimsFromContext(ctx); ok {
		actor = c.UserID
	}
	e.record(ctx, audit.Entry{
		ActorID:      actor,
		Action:       audit.ActionLogoutAll,
		ResourceType: "identity",
		ResourceID:   userID,
		Outcome:      audit.OutcomeSuccess,
		Detail:       map[string]any{"revoked": n},
	})
	return n, nil
}

func (e *Engine) revokeAll(ctx context.Context, userID string) (int, error) {
	sctx, cancel := e.storeCtx(context.WithoutCancel(ctx))
	defer cancel()
	n, err := e.sessions.RevokeAllForUser(sctx, userID)
	if err != nil {
		return 0, e.failInfra(ctx, "session.revoke_all", err)
	}
	return n, nil
}

// ListSessions returns userID's active sessions, newest first.
func (e *Engine) ListSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	list, err := e.sessions.ListForUser(sctx, userID)
	if err != nil {
		return nil, e.failInfra(ctx, "session.list", err)
	}
	out := make([]SessionInfo, len(list))
	for i, s := range list {
		out[i] = sessionInfo(s)
	}
	return out, nil
}
