package authcore

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/MrEthical07/authcore/audit"
	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/ratelimit"
)

const (
	maxEmailBytes = 254
	maxNameBytes  = 128
)

// Register creates a USER identity. Every complexity violation is reported
// at once through *password.PolicyError. New identities start ACTIVE, or
// PENDING_VERIFICATION when Account.RequireVerification is set.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (User, error) {
	if err := e.ready(); err != nil {
		return User{}, err
	}
	email := identity.NormalizeEmail(req.Email)
	if !validEmail(email) {
		return User{}, ErrInvalidInput
	}
	name := internal.ClientValue(req.Name, maxNameBytes)
	if err := e.pwPolicy.ValidateComplexity(req.Password).Err(); err != nil {
		return User{}, err
	}

	ip := ClientIPFromContext(ctx)
	if err := e.checkRate(ctx, "register", ratelimit.RegisterKey(ip), e.policy.Login); err != nil {
		return User{}, err
	}

	hash, err := e.hashPassword(ctx, req.Password)
	if err != nil {
		return User{}, e.failInfra(ctx, "password.hash", err)
	}

	status := identity.StatusActive
	if e.config.Account.RequireVerification {
		status = identity.StatusPendingVerification
	}
	now := e.now()
	ident := identity.Identity{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         permission.RoleUser,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	sctx, cancel := e.storeCtx(ctx)
	err = e.identities.Create(sctx, ident)
	cancel()
	if err != nil {
		if errors.Is(err, identity.ErrConflict) {
			e.record(ctx, audit.Entry{
				Action:  audit.ActionRegister,
				Outcome: audit.OutcomeFailure,
				Detail:  map[string]any{"reason": "email_taken"},
			})
			return User{}, ErrEmailTaken
		}
		return User{}, e.failInfra(ctx, "identity.create", err)
	}

	e.metricInc(MetricRegisterSuccess)
	e.record(ctx, audit.Entry{
		ActorID:      ident.ID,
		Action:       audit.ActionRegister,
		ResourceType: "identity",
		ResourceID:   ident.ID,
		Outcome:      audit.OutcomeSuccess,
		Detail:       map[string]any{"status": status.String()},
	})
	return publicUser(ident), nil
}

func validEmail(email string) bool {
	if email == "" || len(email) > maxEmailBytes {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n")
}

// ChangePassword replaces userID's password after checking the current one.
// All of the identity's sessions are revoked, including the caller's.
//
// A wrong current password counts toward lockout like a failed login.
func (e *Engine) ChangePassword(ctx context.Context, userID, current, next string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if current == "" || next == "" {
		return ErrInvalidInput
	}
	ident, err := e.loadIdentity(ctx, userID, ErrUnauthorized)
	if err != nil {
		return err
	}
	if e.lockout.IsLocked(ident) {
		return ErrAccountLocked
	}

	client := e.cleanClient(ctx, ClientInfo{})
	ok, err := e.verifyPassword(ctx, current, ident.PasswordHash)
	if err != nil {
		return e.failInfra(ctx, "password.verify", err)
	}
	if !ok {
		return e.passwordMismatch(ctx, ident, client)
	}
	if current == next {
		return ErrPasswordReuse
	}
	if err := e.pwPolicy.ValidateComplexity(next).Err(); err != nil {
		return err
	}

	hash, err := e.hashPassword(ctx, next)
	if err != nil {
		return e.failInfra(ctx, "password.hash", err)
	}
	ident.PasswordHash = hash
	if err := e.updateIdentity(ctx, ident); err != nil {
		return err
	}

	revoked, err := e.revokeAll(ctx, ident.ID)
	if err != nil {
		// The password is already changed; surface the failure so the
		// caller can retry LogoutAll.
		return err
	}

	e.metricInc(MetricPasswordChange)
	e.record(ctx, audit.Entry{
		ActorID:      ident.ID,
		Action:       audit.ActionPasswordChange,
		ResourceType: "identity",
		ResourceID:   ident.ID,
		Outcome:      audit.OutcomeSuccess,
		Detail:       map[string]any{"sessions_revoked": revoked},
	})
	return nil
}
