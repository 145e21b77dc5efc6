package authcore

import (
	"context"

	"github.com/MrEthical07/authcore/audit"
	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/permission"
)

// Administrative actions take the actor's verified claims, normally the
// result of AuthorizeRequest. An actor may only act on identities ranked at
// or below their own role and never on themselves.

// SetRole changes targetID's role. The actor needs role_management and
// cannot grant a role above their own. The change reaches tokens on the
// target's next refresh.
func (e *Engine) SetRole(ctx context.Context, actor Claims, targetID string, role permission.Role) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !role.Valid() {
		return ErrInvalidInput
	}
	target, err := e.adminTarget(ctx, actor, audit.ActionRoleChange, targetID, permission.RoleManagement)
	if err != nil {
		return err
	}
	if !actor.Role.AtLeast(role) {
		return e.adminDenied(ctx, actor, audit.ActionRoleChange, targetID, "role_above_actor")
	}

	previous := target.Role
	target.Role = role
	if err := e.updateIdentity(ctx, target); err != nil {
		return err
	}
	e.record(ctx, audit.Entry{
		ActorID:      actor.UserID,
		SessionID:    actor.SessionID,
		Action:       audit.ActionRoleChange,
		ResourceType: "identity",
		ResourceID:   target.ID,
		Outcome:      audit.OutcomeSuccess,
		Detail:       map[string]any{"from": previous.String(), "to": role.String()},
	})
	return nil
}

// SetStatus changes targetID's lifecycle status. Moving an identity out of
// ACTIVE revokes all of its sessions.
func (e *Engine) SetStatus(ctx context.Context, actor Claims, targetID string, status identity.Status) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !status.Valid() {
		return ErrInvalidInput
	}
	target, err := e.adminTarget(ctx, actor, audit.ActionStatusChange, targetID, permission.UserManagement)
	if err != nil {
		return err
	}

	previous := target.Status
	target.Status = status
	if err := e.updateIdentity(ctx, target); err != nil {
		return err
	}
	revoked := 0
	if status != identity.StatusActive {
		if revoked, err = e.revokeAll(ctx, target.ID); err != nil {
			return err
		}
	}
	e.record(ctx, audit.Entry{
		ActorID:      actor.UserID,
		SessionID:    actor.SessionID,
		Action:       audit.ActionStatusChange,
		ResourceType: "identity",
		ResourceID:   target.ID,
		Outcome:      audit.OutcomeSuccess,
		Detail: map[string]any{
			"from":             previous.String(),
			"to":               status.String(),
			"sessions_revoked": revoked,
		},
	})
	return nil
}

// SetPermissionOverrides replaces targetID's overrides. The actor cannot add
// a permission they do not hold themselves.
func (e *Engine) SetPermissionOverrides(ctx context.Context, actor Claims, targetID string, o permission.Overrides) error {
	if err := e.ready(); err != nil {
		return err
	}
	target, err := e.adminTarget(ctx, actor, audit.ActionPermissionsChange, targetID, permission.RoleManagement)
	if err != nil {
		return err
	}
	if !actor.Permissions.Contains(o.Add) {
		return e.adminDenied(ctx, actor, audit.ActionPermissionsChange, targetID, "grant_above_actor")
	}

	target.Overrides = o
	if err := e.updateIdentity(ctx, target); err != nil {
		return err
	}
	e.record(ctx, audit.Entry{
		ActorID:      actor.UserID,
		SessionID:    actor.SessionID,
		Action:       audit.ActionPermissionsChange,
		ResourceType: "identity",
		ResourceID:   target.ID,
		Outcome:      audit.OutcomeSuccess,
		Detail: map[string]any{
			"add":    o.Add.Names(),
			"remove": o.Remove.Names(),
		},
	})
	return nil
}

// Unlock clears targetID's failed attempts and lockout.
func (e *Engine) Unlock(ctx context.Context, actor Claims, targetID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	target, err := e.adminTarget(ctx, actor, audit.ActionAccountUnlocked, targetID, permission.UserManagement)
	if err != nil {
		return err
	}
	sctx, cancel := e.storeCtx(ctx)
	err = e.lockout.RecordSuccess(sctx, target.ID)
	cancel()
	if err != nil {
		return e.failInfra(ctx, "lockout.reset", err)
	}
	e.record(ctx, audit.Entry{
		ActorID:      actor.UserID,
		SessionID:    actor.SessionID,
		Action:       audit.ActionAccountUnlocked,
		ResourceType: "identity",
		ResourceID:   target.ID,
		Outcome:      audit.OutcomeSuccess,
	})
	return nil
}

// adminTarget loads targetID after checking the actor holds perm and
// outranks or equals the target. Denials are audited under action.
func (e *Engine) adminTarget(ctx context.Context, actor Claims, action audit.Action, targetID string, perm permission.Permission) (identity.Identity, error) {
	if actor.UserID == "" || targetID == "" {
		return identity.Identity{}, ErrInvalidInput
	}
	if d := evaluate(actor, Requirement{Permissions: permission.NewSet(perm)}); !d.Allowed {
		return identity.Identity{}, e.adminDenied(ctx, actor, action, targetID, d.Reason, d.Missing...)
	}
	if actor.UserID == targetID {
		return identity.Identity{}, e.adminDenied(ctx, actor, action, targetID, "self_administration")
	}
	target, err := e.loadIdentity(ctx, targetID, ErrInvalidInput)
	if err != nil {
		return identity.Identity{}, err
	}
	if !actor.Role.AtLeast(target.Role) {
		return identity.Identity{}, e.adminDenied(ctx, actor, action, targetID, "target_outranks_actor")
	}
	return target, nil
}

func (e *Engine) adminDenied(ctx context.Context, actor Claims, action audit.Action, targetID, reason string, missing ...permission.Permission) error {
	detail := map[string]any{"reason": reason}
	if len(missing) > 0 {
		detail["missing"] = permission.NewSet(missing...).Names()
	}
	e.record(ctx, audit.Entry{
		ActorID:      actor.UserID,
		SessionID:    actor.SessionID,
		Action:       action,
		ResourceType: "identity",
		ResourceID:   targetID,
		Outcome:      audit.OutcomeDenied,
		Detail:       detail,
	})
	return &ForbiddenError{Reason: reason, Missing: missing}
}
