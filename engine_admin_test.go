package authcore

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/authcore/audit"
	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/permission"
)

// actor logs email in and returns its verified claims.
func (h *testHarness) actor(t *testing.T, email string) Claims {
	t.Helper()
	tokens := h.login(t, email)
	claims, err := h.engine.AuthorizeRequest(context.Background(), tokens.AccessToken, Requirement{})
	if err != nil {
		t.Fatalf("AuthorizeRequest failed: %v", err)
	}
	return claims
}

func forbiddenReason(t *testing.T, err error) string {
	t.Helper()
	var fe *ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *ForbiddenError, got %v", err)
	}
	return fe.Reason
}

func TestSetRole(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "root", "root@example.com", permission.RoleSuperAdmin, permission.Overrides{})
	h.seed(t, "admin-1", "admin@example.com", permission.RoleAdmin, permission.Overrides{
		Add: permission.NewSet(permission.RoleManagement),
	})
	h.seed(t, "plain-admin", "plain@example.com", permission.RoleAdmin, permission.Overrides{})
	h.seed(t, "u-1", "user@example.com", permission.RoleUser, permission.Overrides{})
	ctx := context.Background()
	root := h.actor(t, "root@example.com")
	admin := h.actor(t, "admin@example.com")
	plain := h.actor(t, "plain@example.com")

	if err := h.engine.SetRole(ctx, root, "u-1", permission.RoleModerator); err != nil {
		t.Fatalf("SetRole failed: %v", err)
	}
	ident, _ := h.store.GetByID(ctx, "u-1")
	if ident.Role != permission.RoleModerator {
		t.Fatalf("expected MODERATOR, got %v", ident.Role)
	}

	if got := forbiddenReason(t, h.engine.SetRole(ctx, plain, "u-1", permission.RoleUser)); got != "missing_permissions" {
		t.Fatalf("ADMIN without role_management: got %q", got)
	}
	if got := forbiddenReason(t, h.engine.SetRole(ctx, admin, "u-1", permission.RoleSuperAdmin)); got != "role_above_actor" {
		t.Fatalf("granting above own role: got %q", got)
	}
	if got := forbiddenReason(t, h.engine.SetRole(ctx, admin, "admin-1", permission.RoleAdmin)); got != "self_administration" {
		t.Fatalf("self administration: got %q", got)
	}
	if got := forbiddenReason(t, h.engine.SetRole(ctx, admin, "root", permission.RoleUser)); got != "target_outranks_actor" {
		t.Fatalf("demoting a higher role: got %q", got)
	}
	if err := h.engine.SetRole(ctx, root, "u-1", permission.Role(42)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for an unknown role, got %v", err)
	}
	if err := h.engine.SetRole(ctx, root, "missing", permission.RoleUser); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for an unknown target, got %v", err)
	}

	changes := h.audit.find(audit.ActionRoleChange, audit.OutcomeSuccess)
	if len(changes) != 1 || changes[0].Detail["to"] != "MODERATOR" || changes[0].ActorID != "root" {
		t.Fatalf("unexpected role change entries %+v", changes)
	}
	denied := h.audit.find(audit.ActionRoleChange, audit.OutcomeDenied)
	want := []string{"missing_permissions", "role_above_actor", "self_administration", "target_outranks_actor"}
	if len(denied) != len(want) {
		t.Fatalf("expected %d audited denials, got %+v", len(want), denied)
	}
	for i, reason := range want {
		if denied[i].Detail["reason"] != reason || denied[i].ResourceType != "identity" {
			t.Fatalf("denial %d: expected %q, got %+v", i, reason, denied[i])
		}
	}
	if denied[0].ActorID != "plain-admin" || denied[0].ResourceID != "u-1" {
		t.Fatalf("unexpected missing-permission entry %+v", denied[0])
	}
	if denied[3].ActorID != "admin-1" || denied[3].ResourceID != "root" {
		t.Fatalf("unexpected outrank entry %+v", denied[3])
	}
}

func TestSetStatusRevokesSessions(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "admin-1", "admin@example.com", permission.RoleAdmin, permission.Overrides{})
	h.seed(t, "u-1", "user@example.com", permission.RoleUser, permission.Overrides{})
	h.seed(t, "root", "root@example.com", permission.RoleSuperAdmin, permission.Overrides{})
	ctx := context.Background()
	admin := h.actor(t, "admin@example.com")
	userTokens := h.login(t, "user@example.com")

	if err := h.engine.SetStatus(ctx, admin, "u-1", identity.StatusSuspended); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if _, err := h.engine.AuthorizeRequest(ctx, userTokens.AccessToken, Requirement{}); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected suspended user's session revoked, got %v", err)
	}
	if _, err := h.engine.Login(ctx, "user@example.com", testPassword, ClientInfo{}); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}

	if err := h.engine.SetStatus(ctx, admin, "u-1", identity.StatusActive); err != nil {
		t.Fatalf("reactivation failed: %v", err)
	}
	h.login(t, "user@example.com")

	if got := forbiddenReason(t, h.engine.SetStatus(ctx, admin, "root", identity.StatusBanned)); got != "target_outranks_actor" {
		t.Fatalf("banning a higher role: got %q", got)
	}
	denied := h.audit.find(audit.ActionStatusChange, audit.OutcomeDenied)
	if len(denied) != 1 || denied[0].Detail["reason"] != "target_outranks_actor" || denied[0].ResourceID != "root" {
		t.Fatalf("expected the outranked target to be audited, got %+v", denied)
	}
}

func TestUnlockDeniedWithoutPermissionIsAudited(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "mod-1", "mod@example.com", permission.RoleModerator, permission.Overrides{})
	h.seed(t, "u-1", "user@example.com", permission.RoleUser, permission.Overrides{})
	ctx := context.Background()
	mod := h.actor(t, "mod@example.com")

	err := h.engine.Unlock(ctx, mod, "u-1")
	var fe *ForbiddenError
	if !errors.As(err, &fe) || fe.Reason != "missing_permissions" || len(fe.Missing) != 1 || fe.Missing[0] != permission.UserManagement {
		t.Fatalf("expected missing user_management, got %v", err)
	}
	denied := h.audit.find(audit.ActionAccountUnlocked, audit.OutcomeDenied)
	if len(denied) != 1 || denied[0].ActorID != "mod-1" || denied[0].ResourceID != "u-1" {
		t.Fatalf("expected one audited denial, got %+v", denied)
	}
	missing, _ := denied[0].Detail["missing"].([]string)
	if len(missing) != 1 || missing[0] != permission.UserManagement.String() {
		t.Fatalf("unexpected missing detail %v", denied[0].Detail["missing"])
	}
}

func TestSetPermissionOverrides(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "admin-1", "admin@example.com", permission.RoleAdmin, permission.Overrides{
		Add: permission.NewSet(permission.RoleManagement),
	})
	h.seed(t, "mod-1", "mod@example.com", permission.RoleModerator, permission.Overrides{})
	ctx := context.Background()
	admin := h.actor(t, "admin@example.com")
	modTokens := h.login(t, "mod@example.com")

	err := h.engine.SetPermissionOverrides(ctx, admin, "mod-1", permission.Overrides{
		Add: permission.NewSet(permission.FinancialManagement),
	})
	if got := forbiddenReason(t, err); got != "grant_above_actor" {
		t.Fatalf("granting a permission the actor lacks: got %q", got)
	}

	if err := h.engine.SetPermissionOverrides(ctx, admin, "mod-1", permission.Overrides{
		Add:    permission.NewSet(permission.AnalyticsView),
		Remove: permission.NewSet(permission.MediaModerate),
	}); err != nil {
		t.Fatalf("SetPermissionOverrides failed: %v", err)
	}

	next, err := h.engine.Refresh(ctx, modTokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	claims, err := h.engine.AuthorizeRequest(ctx, next.AccessToken, Requirement{
		Permissions: permission.NewSet(permission.AnalyticsView),
	})
	if err != nil {
		t.Fatalf("added permission not applied: %v", err)
	}
	if claims.Permissions.Has(permission.MediaModerate) {
		t.Fatal("removed permission still present")
	}
}

func TestUnlock(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "admin-1", "admin@example.com", permission.RoleAdmin, permission.Overrides{})
	h.seed(t, "u-1", "user@example.com", permission.RoleUser, permission.Overrides{})
	ctx := context.Background()
	admin := h.actor(t, "admin@example.com")

	for i := 0; i < 5; i++ {
		_, _ = h.engine.Login(ctx, "user@example.com", "Wrong-password-1!", ClientInfo{})
	}
	if _, err := h.engine.Login(ctx, "user@example.com", testPassword, ClientInfo{}); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}

	if err := h.engine.Unlock(ctx, admin, "u-1"); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	h.login(t, "user@example.com")
	if len(h.audit.find(audit.ActionAccountUnlocked, audit.OutcomeSuccess)) != 1 {
		t.Fatal("expected unlock audit entry")
	}
}
