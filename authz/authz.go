// Package authz evaluates authorization decisions from verified token claims.
//
// Every function here is pure: the decision depends only on the subject's
// embedded role and permission snapshot plus the request's requirements. No
// store is consulted, so a decision can be replayed from an audit entry.
package authz

import "github.com/MrEthical07/authcore/permission"

// Reason codes attached to deny decisions.
const (
	ReasonInvalidRole        = "invalid_role"
	ReasonBaseRole           = "base_role_cannot_hold_permissions"
	ReasonMissingPermissions = "missing_permissions"
	ReasonNotOwner           = "not_owner"
)

// Subject is the claim shape authorization decisions read.
type Subject struct {
	UserID      string
	SessionID   string
	Role        permission.Role
	Permissions permission.Set
}

// Decision is the outcome of an authorization check. Missing is populated
// only for permission denials.
type Decision struct {
	Allowed bool
	Reason  string
	Missing []permission.Permission
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

// Authorize checks that sub may perform an action needing required.
//
// A base USER is denied whenever any permission is required, whatever its
// snapshot holds. Other roles need a snapshot that is a superset of required.
// An empty requirement allows any valid role.
func Authorize(sub Subject, required permission.Set) Decision {
	if !sub.Role.Valid() {
		return deny(ReasonInvalidRole)
	}
	if required.Len() == 0 {
		return allow()
	}
	if sub.Role == permission.RoleUser {
		d := deny(ReasonBaseRole)
		d.Missing = required.Permissions()
		return d
	}
	if missing := sub.Permissions.Missing(required); len(missing) > 0 {
		d := deny(ReasonMissingPermissions)
		d.Missing = missing
		return d
	}
	return allow()
}

// AuthorizeOwnership gates resources by ownership. Any role above USER
// bypasses the check; a USER must own the resource.
func AuthorizeOwnership(sub Subject, ownerID string) Decision {
	if !sub.Role.Valid() {
		return deny(ReasonInvalidRole)
	}
	if sub.Role.Rank() > permission.RoleUser.Rank() {
		return allow()
	}
	if sub.UserID != "" && sub.UserID == ownerID {
		return allow()
	}
	return deny(ReasonNotOwner)
}

// HasRole reports rank(sub.Role) >= rank(min).
func HasRole(sub Subject, min permission.Role) bool {
	if !sub.Role.Valid() || !min.Valid() {
		return false
	}
	return sub.Role.AtLeast(min)
}
