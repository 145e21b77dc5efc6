package permission

import "errors"

// ErrUnknownPermission is returned when a permission name is not part of the
// closed enumeration.
var ErrUnknownPermission = errors.New("unknown permission")

// Permission identifies a single capability. Values are bit positions in a
// [Set] and must stay below 64.
type Permission uint8

const (
	ListingCreate Permission = iota
	ListingEditAny
	ListingDeleteAny
	ListingModerate
	MediaModerate
	ReviewModerate
	UserView
	UserManagement
	RoleManagement
	AnalyticsView
	AuditLogView
	AuditLogExport
	FinancialView
	FinancialManagement
	SystemConfig

	permissionCount
)

var permissionNames = [permissionCount]string{
	ListingCreate:       "listing_create",
	ListingEditAny:      "listing_edit_any",
	ListingDeleteAny:    "listing_delete_any",
	ListingModerate:     "listing_moderate",
	MediaModerate:       "media_moderate",
	ReviewModerate:      "review_moderate",
	UserView:            "user_view",
	UserManagement:      "user_management",
	RoleManagement:      "role_management",
	AnalyticsView:       "analytics_view",
	AuditLogView:        "audit_log_view",
	AuditLogExport:      "audit_log_export",
	FinancialView:       "financial_view",
	FinancialManagement: "financial_management",
	SystemConfig:        "system_config",
}

var permissionByName = func() map[string]Permission {
	out := make(map[string]Permission, permissionCount)
	for p := Permission(0); p < permissionCount; p++ {
		out[permissionNames[p]] = p
	}
	return out
}()

// All returns every defined permission in declaration order.
func All() []Permission {
	out := make([]Permission, 0, permissionCount)
	for p := Permission(0); p < permissionCount; p++ {
		out = append(out, p)
	}
	return out
}

// Valid reports whether p is part of the enumeration.
func (p Permission) Valid() bool {
	return p < permissionCount
}

func (p Permission) String() string {
	if !p.Valid() {
		return "unknown"
	}
	return permissionNames[p]
}

// Sensitive reports whether p belongs to a scope that receives tighter rate
// limits regardless of the caller's role.
func (p Permission) Sensitive() bool {
	switch p {
	case FinancialView, FinancialManagement, AuditLogExport:
		return true
	default:
		return false
	}
}

// Parse resolves a permission by its wire name.
func Parse(name string) (Permission, error) {
	p, ok := permissionByName[name]
	if !ok {
		return 0, ErrUnknownPermission
	}
	return p, nil
}
