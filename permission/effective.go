package permission

var (
	moderatorDefaults = NewSet(
		ListingModerate,
		MediaModerate,
		ReviewModerate,
		UserView,
	)

	adminDefaults = moderatorDefaults.With(
		ListingEditAny,
		ListingDeleteAny,
		UserManagement,
		AnalyticsView,
		AuditLogView,
		FinancialView,
	)

	superAdminDefaults = NewSet(All()...)
)

// Defaults returns the permission set a role grants before overrides. Each
// role's set contains every lower role's set.
func Defaults(r Role) Set {
	switch r {
	case RoleModerator:
		return moderatorDefaults
	case RoleAdmin:
		return adminDefaults
	case RoleSuperAdmin:
		return superAdminDefaults
	default:
		return 0
	}
}

// Overrides adjusts a role's defaults for one identity.
type Overrides struct {
	Add    Set
	Remove Set
}

// Empty reports whether o changes nothing.
func (o Overrides) Empty() bool {
	return o.Add == 0 && o.Remove == 0
}

// Effective computes the final permission set: role defaults, plus additions,
// minus removals. Removals win over both defaults and additions.
func Effective(r Role, o Overrides) Set {
	return Defaults(r).Union(o.Add).Subtract(o.Remove)
}
