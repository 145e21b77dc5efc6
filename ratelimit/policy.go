package ratelimit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/permission"
)

// Rule is a limit per window.
type Rule struct {
	Limit  int
	Window time.Duration
}

func (r Rule) valid() bool {
	return r.Limit > 0 && r.Window >= time.Millisecond
}

// Tier names an endpoint class a middleware can be configured with.
type Tier string

const (
	TierLogin   Tier = "login"
	TierMFA     Tier = "mfa"
	TierRefresh Tier = "refresh"
	TierAPI     Tier = "api"
)

// Policy maps endpoint classes to rules. Login is keyed per (email, IP)
// and is tighter than general API calls. API ceilings scale with role, and
// any request needing a sensitive permission is held to Sensitive no matter
// how high the role.
type Policy struct {
	Login     Rule
	MFA       Rule
	Refresh   Rule
	API       map[permission.Role]Rule
	Sensitive Rule
}

// DefaultPolicy returns production defaults.
func DefaultPolicy() Policy {
	return Policy{
		Login:   Rule{Limit: 10, Window: 15 * time.Minute},
		MFA:     Rule{Limit: 10, Window: 15 * time.Minute},
		Refresh: Rule{Limit: 30, Window: time.Minute},
		API: map[permission.Role]Rule{
			permission.RoleUser:       {Limit: 60, Window: time.Minute},
			permission.RoleModerator:  {Limit: 120, Window: time.Minute},
			permission.RoleAdmin:      {Limit: 300, Window: time.Minute},
			permission.RoleSuperAdmin: {Limit: 600, Window: time.Minute},
		},
		Sensitive: Rule{Limit: 10, Window: time.Minute},
	}
}

// Validate checks every rule and that API ceilings do not decrease with role.
func (p Policy) Validate() error {
	for name, r := range map[string]Rule{"login": p.Login, "mfa": p.MFA, "refresh": p.Refresh, "sensitive": p.Sensitive} {
		if !r.valid() {
			return fmt.Errorf("rate limit rule %q must have limit > 0 and window >= 1ms", name)
		}
	}
	prev := 0
	for _, role := range permission.Roles() {
		r, ok := p.API[role]
		if !ok || !r.valid() {
			return fmt.Errorf("rate limit rule for role %s missing or invalid", role)
		}
		if r.Limit < prev {
			return errors.New("api rate limits must not decrease with role rank")
		}
		prev = r.Limit
	}
	return nil
}

// APIRule resolves the rule and counter key for an authenticated request.
// Requests needing any sensitive permission use a separate, tighter bucket.
func (p Policy) APIRule(userID string, role permission.Role, required permission.Set) (string, Rule) {
	base, ok := p.API[role]
	if !ok {
		base = p.API[permission.RoleUser]
	}
	if required.AnySensitive() {
		r := p.Sensitive
		if base.valid() && base.Limit < r.Limit {
			r.Limit = base.Limit
		}
		return "api:sensitive:" + userID, r
	}
	return "api:" + userID, base
}

// LoginKey keys login attempts per normalized email and source IP.
func LoginKey(email, ip string) string {
	return "login:" + strings.ToLower(strings.TrimSpace(email)) + "|" + ip
}

// MFAKey keys MFA verification attempts per identity.
func MFAKey(userID string) string {
	return "mfa:" + userID
}

// RefreshKey keys refresh exchanges per session.
func RefreshKey(sessionID string) string {
	return "refresh:" + sessionID
}

// RegisterKey keys account creation per source IP.
func RegisterKey(ip string) string {
	return "register:" + ip
}
