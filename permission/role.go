package permission

import (
	"errors"
	"strings"
)

// ErrUnknownRole is returned when a role name is not part of the enumeration.
var ErrUnknownRole = errors.New("unknown role")

// Role is a totally ordered authority level. The zero value is invalid.
type Role uint8

const (
	RoleUser Role = iota + 1
	RoleModerator
	RoleAdmin
	RoleSuperAdmin
)

var roleNames = map[Role]string{
	RoleUser:       "USER",
	RoleModerator:  "MODERATOR",
	RoleAdmin:      "ADMIN",
	RoleSuperAdmin: "SUPER_ADMIN",
}

// Roles returns every role in ascending rank.
func Roles() []Role {
	return []Role{RoleUser, RoleModerator, RoleAdmin, RoleSuperAdmin}
}

// Valid reports whether r is a defined role.
func (r Role) Valid() bool {
	return r >= RoleUser && r <= RoleSuperAdmin
}

// Rank returns the position of r in the total order; invalid roles rank 0.
func (r Role) Rank() int {
	if !r.Valid() {
		return 0
	}
	return int(r)
}

// AtLeast reports whether r ranks at or above min.
func (r Role) AtLeast(min Role) bool {
	return r.Valid() && r.Rank() >= min.Rank()
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseRole resolves a role by name, case-insensitively.
func ParseRole(name string) (Role, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for role, n := range roleNames {
		if n == upper {
			return role, nil
		}
	}
	return 0, ErrUnknownRole
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, ErrUnknownRole
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
