package permission

import "math/bits"

// Set is an immutable-by-value bitmask of permissions.
type Set uint64

// NewSet builds a set from the given permissions. Invalid values are ignored.
func NewSet(perms ...Permission) Set {
	var s Set
	return s.With(perms...)
}

// Has reports whether p is in s.
func (s Set) Has(p Permission) bool {
	if !p.Valid() {
		return false
	}
	return s&(1<<p) != 0
}

// With returns s plus perms.
func (s Set) With(perms ...Permission) Set {
	for _, p := range perms {
		if !p.Valid() {
			continue
		}
		s |= 1 << p
	}
	return s
}

// Without returns s minus perms.
func (s Set) Without(perms ...Permission) Set {
	for _, p := range perms {
		if !p.Valid() {
			continue
		}
		s &^= 1 << p
	}
	return s
}

// Union returns s | other.
func (s Set) Union(other Set) Set {
	return s | other
}

// Subtract returns s with every member of other removed.
func (s Set) Subtract(other Set) Set {
	return s &^ other
}

// Contains reports whether s is a superset of other.
func (s Set) Contains(other Set) bool {
	return other&^s == 0
}

// Missing lists the members of required absent from s, in enumeration order.
func (s Set) Missing(required Set) []Permission {
	return (required &^ s).Permissions()
}

// Len returns the number of permissions in s.
func (s Set) Len() int {
	return bits.OnesCount64(uint64(s))
}

// Permissions lists the members of s in enumeration order.
func (s Set) Permissions() []Permission {
	out := make([]Permission, 0, s.Len())
	for p := Permission(0); p < permissionCount; p++ {
		if s.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

// AnySensitive reports whether any member of s is a sensitive scope.
func (s Set) AnySensitive() bool {
	for _, p := range s.Permissions() {
		if p.Sensitive() {
			return true
		}
	}
	return false
}
