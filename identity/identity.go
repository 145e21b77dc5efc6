package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/permission"
)

var (
	// ErrNotFound is returned when no identity matches the lookup.
	ErrNotFound = errors.New("identity not found")
	// ErrConflict is returned by Create when the id or email is already taken.
	ErrConflict = errors.New("identity already exists")
	// ErrUnknownStatus is returned when a status name cannot be parsed.
	ErrUnknownStatus = errors.New("unknown identity status")
)

// Status is the lifecycle state of an identity. Suspension and bans are
// status transitions; records are never deleted by authcore.
type Status uint8

const (
	StatusActive Status = iota + 1
	StatusSuspended
	StatusBanned
	StatusPendingVerification
)

var statusNames = map[Status]string{
	StatusActive:              "ACTIVE",
	StatusSuspended:           "SUSPENDED",
	StatusBanned:              "BANNED",
	StatusPendingVerification: "PENDING_VERIFICATION",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Valid reports whether s is a defined status.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// ParseStatus resolves a status by name, case-insensitively.
func ParseStatus(name string) (Status, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for s, n := range statusNames {
		if n == upper {
			return s, nil
		}
	}
	return 0, ErrUnknownStatus
}

// Identity is a user or administrator record.
type Identity struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         permission.Role
	Overrides    permission.Overrides
	Status       Status

	FailedAttempts int
	LockedUntil    *time.Time

	// MFASecret is the base32 TOTP secret; empty unless MFA is enabled.
	MFASecret  string
	MFAEnabled bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EffectivePermissions recomputes the permission set from the record alone.
func (i Identity) EffectivePermissions() permission.Set {
	return permission.Effective(i.Role, i.Overrides)
}

// Active reports whether the identity may authenticate.
func (i Identity) Active() bool {
	return i.Status == StatusActive
}

// Store is the credential store contract.
//
// Update persists profile, credential, role, override, status and MFA fields.
// Lockout state changes only through IncrementFailedAttempts,
// ResetFailedAttempts and SetLockout so that concurrent failed logins are
// never lost to a full-record overwrite.
type Store interface {
	GetByEmail(ctx context.Context, email string) (Identity, error)
	GetByID(ctx context.Context, id string) (Identity, error)
	Create(ctx context.Context, ident Identity) error
	Update(ctx context.Context, ident Identity) error
	IncrementFailedAttempts(ctx context.Context, id string) (int, error)
	ResetFailedAttempts(ctx context.Context, id string) error
	SetLockout(ctx context.Context, id string, until time.Time) error
}

// NormalizeEmail lowercases and trims an email for lookups and uniqueness.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
