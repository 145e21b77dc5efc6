package authcore

import (
	"time"

	"github.com/MrEthical07/authcore/authz"
	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/session"
)

// ClientInfo describes the device making a request. Empty IP and UserAgent
// are filled from the request context.
type ClientInfo struct {
	DeviceID  string
	IP        string
	UserAgent string
}

// Tokens is a freshly issued credential pair.
type Tokens struct {
	AccessToken      string
	RefreshToken     string
	SessionID        string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// User is the public view of an identity. It never carries hashes or
// secrets.
type User struct {
	ID          string
	Email       string
	Name        string
	Role        permission.Role
	Permissions permission.Set
	Status      identity.Status
	MFAEnabled  bool
}

func publicUser(ident identity.Identity) User {
	return User{
		ID:          ident.ID,
		Email:       ident.Email,
		Name:        ident.Name,
		Role:        ident.Role,
		Permissions: ident.EffectivePermissions(),
		Status:      ident.Status,
		MFAEnabled:  ident.MFAEnabled,
	}
}

// LoginResult is the outcome of a successful password check. When
// MFARequired is set, Tokens is empty and MFAChallenge must be passed to
// [Engine.VerifyMFA] with a TOTP code.
type LoginResult struct {
	Tokens       Tokens
	User         User
	MFARequired  bool
	MFAChallenge string
}

// Claims are the verified contents of an access token.
type Claims struct {
	UserID      string
	Email       string
	Name        string
	Role        permission.Role
	Permissions permission.Set
	SessionID   string
	DeviceID    string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

func (c Claims) subject() authz.Subject {
	return authz.Subject{
		UserID:      c.UserID,
		SessionID:   c.SessionID,
		Role:        c.Role,
		Permissions: c.Permissions,
	}
}

// HasRole reports whether the claims' role ranks at least min.
func (c Claims) HasRole(min permission.Role) bool {
	return authz.HasRole(c.subject(), min)
}

// Requirement is what a protected endpoint needs from the caller. A zero
// Requirement only checks that the token and session are valid.
type Requirement struct {
	Permissions permission.Set
	// MinRole, if set, must be met in addition to Permissions.
	MinRole permission.Role
	// ResourceOwnerID, if set, applies the ownership gate.
	ResourceOwnerID string
}

// RegisterRequest creates a new identity.
type RegisterRequest struct {
	Email    string
	Name     string
	Password string
}

// MFAEnrollment is returned when MFA enrollment starts.
type MFAEnrollment struct {
	Secret    string
	URI       string
	ExpiresAt time.Time
}

// SessionInfo is the public view of a session.
type SessionInfo struct {
	ID           string
	DeviceID     string
	IP           string
	UserAgent    string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	LastActivity time.Time
}

func sessionInfo(s session.Session) SessionInfo {
	return SessionInfo{
		ID:           s.ID,
		DeviceID:     s.DeviceID,
		IP:           s.IP,
		UserAgent:    s.UserAgent,
		IssuedAt:     s.IssuedAt,
		ExpiresAt:    s.ExpiresAt,
		LastActivity: s.LastActivity,
	}
}
