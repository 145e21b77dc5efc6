package session

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// State is the stored lifecycle flag. Expiry is derived from ExpiresAt and
// is never written.
type State string

const (
	StateActive  State = "active"
	StateRevoked State = "revoked"
)

// Status is the observed lifecycle position: ACTIVE, EXPIRED or REVOKED.
// EXPIRED and REVOKED are terminal.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusExpired Status = "EXPIRED"
	StatusRevoked Status = "REVOKED"
)

// Session tracks one authenticated device. RefreshHash is the hex SHA-256
// of the current refresh token id; the token itself is never stored.
type Session struct {
	ID           string
	UserID       string
	DeviceID     string
	IP           string
	UserAgent    string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	LastActivity time.Time
	State        State
	RefreshHash  string
}

// Status resolves the lifecycle position at now.
func (s Session) Status(now time.Time) Status {
	if s.State == StateRevoked {
		return StatusRevoked
	}
	if !now.Before(s.ExpiresAt) {
		return StatusExpired
	}
	return StatusActive
}

// Active is Status(now) == StatusActive.
func (s Session) Active(now time.Time) bool {
	return s.Status(now) == StatusActive
}

// HashTokenID returns the stored form of a refresh token id.
func HashTokenID(tokenID string) string {
	sum := sha256.Sum256([]byte(tokenID))
	return hex.EncodeToString(sum[:])
}
