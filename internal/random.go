package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

const idSize = 16

// NewID returns 128 random bits as unpadded base64url. Used for session
// and MFA challenge identifiers.
func NewID() (string, error) {
	var raw [idSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// ValidID reports whether id has the shape produced by NewID. Lookups with
// malformed ids are rejected before reaching the store.
func ValidID(id string) bool {
	if len(id) != base64.RawURLEncoding.EncodedLen(idSize) {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(id)
	return err == nil && len(raw) == idSize
}

// ParseID decodes an id produced by NewID.
func ParseID(id string) ([idSize]byte, error) {
	var out [idSize]byte
	if !ValidID(id) {
		return out, errors.New("invalid id")
	}
	raw, _ := base64.RawURLEncoding.DecodeString(id)
	copy(out[:], raw)
	return out, nil
}
