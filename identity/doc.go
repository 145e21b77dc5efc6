// Package identity defines the Identity record and the credential store
// contract authcore depends on.
//
// The store holds the only copy of an identity's role, permission overrides,
// status, lockout counters and MFA secret. Every value needed to compute
// the effective permission set lives on the record itself.
//
// # What this package must NOT do
//
//   - Hash or verify passwords (see package password).
//   - Cache identities across requests.
package identity
