// Package internal contains helpers private to authcore: random identifiers
// and client value sanitising.
//
// # Sub-packages
//
//   - stores: Redis-backed MFA challenge, enrollment and replay records
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
package internal
