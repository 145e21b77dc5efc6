// Package permission defines the closed set of permissions and roles used by
// authcore authorization checks, and the pure function that turns a role plus
// per-identity overrides into an effective permission set.
//
// # Representation
//
// A [Set] is a 64-bit mask indexed by [Permission]. Roles are totally ordered
// (USER < MODERATOR < ADMIN < SUPER_ADMIN) and each role grants a fixed default
// set that grows with rank.
//
// # Architecture boundaries
//
// This package is a pure in-memory data structure with no I/O. Token claims
// carry permission names; [ParseNames] and [Set.Names] are the codec.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import authcore, jwt, or session.
//   - Accept permission or role names outside the closed enumeration.
package permission
