// Package stores provides Redis-backed, short-lived records for the MFA
// flows: login challenges, pending enrollments and TOTP step replay marks.
//
// # Design
//
// Challenges are versioned, binary-encoded records with a TTL. Failure
// counting uses WATCH/MULTI optimistic transactions with retry on
// contention. Consumption is a single DEL, so only one caller can complete
// a challenge.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for transient
// records. It does not verify codes or make authentication decisions.
package stores
