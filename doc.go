// Package authcore is an authentication and authorization core for
// multi-role web services: password login with optional TOTP second factor,
// short-lived JWT access tokens, single-use rotating refresh tokens backed by
// Redis sessions, closed-enumeration RBAC with per-identity overrides, rate
// limiting, account lockout and an outcome-tagged audit trail.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// the error taxonomy and value types. Components live in their own packages
// (password, totp, jwt, session, ratelimit, lockout, permission, authz, audit,
// identity) and can be used on their own.
//
// # State
//
// An Engine keeps no per-request mutable state. Rate counters, sessions and
// MFA challenges live in Redis; identities and their lockout counters live in
// the [identity.Store]. Every store call carries a bounded timeout and a
// failure denies the request with [ErrUnavailable].
//
// # Error handling
//
// Every operation returns a sentinel or typed error. [Classify] maps it to a
// [Kind] and [Kind.HTTPStatus] to a response status. Authentication failures
// share one client-visible message from [PublicMessage]; the specific reason
// goes to the audit log and metrics only.
package authcore
