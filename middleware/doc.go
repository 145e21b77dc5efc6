// Package middleware exposes net/http decorators over an authcore.Engine.
//
// Each decorator is attached per route with its own parameters:
//
//   - [ClientContext] copies the caller's IP and User-Agent into the request
//     context so the Engine can key limits and fill audit entries.
//   - [Authorize] calls Engine.AuthorizeRequest with a route's
//     [authcore.Requirement] and injects the verified claims.
//   - [RateLimit] charges one unit of a [ratelimit.Tier] before the handler
//     runs.
//   - [Audit] records one audit entry per request with an outcome derived
//     from the response status.
//
// Failures are written with [WriteError], which maps every error to its
// status and client-safe message. Authentication failures never reveal
// which check failed.
//
// This package holds no authentication logic: tokens are parsed and
// sessions looked up only through the Engine.
package middleware
