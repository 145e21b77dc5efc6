// Package session provides Redis-backed session records, the revocation
// authority for every token carrying a session id.
//
// # Storage layout
//
// Each session is a Redis hash at <prefix>:s:<sid> whose TTL equals the
// session expiry, so expired sessions clean themselves up. A per-user set at
// <prefix>:u:<uid> indexes live session ids for logout-all and listing.
// Revoked sessions keep their hash until TTL with state=revoked.
//
// # Refresh rotation
//
// [Store.RotateRefresh] runs a single Lua script that compares the presented
// refresh hash with the stored one and either swaps in the next hash or, on
// mismatch, revokes the session. Two concurrent rotations of the same token
// therefore yield exactly one success and one reuse detection.
//
// # What this package must NOT do
//
//   - Import authcore, jwt, or permission.
//   - Store refresh tokens or any other plaintext secret.
package session
