// Package password hashes and verifies passwords and validates complexity.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Legacy bcrypt hashes ($2a$, $2b$, $2y$) still verify, and
// [Argon2.NeedsUpgrade] reports them so the caller can rehash with argon2id
// after the next successful login. Argon2id hashes produced with weaker
// parameters than the current [Config] are reported the same way.
//
// # Complexity
//
// [Policy.ValidateComplexity] returns every violated rule at once.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other authcore package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
