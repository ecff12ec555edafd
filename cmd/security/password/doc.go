// Package password hashes and verifies workline account passwords with Argon2id.
//
// Hashes use the PHC string form $argon2id$v=19$m=..,t=..,p=..$salt$key. Stored hashes are treated as
// untrusted input: Verify refuses parameters far above the configured cost.
package password
