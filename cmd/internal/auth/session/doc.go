// Package session issues, verifies and revokes workline session credentials.
//
// A credential is a signed claims token (PASETO v4.public by default, HS256 JWT optionally) sealed by
// the token codec and sent as "Authorization: Bearer <credential>". Verification is ordered:
//
//  1. bearer parse          -> ErrMissingSession
//  2. revocation lookup     -> ErrSessionExpired (runs on the raw value, before decryption)
//  3. decrypt               -> ErrInvalidSession
//  4. signature and expiry  -> ErrInvalidSession
//  5. subject existence     -> ErrSubjectNotFound
//
// Revocation stores a keyed fingerprint of the raw value together with the credential's own expiry,
// so records can be pruned once the credential could no longer verify anyway.
package session
