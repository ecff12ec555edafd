// Package token provides the transport codec and fingerprinting for workline session credentials.
//
// Credentials are sealed with XChaCha20-Poly1305 under a 32-byte server key. Every Encrypt call draws
// a fresh 24-byte nonce, so the same payload never produces the same credential twice, while the
// output length depends only on the payload length.
//
// Wire form: base64url(nonce || ciphertext || tag), no padding.
//
// Fingerprint produces the stable 64-char hex identifier under which revoked credentials are stored:
// HMAC-SHA256 when a key is configured, plain SHA-256 otherwise.
package token
