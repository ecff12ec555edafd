package session

import "errors"

var (
	// ErrMissingSession: no Authorization value, or not "Bearer <token>".
	ErrMissingSession = errors.New("missing session")

	// ErrSessionExpired: the credential was revoked (logout, account deletion).
	ErrSessionExpired = errors.New("session expired")

	// ErrInvalidSession: the credential failed decryption, signature or expiry checks.
	// It is always joined with a more specific cause (token.ErrDecryption, ErrInvalidSignature, ErrCredentialExpired).
	ErrInvalidSession = errors.New("invalid session")

	// ErrSubjectNotFound: the credential verified but its subject no longer exists.
	ErrSubjectNotFound = errors.New("subject not found")

	ErrInvalidSignature  = errors.New("invalid credential signature")
	ErrCredentialExpired = errors.New("credential expired")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
