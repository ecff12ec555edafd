package session

import "time"

// Claims is the fixed payload carried by a session credential.
type Claims struct {
	SubjectID string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
}

// Signer signs and verifies claims. Implementations return errors wrapping
// ErrInvalidSignature or ErrCredentialExpired from Verify.
type Signer interface {
	Sign(c Claims) (string, error)

	// Verify checks signature, issuer, nbf and exp against now, tolerating the configured skew.
	Verify(signed string, now time.Time) (Claims, error)

	// Inspect checks the signature only and returns the claims regardless of time.
	// Revoke uses it to learn how long a revocation record must be kept.
	Inspect(signed string) (Claims, error)
}

// NewSigner builds the Signer selected by cfg.Signer.
func NewSigner(cfg Config) (Signer, error) {
	switch cfg.Signer {
	case SignerJWT:
		return NewJWTSigner(cfg)
	case SignerPaseto, "":
		return NewPasetoSigner(cfg)
	default:
		return nil, ErrConfig
	}
}
