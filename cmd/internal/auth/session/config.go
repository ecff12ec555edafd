package session

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"
)

// Signer kinds.
const (
	SignerPaseto = "paseto"
	SignerJWT    = "jwt"
)

// Config is the runtime configuration of the session subsystem.
type Config struct {
	// Issuer is set on every credential and required on verify.
	Issuer string

	// TokenTTL is the lifetime embedded in issued credentials.
	TokenTTL time.Duration

	// ClockSkew is tolerated on both nbf and exp during verification.
	ClockSkew time.Duration

	// Signer selects the claims signature: SignerPaseto or SignerJWT.
	Signer string

	PasetoV4SecretKeyHex string
	JWTSecret            string

	// EncryptionKeyHex is the 32-byte codec key, hex encoded.
	EncryptionKeyHex string

	// FingerprintKey keys revoked-credential fingerprints. Empty falls back to plain SHA-256.
	FingerprintKey string

	// RevocationFallbackTTL bounds a revocation record whose credential expiry cannot be read.
	RevocationFallbackTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		Issuer:                "workline",
		TokenTTL:              24 * time.Hour,
		ClockSkew:             30 * time.Second,
		Signer:                SignerPaseto,
		RevocationFallbackTTL: 7 * 24 * time.Hour,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - WORKLINE_TOKEN_ENCRYPTION_KEY_HEX (64 hex chars)
//   - WORKLINE_PASETO_V4_SECRET_KEY_HEX when the signer is paseto
//   - WORKLINE_JWT_SECRET (>= 32 bytes) when the signer is jwt
//
// Optional:
//   - WORKLINE_AUTH_ISSUER
//   - WORKLINE_AUTH_TOKEN_TTL
//   - WORKLINE_AUTH_CLOCK_SKEW
//   - WORKLINE_AUTH_SIGNER (paseto|jwt)
//   - WORKLINE_TOKEN_HMAC_KEY
//   - WORKLINE_AUTH_REVOCATION_FALLBACK_TTL
//
// Returns an error wrapping ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("WORKLINE_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	durations := []struct {
		key       string
		dst       *time.Duration
		allowZero bool
	}{
		{"WORKLINE_AUTH_TOKEN_TTL", &cfg.TokenTTL, false},
		{"WORKLINE_AUTH_CLOCK_SKEW", &cfg.ClockSkew, true},
		{"WORKLINE_AUTH_REVOCATION_FALLBACK_TTL", &cfg.RevocationFallbackTTL, false},
	}
	for _, d := range durations {
		v := strings.TrimSpace(os.Getenv(d.key))
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < 0 || (parsed == 0 && !d.allowZero) {
			return Config{}, fmt.Errorf("%w: %s", ErrConfig, d.key)
		}
		*d.dst = parsed
	}

	if v := strings.TrimSpace(os.Getenv("WORKLINE_AUTH_SIGNER")); v != "" {
		cfg.Signer = strings.ToLower(v)
	}
	cfg.PasetoV4SecretKeyHex = strings.TrimSpace(os.Getenv("WORKLINE_PASETO_V4_SECRET_KEY_HEX"))
	cfg.JWTSecret = os.Getenv("WORKLINE_JWT_SECRET")
	cfg.EncryptionKeyHex = strings.TrimSpace(os.Getenv("WORKLINE_TOKEN_ENCRYPTION_KEY_HEX"))
	cfg.FingerprintKey = os.Getenv("WORKLINE_TOKEN_HMAC_KEY")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return fmt.Errorf("%w: empty issuer", ErrConfig)
	}
	if c.TokenTTL <= 0 || c.RevocationFallbackTTL <= 0 || c.ClockSkew < 0 {
		return fmt.Errorf("%w: durations", ErrConfig)
	}
	if c.ClockSkew >= c.TokenTTL {
		return fmt.Errorf("%w: clock skew must be below token ttl", ErrConfig)
	}

	key, err := hex.DecodeString(c.EncryptionKeyHex)
	if err != nil || len(key) != 32 {
		return fmt.Errorf("%w: WORKLINE_TOKEN_ENCRYPTION_KEY_HEX must be 32 bytes of hex", ErrConfig)
	}

	switch c.Signer {
	case SignerPaseto:
		if c.PasetoV4SecretKeyHex == "" {
			return fmt.Errorf("%w: WORKLINE_PASETO_V4_SECRET_KEY_HEX is required", ErrConfig)
		}
	case SignerJWT:
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("%w: WORKLINE_JWT_SECRET must be at least 32 bytes", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown signer %q", ErrConfig, c.Signer)
	}
	return nil
}
