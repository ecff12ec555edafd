package app

import (
	"errors"

	"workline/cmd/internal/auth/session"
)

const minTokenHMACKeyBytes = 32

// ValidateSecurityConfig enforces the startup security policy. Revoked credentials are stored as
// fingerprints; with WORKLINE_REQUIRE_TOKEN_HMAC those fingerprints must be keyed.
func ValidateSecurityConfig(cfg Config, sessCfg session.Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	// Measured in bytes: the key is used raw.
	switch n := len(sessCfg.FingerprintKey); {
	case n == 0:
		return errors.New("security policy: WORKLINE_REQUIRE_TOKEN_HMAC=true but WORKLINE_TOKEN_HMAC_KEY is missing")
	case n < minTokenHMACKeyBytes:
		return errors.New("security policy: WORKLINE_REQUIRE_TOKEN_HMAC=true but WORKLINE_TOKEN_HMAC_KEY is too short (min 32 bytes)")
	}
	return nil
}
