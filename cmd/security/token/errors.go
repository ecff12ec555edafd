package token

import (
	"errors"
	"fmt"
)

// Sentinel kinds for errors.Is.
var (
	ErrEncryption = errors.New("token encryption failed")
	ErrDecryption = errors.New("token decryption failed")
)

// EncryptionError reports a failure to seal a payload (missing or malformed key, entropy failure).
type EncryptionError struct {
	Reason string
}

func (e EncryptionError) Error() string {
	if e.Reason == "" {
		return ErrEncryption.Error()
	}
	return fmt.Sprintf("%v: %s", ErrEncryption, e.Reason)
}

func (e EncryptionError) Unwrap() error { return ErrEncryption }

// DecryptionError reports a credential that could not be opened: wrong format, truncated or tampered.
// Reason is safe to log but must not be returned to clients.
type DecryptionError struct {
	Reason string
}

func (e DecryptionError) Error() string {
	if e.Reason == "" {
		return ErrDecryption.Error()
	}
	return fmt.Sprintf("%v: %s", ErrDecryption, e.Reason)
}

func (e DecryptionError) Unwrap() error { return ErrDecryption }
