package token

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the required codec key length in bytes.
const KeySize = chacha20poly1305.KeySize

// maxCredentialChars bounds the encoded input accepted by Decrypt.
const maxCredentialChars = 8 << 10

var b64 = base64.RawURLEncoding

// Codec seals and opens session credentials.
//
// A Codec built from a missing or malformed key is still usable as a value: every Encrypt and
// Decrypt call reports the key problem instead of panicking, so misconfiguration surfaces as a
// typed error at the call site.
type Codec struct {
	keyErr string
	aead   cipher.AEAD
}

// NewCodecFromHex builds a Codec from a hex-encoded 32-byte key.
func NewCodecFromHex(keyHex string) *Codec {
	keyHex = strings.TrimSpace(keyHex)
	if keyHex == "" {
		return &Codec{keyErr: "key missing"}
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return &Codec{keyErr: "key is not valid hex"}
	}
	return NewCodec(key)
}

// NewCodec builds a Codec from raw key bytes.
func NewCodec(key []byte) *Codec {
	if len(key) == 0 {
		return &Codec{keyErr: "key missing"}
	}
	if len(key) != KeySize {
		return &Codec{keyErr: "key must be 32 bytes"}
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return &Codec{keyErr: err.Error()}
	}
	return &Codec{aead: aead}
}

// Ready reports whether the codec holds a usable key.
func (c *Codec) Ready() error {
	if c == nil {
		return EncryptionError{Reason: "nil codec"}
	}
	if c.keyErr != "" || c.aead == nil {
		return EncryptionError{Reason: c.keyErr}
	}
	return nil
}

// Encrypt seals payload under a fresh random nonce.
func (c *Codec) Encrypt(payload []byte) (string, error) {
	if err := c.Ready(); err != nil {
		return "", err
	}

	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(payload)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", EncryptionError{Reason: "nonce: " + err.Error()}
	}

	sealed := c.aead.Seal(nonce, nonce, payload, nil)
	return b64.EncodeToString(sealed), nil
}

// Decrypt opens a credential produced by Encrypt.
func (c *Codec) Decrypt(ciphertext string) ([]byte, error) {
	if c == nil || c.keyErr != "" || c.aead == nil {
		reason := "codec not configured"
		if c != nil && c.keyErr != "" {
			reason = c.keyErr
		}
		return nil, DecryptionError{Reason: reason}
	}

	ciphertext = strings.TrimSpace(ciphertext)
	if ciphertext == "" {
		return nil, DecryptionError{Reason: "empty input"}
	}
	if len(ciphertext) > maxCredentialChars {
		return nil, DecryptionError{Reason: "input too large"}
	}

	raw, err := b64.DecodeString(ciphertext)
	if err != nil {
		return nil, DecryptionError{Reason: "bad encoding"}
	}

	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return nil, DecryptionError{Reason: "truncated"}
	}

	out, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, DecryptionError{Reason: "authentication failed"}
	}
	return out, nil
}

// Fingerprint returns the storage identifier for a raw credential value.
// With a non-empty key it is HMAC-SHA256(value, key); otherwise SHA-256(value). Always 64 hex chars.
func Fingerprint(value string, key []byte) string {
	if len(key) == 0 {
		sum := sha256.Sum256([]byte(value))
		return hex.EncodeToString(sum[:])
	}
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(value))
	return hex.EncodeToString(m.Sum(nil))
}
