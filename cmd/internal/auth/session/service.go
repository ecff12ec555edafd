package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"workline/cmd/internal/metrics"
	"workline/cmd/security/token"
)

// maxCredentialLen bounds the raw bearer value before any lookup.
const maxCredentialLen = 8 << 10

// SubjectChecker is the read-only identity lookup used by Verify.
type SubjectChecker interface {
	Exists(ctx context.Context, subjectID string) (bool, error)
}

// Service is the session verifier, issuer and revoker.
type Service struct {
	cfg      Config
	codec    *token.Codec
	signer   Signer
	revoked  RevocationStore
	subjects SubjectChecker
	fpKey    []byte

	now     func() time.Time
	metrics *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Issued is a freshly minted credential.
type Issued struct {
	Credential string
	ExpiresAt  time.Time
}

// NewService validates cfg and builds the codec. A nil signer is built from cfg.
func NewService(cfg Config, signer Signer, revoked RevocationStore, subjects SubjectChecker, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if revoked == nil || subjects == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrConfig)
	}

	codec := token.NewCodecFromHex(cfg.EncryptionKeyHex)
	if err := codec.Ready(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	if signer == nil {
		var err error
		if signer, err = NewSigner(cfg); err != nil {
			return nil, err
		}
	}

	s := &Service{
		cfg:      cfg,
		codec:    codec,
		signer:   signer,
		revoked:  revoked,
		subjects: subjects,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if cfg.FingerprintKey != "" {
		s.fpKey = []byte(cfg.FingerprintKey)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// BearerToken extracts the credential from an Authorization value ("Bearer <token>").
// The scheme is matched case-insensitively; the token must be a single non-empty field.
func BearerToken(header string) (string, bool) {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok := strings.TrimSpace(rest)
	if tok == "" || strings.ContainsAny(tok, " \t\r\n") || len(tok) > maxCredentialLen {
		return "", false
	}
	return tok, true
}

// Issue mints a credential for subjectID valid for cfg.TokenTTL.
func (s *Service) Issue(ctx context.Context, subjectID string) (Issued, error) {
	if err := ctx.Err(); err != nil {
		return Issued{}, err
	}
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return Issued{}, errors.New("session: empty subject")
	}

	now := s.now().Truncate(time.Second)
	c := Claims{
		SubjectID: subjectID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.TokenTTL),
		Issuer:    s.cfg.Issuer,
	}

	signed, err := s.signer.Sign(c)
	if err != nil {
		return Issued{}, err
	}
	cred, err := s.codec.Encrypt([]byte(signed))
	if err != nil {
		return Issued{}, err
	}
	return Issued{Credential: cred, ExpiresAt: c.ExpiresAt}, nil
}

// Verify validates an Authorization value and returns its claims.
// It performs no writes; the only side effects are the revocation and subject lookups.
func (s *Service) Verify(ctx context.Context, header string) (Claims, error) {
	c, err := s.verify(ctx, header)
	s.metrics.Verified(verifyResult(err))
	return c, err
}

func (s *Service) verify(ctx context.Context, header string) (Claims, error) {
	raw, ok := BearerToken(header)
	if !ok {
		return Claims{}, ErrMissingSession
	}

	revoked, err := s.revoked.IsRevoked(ctx, s.fingerprint(raw))
	if err != nil {
		return Claims{}, fmt.Errorf("session: revocation lookup: %w", err)
	}
	if revoked {
		return Claims{}, ErrSessionExpired
	}

	signed, err := s.codec.Decrypt(raw)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}

	c, err := s.signer.Verify(string(signed), s.now())
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}

	exists, err := s.subjects.Exists(ctx, c.SubjectID)
	if err != nil {
		return Claims{}, fmt.Errorf("session: subject lookup: %w", err)
	}
	if !exists {
		return Claims{}, ErrSubjectNotFound
	}
	return c, nil
}

// Revoke permanently invalidates the credential in an Authorization value.
// It accepts any bearer value, including undecryptable ones; revoking twice is a no-op.
func (s *Service) Revoke(ctx context.Context, header string) error {
	raw, ok := BearerToken(header)
	if !ok {
		return ErrMissingSession
	}

	now := s.now()
	err := s.revoked.Revoke(ctx, Revocation{
		Fingerprint: s.fingerprint(raw),
		ExpiresAt:   s.revocationExpiry(raw, now),
		RevokedAt:   now,
	})
	if err != nil {
		return fmt.Errorf("session: revoke: %w", err)
	}
	s.metrics.Revoked()
	return nil
}

// revocationExpiry is the credential's signed expiry when readable, else now + fallback TTL.
func (s *Service) revocationExpiry(raw string, now time.Time) time.Time {
	fallback := now.Add(s.cfg.RevocationFallbackTTL)

	signed, err := s.codec.Decrypt(raw)
	if err != nil {
		return fallback
	}
	c, err := s.signer.Inspect(string(signed))
	if err != nil || c.ExpiresAt.IsZero() {
		return fallback
	}
	return c.ExpiresAt
}

// PruneExpired drops revocation records for credentials that expired (plus clock skew) before cutoff.
// A pruned credential still fails Verify, as ErrInvalidSession instead of ErrSessionExpired.
func (s *Service) PruneExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.revoked.PruneExpired(ctx, cutoff.Add(-s.cfg.ClockSkew))
	if err != nil {
		return 0, fmt.Errorf("session: prune: %w", err)
	}
	s.metrics.Pruned(n)
	return n, nil
}

func (s *Service) fingerprint(raw string) string {
	return token.Fingerprint(raw, s.fpKey)
}

// Now is the service clock.
func (s *Service) Now() time.Time { return s.now() }

func verifyResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMissingSession):
		return "missing_session"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrInvalidSession):
		return "invalid_session"
	case errors.Is(err, ErrSubjectNotFound):
		return "subject_not_found"
	default:
		return "error"
	}
}

// Code maps a verifier error to its stable client-facing code ("" for non-session errors).
func Code(err error) string {
	switch r := verifyResult(err); r {
	case "ok", "error":
		return ""
	default:
		return r
	}
}
