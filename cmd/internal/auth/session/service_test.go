package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/stretchr/testify/require"

	"workline/cmd/security/token"
)

const testEncKeyHex = "8f3c1d2e4b5a69788796a5b4c3d2e1f00112233445566778899aabbccddeeff0"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type subjectSet struct {
	mu  sync.Mutex
	ids map[string]bool
	err error
}

func (s *subjectSet) Exists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids[id], s.err
}

func (s *subjectSet) remove(id string) {
	s.mu.Lock()
	delete(s.ids, id)
	s.mu.Unlock()
}

type fixture struct {
	svc      *Service
	clock    *testClock
	revoked  *MemoryRevocationStore
	subjects *subjectSet
	cfg      Config
}

func testConfig(signer string) Config {
	cfg := DefaultConfig()
	cfg.Signer = signer
	cfg.EncryptionKeyHex = testEncKeyHex
	cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	cfg.JWTSecret = strings.Repeat("s", 40)
	cfg.FingerprintKey = "fingerprint-key"
	cfg.TokenTTL = time.Hour
	cfg.ClockSkew = 30 * time.Second
	return cfg
}

func newFixture(t *testing.T, signer string) *fixture {
	t.Helper()

	f := &fixture{
		clock:    &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		revoked:  NewMemoryRevocationStore(),
		subjects: &subjectSet{ids: map[string]bool{"u1": true, "u2": true}},
		cfg:      testConfig(signer),
	}
	svc, err := NewService(f.cfg, nil, f.revoked, f.subjects, WithClock(f.clock.Now))
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) issue(t *testing.T, subject string) string {
	t.Helper()
	iss, err := f.svc.Issue(context.Background(), subject)
	require.NoError(t, err)
	return "Bearer " + iss.Credential
}

func TestService_IssueVerify(t *testing.T) {
	for _, signer := range []string{SignerPaseto, SignerJWT} {
		t.Run(signer, func(t *testing.T) {
			f := newFixture(t, signer)
			ctx := context.Background()

			iss, err := f.svc.Issue(ctx, "u1")
			require.NoError(t, err)
			require.Equal(t, f.clock.Now().Add(time.Hour), iss.ExpiresAt)

			c, err := f.svc.Verify(ctx, "Bearer "+iss.Credential)
			require.NoError(t, err)
			require.Equal(t, "u1", c.SubjectID)
			require.Equal(t, "workline", c.Issuer)
			require.True(t, c.ExpiresAt.Equal(iss.ExpiresAt))
			require.True(t, c.IssuedAt.Equal(f.clock.Now()))

			// scheme is case-insensitive
			_, err = f.svc.Verify(ctx, "bearer "+iss.Credential)
			require.NoError(t, err)
		})
	}
}

func TestService_Verify_MissingSession(t *testing.T) {
	f := newFixture(t, SignerPaseto)

	for _, h := range []string{"", "Bearer", "Bearer ", "Basic abc", "Token abc", "abc", "Bearer a b"} {
		_, err := f.svc.Verify(context.Background(), h)
		require.ErrorIs(t, err, ErrMissingSession, "header %q", h)
	}
}

func TestService_RevokeThenVerify(t *testing.T) {
	f := newFixture(t, SignerPaseto)
	ctx := context.Background()
	h := f.issue(t, "u1")

	_, err := f.svc.Verify(ctx, h)
	require.NoError(t, err)

	require.NoError(t, f.svc.Revoke(ctx, h))
	require.NoError(t, f.svc.Revoke(ctx, h))
	require.Equal(t, 1, f.revoked.Len())

	_, err = f.svc.Verify(ctx, h)
	require.ErrorIs(t, err, ErrSessionExpired)

	// Other credentials of the same subject are unaffected.
	_, err = f.svc.Verify(ctx, f.issue(t, "u1"))
	require.NoError(t, err)
}

func TestService_RevokedRegardlessOfRemainingTTL(t *testing.T) {
	f := newFixture(t, SignerJWT)
	ctx := context.Background()
	t1 := f.issue(t, "u1")

	f.clock.Advance(time.Minute)
	require.NoError(t, f.svc.Revoke(ctx, t1))

	_, err := f.svc.Verify(ctx, t1)
	require.ErrorIs(t, err, ErrSessionExpired)
	require.NotErrorIs(t, err, ErrInvalidSession)
}

func TestService_RevokedGarbageRejectedBeforeDecrypt(t *testing.T) {
	f := newFixture(t, SignerPaseto)
	ctx := context.Background()

	require.NoError(t, f.svc.Revoke(ctx, "Bearer not-even-ciphertext"))

	_, err := f.svc.Verify(ctx, "Bearer not-even-ciphertext")
	require.ErrorIs(t, err, ErrSessionExpired)

	// Unreadable credentials are kept for the fallback TTL.
	f.clock.Advance(f.cfg.RevocationFallbackTTL - time.Hour)
	n, err := f.svc.PruneExpired(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Zero(t, n)

	f.clock.Advance(2 * time.Hour)
	n, err = f.svc.PruneExpired(ctx, f.clock.Now())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestService_Verify_Tampered(t *testing.T) {
	f := newFixture(t, SignerPaseto)
	h := f.issue(t, "u1")

	raw := strings.TrimPrefix(h, "Bearer ")
	i := len(raw) / 2
	swap := byte('A')
	if raw[i] == 'A' {
		swap = 'B'
	}
	tampered := raw[:i] + string(swap) + raw[i+1:]

	_, err := f.svc.Verify(context.Background(), "Bearer "+tampered)
	require.ErrorIs(t, err, ErrInvalidSession)
	require.ErrorIs(t, err, token.ErrDecryption)
	require.NotErrorIs(t, err, ErrInvalidSignature)
}

func TestService_Verify_ForeignSignature(t *testing.T) {
	f := newFixture(t, SignerPaseto)

	// Same codec key, different signing key.
	other := f.cfg
	other.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	foreign, err := NewService(other, nil, NewMemoryRevocationStore(), f.subjects, WithClock(f.clock.Now))
	require.NoError(t, err)

	iss, err := foreign.Issue(context.Background(), "u1")
	require.NoError(t, err)

	_, err = f.svc.Verify(context.Background(), "Bearer "+iss.Credential)
	require.ErrorIs(t, err, ErrInvalidSession)
	require.ErrorIs(t, err, ErrInvalidSignature)
	require.NotErrorIs(t, err, token.ErrDecryption)
}

func TestService_Verify_WrongIssuer(t *testing.T) {
	for _, signer := range []string{SignerPaseto, SignerJWT} {
		t.Run(signer, func(t *testing.T) {
			f := newFixture(t, signer)

			// Same keys, different issuer.
			other := f.cfg
			other.Issuer = "someone-else"
			foreign, err := NewService(other, nil, NewMemoryRevocationStore(), f.subjects, WithClock(f.clock.Now))
			require.NoError(t, err)

			iss, err := foreign.Issue(context.Background(), "u1")
			require.NoError(t, err)

			_, err = f.svc.Verify(context.Background(), "Bearer "+iss.Credential)
			require.ErrorIs(t, err, ErrInvalidSession)
		})
	}
}

func TestService_Verify_Expiry(t *testing.T) {
	for _, signer := range []string{SignerPaseto, SignerJWT} {
		t.Run(signer, func(t *testing.T) {
			f := newFixture(t, signer)
			ctx := context.Background()
			h := f.issue(t, "u1")

			// Inside the skew window past expiry.
			f.clock.Advance(time.Hour + 10*time.Second)
			_, err := f.svc.Verify(ctx, h)
			require.NoError(t, err)

			f.clock.Advance(time.Minute)
			_, err = f.svc.Verify(ctx, h)
			require.ErrorIs(t, err, ErrInvalidSession)
			require.ErrorIs(t, err, ErrCredentialExpired)
		})
	}
}

func TestService_Verify_SubjectNotFound(t *testing.T) {
	f := newFixture(t, SignerPaseto)
	h := f.issue(t, "u2")

	f.subjects.remove("u2")

	_, err := f.svc.Verify(context.Background(), h)
	require.ErrorIs(t, err, ErrSubjectNotFound)
}

func TestService_Verify_LookupFailuresAreNotSessionErrors(t *testing.T) {
	f := newFixture(t, SignerPaseto)
	h := f.issue(t, "u1")

	boom := errors.New("db down")
	f.subjects.err = boom

	_, err := f.svc.Verify(context.Background(), h)
	require.ErrorIs(t, err, boom)
	require.Empty(t, Code(err))
}

func TestService_PruneExpired(t *testing.T) {
	f := newFixture(t, SignerPaseto)
	ctx := context.Background()
	h := f.issue(t, "u1")

	require.NoError(t, f.svc.Revoke(ctx, h))

	n, err := f.svc.PruneExpired(ctx, f.clock.Now().Add(30*time.Minute))
	require.NoError(t, err)
	require.Zero(t, n)

	f.clock.Advance(time.Hour + 2*f.cfg.ClockSkew)
	n, err = f.svc.PruneExpired(ctx, f.clock.Now())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.Zero(t, f.revoked.Len())

	// The credential itself is expired by now, so it still cannot be used.
	_, err = f.svc.Verify(ctx, h)
	require.ErrorIs(t, err, ErrInvalidSession)
}

func TestService_RunPruner(t *testing.T) {
	f := newFixture(t, SignerPaseto)
	h := f.issue(t, "u1")
	require.NoError(t, f.svc.Revoke(context.Background(), h))
	f.clock.Advance(2 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.RunPruner(ctx, 5*time.Millisecond, nil)
		close(done)
	}()

	require.Eventually(t, func() bool { return f.revoked.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Bearer abc", "abc", true},
		{"  BEARER   abc  ", "abc", true},
		{"Bearer", "", false},
		{"Bearerabc", "", false},
		{"Basic abc", "", false},
		{"Bearer a\tb", "", false},
		{"Bearer " + strings.Repeat("x", maxCredentialLen+1), "", false},
	}
	for _, tc := range cases {
		got, ok := BearerToken(tc.in)
		require.Equal(t, tc.ok, ok, "in %.30q", tc.in)
		require.Equal(t, tc.want, got)
	}
}

func TestCode(t *testing.T) {
	require.Equal(t, "missing_session", Code(ErrMissingSession))
	require.Equal(t, "session_expired", Code(ErrSessionExpired))
	require.Equal(t, "invalid_session", Code(errors.Join(ErrInvalidSession, token.ErrDecryption)))
	require.Equal(t, "subject_not_found", Code(ErrSubjectNotFound))
	require.Equal(t, "", Code(nil))
}
