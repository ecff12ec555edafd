package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/stretchr/testify/require"

	"workline/cmd/identity"
	"workline/cmd/internal/auth/session"
	"workline/cmd/internal/notify"
	"workline/cmd/internal/realtime"
	"workline/cmd/security/password"
)

const testPassword = "Very-Strong-Password-1!"

type apiFixture struct {
	srv      *httptest.Server
	users    *identity.MemoryStore
	notes    *notify.MemoryStore
	registry *realtime.Registry
	sessions *session.Service

	mu     sync.Mutex
	purged []string
}

func (f *apiFixture) purgedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.purged...)
}

func newAPIFixture(t *testing.T, mutate func(*Config)) *apiFixture {
	t.Helper()
	return newAPIFixtureWithUsers(t, mutate, nil)
}

// newAPIFixtureWithUsers lets a test wrap the identity store handed to the handler.
func newAPIFixtureWithUsers(t *testing.T, mutate func(*Config), wrap func(identity.Store) identity.Store) *apiFixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	scfg := session.DefaultConfig()
	scfg.EncryptionKeyHex = "8f3c1d2e4b5a69788796a5b4c3d2e1f00112233445566778899aabbccddeeff0"
	scfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	scfg.FingerprintKey = "fingerprint-key"

	f := &apiFixture{
		users: identity.NewMemoryStore(),
		notes: notify.NewMemoryStore(),
	}
	sessions, err := session.NewService(scfg, nil, session.NewMemoryRevocationStore(), f.users)
	require.NoError(t, err)
	f.sessions = sessions
	f.registry = realtime.NewRegistry(log, sessions, f.notes)

	pw := password.DefaultConfig()
	pw.Params.MemoryKiB = 8 * 1024
	pw.Params.Iterations = 1

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	var users identity.Store = f.users
	if wrap != nil {
		users = wrap(users)
	}

	dispatcher := notify.NewDispatcher(log, f.notes, f.registry)
	h, err := NewHandler(log, cfg, users, sessions, pw, dispatcher,
		WithChannels(f.registry),
		WithAccountDeletedHook(func(_ context.Context, userID string) {
			f.notes.DeleteUser(userID)
			f.mu.Lock()
			f.purged = append(f.purged, userID)
			f.mu.Unlock()
		}),
	)
	require.NoError(t, err)

	mux := http.NewServeMux()
	h.Register(mux)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, bearer string, body any) (int, []byte) {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func (f *apiFixture) signup(t *testing.T, email string) authResponse {
	t.Helper()
	status, body := f.do(t, http.MethodPost, "/auth/signup", "", signupRequest{Email: email, Password: testPassword})
	require.Equal(t, http.StatusCreated, status, string(body))

	var out authResponse
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var e errorResponse
	require.NoError(t, json.Unmarshal(body, &e), string(body))
	return e.Error.Code
}

func TestSignup_IssuesSessionAndWelcomeNotification(t *testing.T) {
	f := newAPIFixture(t, nil)

	out := f.signup(t, "Ada@Example.com")
	require.NotEmpty(t, out.User.ID)
	require.Equal(t, "Ada@Example.com", out.User.Email)
	require.Equal(t, "Bearer", out.Session.TokenType)
	require.NotEmpty(t, out.Session.Token)
	require.True(t, out.Session.ExpiresAt.After(time.Now()))

	status, body := f.do(t, http.MethodGet, "/notifications", out.Session.Token, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var list notificationsResponse
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Notifications, 1)
	require.Equal(t, DefaultConfig().WelcomeTitle, list.Notifications[0].Title)
	require.Equal(t, out.User.ID, list.Notifications[0].UserID)
}

func TestSignup_Rejections(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.signup(t, "ada@example.com")

	status, body := f.do(t, http.MethodPost, "/auth/signup", "", signupRequest{Email: "ADA@example.com", Password: testPassword})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "email_taken", errorCode(t, body))

	status, body = f.do(t, http.MethodPost, "/auth/signup", "", signupRequest{Email: "bob@example.com", Password: "short"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "password_too_short", errorCode(t, body))

	status, body = f.do(t, http.MethodPost, "/auth/signup", "", signupRequest{Email: "bob@example.com", Password: "password123"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "weak_password", errorCode(t, body))

	status, body = f.do(t, http.MethodPost, "/auth/signup", "", signupRequest{Email: "not-an-email", Password: testPassword})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "invalid_request", errorCode(t, body))

	status, _ = f.do(t, http.MethodGet, "/auth/signup", "", nil)
	require.Equal(t, http.StatusMethodNotAllowed, status)
}

func TestLogin_FailureDoesNotEnumerate(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.signup(t, "ada@example.com")

	statusA, bodyA := f.do(t, http.MethodPost, "/auth/login", "", loginRequest{Email: "nobody@example.com", Password: testPassword})
	statusB, bodyB := f.do(t, http.MethodPost, "/auth/login", "", loginRequest{Email: "ada@example.com", Password: "Wrong-Password-1!"})

	require.Equal(t, http.StatusUnauthorized, statusA)
	require.Equal(t, http.StatusUnauthorized, statusB)
	require.Equal(t, "invalid_credentials", errorCode(t, bodyA))
	require.Equal(t, "invalid_credentials", errorCode(t, bodyB))

	status, body := f.do(t, http.MethodPost, "/auth/login", "", loginRequest{Email: " ADA@example.com ", Password: testPassword})
	require.Equal(t, http.StatusOK, status, string(body))
	var out authResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotEmpty(t, out.Session.Token)
}

func TestLogin_ProgressiveLockout(t *testing.T) {
	f := newAPIFixture(t, func(c *Config) {
		c.LockoutShortThreshold = 2
		c.LockoutShortDuration = time.Minute
	})
	f.signup(t, "ada@example.com")

	for range 2 {
		status, _ := f.do(t, http.MethodPost, "/auth/login", "", loginRequest{Email: "ada@example.com", Password: "Wrong-Password-1!"})
		require.Equal(t, http.StatusUnauthorized, status)
	}

	status, body := f.do(t, http.MethodPost, "/auth/login", "", loginRequest{Email: "ada@example.com", Password: testPassword})
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, "rate_limited", errorCode(t, body))
}

func TestLogoutRevokesCredential(t *testing.T) {
	f := newAPIFixture(t, nil)
	out := f.signup(t, "ada@example.com")
	tok := out.Session.Token

	status, body := f.do(t, http.MethodGet, "/me", tok, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var me meResponse
	require.NoError(t, json.Unmarshal(body, &me))
	require.Equal(t, out.User.ID, me.User.ID)

	status, _ = f.do(t, http.MethodPost, "/auth/logout", tok, nil)
	require.Equal(t, http.StatusNoContent, status)

	status, body = f.do(t, http.MethodGet, "/me", tok, nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "session_expired", errorCode(t, body))

	// Logging out twice reports the revoked credential instead of failing.
	status, body = f.do(t, http.MethodPost, "/auth/logout", tok, nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "session_expired", errorCode(t, body))
}

func TestRequireAuth_Codes(t *testing.T) {
	f := newAPIFixture(t, nil)

	status, body := f.do(t, http.MethodGet, "/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "missing_session", errorCode(t, body))

	status, body = f.do(t, http.MethodGet, "/me", "not-a-credential", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "invalid_session", errorCode(t, body))
}

func TestNotifications_CreateAndList(t *testing.T) {
	f := newAPIFixture(t, func(c *Config) { c.WelcomeTitle = "" })
	ada := f.signup(t, "ada@example.com")
	bob := f.signup(t, "bob@example.com")

	status, body := f.do(t, http.MethodPost, "/notifications", ada.Session.Token, createNotificationRequest{Title: "first", Content: "a"})
	require.Equal(t, http.StatusCreated, status, string(body))

	status, body = f.do(t, http.MethodPost, "/notifications", ada.Session.Token, createNotificationRequest{UserID: bob.User.ID, Title: "hello bob", Content: "b"})
	require.Equal(t, http.StatusCreated, status, string(body))
	var created notificationResponse
	require.NoError(t, json.Unmarshal(body, &created))
	require.Equal(t, bob.User.ID, created.UserID)

	status, body = f.do(t, http.MethodPost, "/notifications", ada.Session.Token, createNotificationRequest{UserID: "01JUNKNOWNUSER000000000000", Title: "x"})
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "user_not_found", errorCode(t, body))

	status, body = f.do(t, http.MethodPost, "/notifications", ada.Session.Token, createNotificationRequest{Title: "  "})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "invalid_request", errorCode(t, body))

	status, _ = f.do(t, http.MethodPost, "/notifications", ada.Session.Token, createNotificationRequest{Title: "second", Content: "c"})
	require.Equal(t, http.StatusCreated, status)

	status, body = f.do(t, http.MethodGet, "/notifications?limit=1", ada.Session.Token, nil)
	require.Equal(t, http.StatusOK, status)
	var list notificationsResponse
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Notifications, 1)
	require.Equal(t, "second", list.Notifications[0].Title)

	status, body = f.do(t, http.MethodGet, "/notifications", bob.Session.Token, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Notifications, 1)
	require.Equal(t, "hello bob", list.Notifications[0].Title)

	status, body = f.do(t, http.MethodGet, "/notifications?limit=zero", ada.Session.Token, nil)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "invalid_request", errorCode(t, body))
}

func TestNotifications_PushedToLiveChannel(t *testing.T) {
	f := newAPIFixture(t, func(c *Config) { c.WelcomeTitle = "" })
	ada := f.signup(t, "ada@example.com")

	ch := realtime.NewChannel(8)
	_, err := f.registry.OnConnect(context.Background(), ch, "Bearer "+ada.Session.Token)
	require.NoError(t, err)
	<-ch.Send() // snapshot

	status, _ := f.do(t, http.MethodPost, "/notifications", ada.Session.Token, createNotificationRequest{Title: "live", Content: "now"})
	require.Equal(t, http.StatusCreated, status)

	select {
	case env := <-ch.Send():
		require.Equal(t, "notification", env.Type)
		require.True(t, strings.Contains(string(env.Payload), `"title":"live"`))
	case <-time.After(time.Second):
		t.Fatal("no push received")
	}
}

func TestDeleteAccount(t *testing.T) {
	f := newAPIFixture(t, nil)
	ada := f.signup(t, "ada@example.com")

	status, body := f.do(t, http.MethodPost, "/auth/login", "", loginRequest{Email: "ada@example.com", Password: testPassword})
	require.Equal(t, http.StatusOK, status)
	var second authResponse
	require.NoError(t, json.Unmarshal(body, &second))

	ch := realtime.NewChannel(8)
	_, err := f.registry.OnConnect(context.Background(), ch, "Bearer "+second.Session.Token)
	require.NoError(t, err)

	status, body = f.do(t, http.MethodDelete, "/auth/account", ada.Session.Token, deleteAccountRequest{Password: "Wrong-Password-1!"})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "invalid_credentials", errorCode(t, body))

	status, _ = f.do(t, http.MethodDelete, "/auth/account", ada.Session.Token, deleteAccountRequest{Password: testPassword})
	require.Equal(t, http.StatusNoContent, status)

	require.Equal(t, realtime.StateClosed, ch.State())
	require.Equal(t, realtime.ReasonSubjectGone, ch.CloseReason())
	require.Equal(t, []string{ada.User.ID}, f.purgedIDs())

	// The presented credential was revoked; the other one now names a missing subject.
	status, body = f.do(t, http.MethodGet, "/me", ada.Session.Token, nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "session_expired", errorCode(t, body))

	status, body = f.do(t, http.MethodGet, "/me", second.Session.Token, nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "subject_not_found", errorCode(t, body))

	status, body = f.do(t, http.MethodPost, "/auth/login", "", loginRequest{Email: "ada@example.com", Password: testPassword})
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "invalid_credentials", errorCode(t, body))
}

type failingDeleteStore struct {
	identity.Store
}

func (failingDeleteStore) Delete(context.Context, string) error {
	return errors.New("delete: connection reset")
}

func TestDeleteAccount_FailedDeleteKeepsCredential(t *testing.T) {
	f := newAPIFixtureWithUsers(t, func(c *Config) { c.WelcomeTitle = "" }, func(s identity.Store) identity.Store {
		return failingDeleteStore{Store: s}
	})
	ada := f.signup(t, "ada@example.com")

	ch := realtime.NewChannel(8)
	_, err := f.registry.OnConnect(context.Background(), ch, "Bearer "+ada.Session.Token)
	require.NoError(t, err)

	status, body := f.do(t, http.MethodDelete, "/auth/account", ada.Session.Token, deleteAccountRequest{Password: testPassword})
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "server_error", errorCode(t, body))

	// Nothing was torn down: the account, its credential and its live channel survive.
	status, _ = f.do(t, http.MethodGet, "/me", ada.Session.Token, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, realtime.StateOpen, ch.State())
	require.Empty(t, f.purgedIDs())
}
