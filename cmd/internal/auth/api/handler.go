// Package authapi is the HTTP surface for accounts, sessions and notifications.
package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"workline/cmd/identity"
	"workline/cmd/internal/auth/session"
	"workline/cmd/internal/notify"
	"workline/cmd/security/password"
)

// ChannelCloser drops the live push channels of a subject.
type ChannelCloser interface {
	DisconnectSubject(userID string) int
}

// Handler wires HTTP endpoints to the identity, session and notification services.
type Handler struct {
	log      *slog.Logger
	auditLog *slog.Logger
	cfg      Config

	users     identity.Store
	sessions  *session.Service
	passwords password.Config
	notes     *notify.Dispatcher
	channels  ChannelCloser
	onDeleted func(ctx context.Context, userID string)

	throttle  *loginThrottle
	now       func() time.Time
	dummyHash string
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithChannels closes a deleted account's live push channels.
func WithChannels(c ChannelCloser) HandlerOption {
	return func(h *Handler) { h.channels = c }
}

// WithAccountDeletedHook runs after an account row is deleted (e.g. purging non-cascading stores).
func WithAccountDeletedHook(fn func(ctx context.Context, userID string)) HandlerOption {
	return func(h *Handler) { h.onDeleted = fn }
}

// WithAuditLogger sends audit events to l instead of the main logger.
func WithAuditLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.auditLog = l
		}
	}
}

func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs a Handler. users, sessions and notes are required.
func NewHandler(log *slog.Logger, cfg Config, users identity.Store, sessions *session.Service, passwords password.Config, notes *notify.Dispatcher, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	switch {
	case users == nil:
		return nil, errors.New("authapi: nil identity store")
	case sessions == nil:
		return nil, errors.New("authapi: nil session service")
	case notes == nil:
		return nil, errors.New("authapi: nil notification dispatcher")
	}

	cfg = cfg.normalized()
	h := &Handler{
		log:       log,
		auditLog:  log,
		cfg:       cfg,
		users:     users,
		sessions:  sessions,
		passwords: passwords,
		notes:     notes,
		throttle:  newLoginThrottle(cfg),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	// Dummy hash for timing-resistant login checks.
	if hash, err := passwords.Hash("dummy-password-for-timing-only"); err == nil {
		h.dummyHash = hash
	}
	return h, nil
}

// Register wires the routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/signup", h.handleSignup)
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/account", h.handleDeleteAccount)
	mux.HandleFunc("/me", h.handleMe)
	mux.HandleFunc("/notifications", h.handleNotifications)
}

// ---- handlers ----

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req signupRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if !identity.ValidEmail(strings.TrimSpace(req.Email)) {
		writeError(w, http.StatusBadRequest, "invalid_request", "a valid email is required")
		return
	}
	if err := h.passwords.Validate(req.Password); err != nil {
		writePasswordError(w, err)
		return
	}

	ctx := r.Context()
	hash, err := h.passwords.Hash(req.Password)
	if err != nil {
		h.log.Error("auth.signup.hash.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	user, err := h.users.Create(ctx, identity.CreateUserInput{
		Email:        req.Email,
		PasswordHash: hash,
		DisplayName:  req.DisplayName,
		Now:          h.now(),
	})
	if err != nil {
		switch {
		case identity.IsConflict(err):
			writeError(w, http.StatusConflict, "email_taken", "email already registered")
		case identity.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid signup request")
		default:
			h.log.Error("auth.signup.create.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	issued, err := h.sessions.Issue(ctx, user.ID)
	if err != nil {
		h.log.Error("auth.signup.issue.fail", "user_id", user.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditSignup(ctx, user.ID, clientIP(r, h.cfg.TrustProxy), r.UserAgent())

	if h.cfg.WelcomeTitle != "" {
		if _, err := h.notes.Create(ctx, user.ID, h.cfg.WelcomeTitle, h.cfg.WelcomeContent); err != nil {
			h.log.Warn("auth.signup.welcome.fail", "user_id", user.ID, "err", err)
		}
	}

	writeJSON(w, http.StatusCreated, authResponse{
		User:    toUserResponse(user),
		Session: toSessionResponse(issued),
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	email := identity.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	now := h.now()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := r.UserAgent()

	if blocked, retryAfter := h.throttle.blocked(ipKey(ip), email, now); blocked {
		h.auditLoginRateLimited(ctx, ip, ua)
		writeRateLimited(w, retryAfter)
		return
	}

	userAuth, err := h.users.GetAuthByEmail(ctx, email)
	if err != nil {
		if !identity.IsNotFound(err) {
			h.log.Error("auth.login.lookup.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		// Timing resistance: perform a dummy verify when user is missing.
		if h.dummyHash != "" {
			_, _ = h.passwords.Verify(h.dummyHash, req.Password)
		}
		h.throttle.fail(ipKey(ip), email, now)
		h.auditLoginFailed(ctx, "", ip, ua, "not_found")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	ok, err := h.passwords.Verify(userAuth.PasswordHash, req.Password)
	if err != nil || !ok {
		h.throttle.fail(ipKey(ip), email, now)
		h.auditLoginFailed(ctx, userAuth.ID, ip, ua, "bad_password")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	issued, err := h.sessions.Issue(ctx, userAuth.ID)
	if err != nil {
		h.log.Error("auth.login.issue.fail", "user_id", userAuth.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.throttle.succeed(email)
	h.auditLoginSuccess(ctx, userAuth.ID, ip, ua)

	writeJSON(w, http.StatusOK, authResponse{
		User:    toUserResponse(userAuth.User),
		Session: toSessionResponse(issued),
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if err := h.sessions.Revoke(ctx, r.Header.Get("Authorization")); err != nil {
		h.log.Error("auth.logout.fail", "user_id", claims.SubjectID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditLogout(ctx, claims.SubjectID, clientIP(r, h.cfg.TrustProxy), r.UserAgent())
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteAccount requires the password again, revokes the presented credential, deletes the
// account and closes its live channels.
func (h *Handler) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req deleteAccountRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	userID := claims.SubjectID

	user, err := h.users.Get(ctx, userID)
	if err != nil {
		h.writeLookupError(w, "auth.account.lookup.fail", err)
		return
	}
	userAuth, err := h.users.GetAuthByEmail(ctx, user.Email)
	if err != nil {
		h.writeLookupError(w, "auth.account.lookup.fail", err)
		return
	}
	if ok, err := h.passwords.Verify(userAuth.PasswordHash, req.Password); err != nil || !ok {
		writeError(w, http.StatusForbidden, "invalid_credentials", "password confirmation failed")
		return
	}

	// Delete before revoking: a failed delete leaves the account and its credential usable.
	if err := h.users.Delete(ctx, userID); err != nil && !identity.IsNotFound(err) {
		h.log.Error("auth.account.delete.fail", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	// Once the subject is gone every credential fails with subject_not_found; the revocation only
	// turns the presented one into session_expired, so a failure here is logged, not surfaced.
	if err := h.sessions.Revoke(ctx, r.Header.Get("Authorization")); err != nil {
		h.log.Warn("auth.account.revoke.fail", "user_id", userID, "err", err)
	}

	closed := 0
	if h.channels != nil {
		closed = h.channels.DisconnectSubject(userID)
	}
	if h.onDeleted != nil {
		h.onDeleted(ctx, userID)
	}

	h.auditAccountDeleted(ctx, userID, clientIP(r, h.cfg.TrustProxy), r.UserAgent(), closed)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	u, err := h.users.Get(r.Context(), claims.SubjectID)
	if err != nil {
		h.writeLookupError(w, "auth.me.fail", err)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u), ExpiresAt: claims.ExpiresAt})
}

func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleListNotifications(w, r)
	case http.MethodPost:
		h.handleCreateNotification(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}

	ns, err := h.notes.GetRecent(r.Context(), claims.SubjectID, limit)
	if err != nil {
		h.log.Error("notify.list.fail", "user_id", claims.SubjectID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	out := notificationsResponse{Notifications: make([]notificationResponse, 0, len(ns))}
	for _, n := range ns {
		out.Notifications = append(out.Notifications, toNotificationResponse(n))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCreateNotification creates a notification for user_id (the caller when omitted).
func (h *Handler) handleCreateNotification(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req createNotificationRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	target := strings.TrimSpace(req.UserID)
	if target == "" {
		target = claims.SubjectID
	}
	if target != claims.SubjectID {
		exists, err := h.users.Exists(ctx, target)
		if err != nil {
			h.log.Error("notify.create.lookup.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		if !exists {
			writeError(w, http.StatusNotFound, "user_not_found", "recipient not found")
			return
		}
	}

	n, err := h.notes.Create(ctx, target, req.Title, req.Content)
	if err != nil {
		if errors.Is(err, notify.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, toNotificationResponse(n))
}

// ---- helpers ----

// requireAuth verifies the Authorization header. On failure it writes a 401 carrying the
// verifier's error code and returns false.
func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.Claims, bool) {
	claims, err := h.sessions.Verify(r.Context(), r.Header.Get("Authorization"))
	if err == nil {
		return claims, true
	}

	code := session.Code(err)
	if code == "" {
		if errors.Is(err, context.Canceled) {
			return session.Claims{}, false
		}
		h.log.Error("auth.verify.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return session.Claims{}, false
	}

	w.Header().Set("WWW-Authenticate", `Bearer realm="workline"`)
	writeError(w, http.StatusUnauthorized, code, sessionErrorMessage(code))
	return session.Claims{}, false
}

func (h *Handler) writeLookupError(w http.ResponseWriter, event string, err error) {
	if identity.IsNotFound(err) {
		writeError(w, http.StatusUnauthorized, "subject_not_found", sessionErrorMessage("subject_not_found"))
		return
	}
	h.log.Error(event, "err", err)
	writeError(w, http.StatusInternalServerError, "server_error", "internal error")
}

func writePasswordError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, password.ErrPasswordTooShort):
		writeError(w, http.StatusBadRequest, "password_too_short", "password too short")
	case errors.Is(err, password.ErrPasswordTooLong):
		writeError(w, http.StatusBadRequest, "password_too_long", "password too long")
	case errors.Is(err, password.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "weak_password", "password too weak")
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid password")
	}
}
