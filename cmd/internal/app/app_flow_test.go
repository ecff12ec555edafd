package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aidanwoods.dev/go-paseto"
	"github.com/coder/websocket"

	"workline/cmd/internal/auth/session"
	v1 "workline/contracts/realtime/v1"
)

func newTestApp(t *testing.T) (*App, *httptest.Server) {
	t.Helper()

	t.Setenv("WORKLINE_TOKEN_ENCRYPTION_KEY_HEX", strings.Repeat("ab", 32))
	t.Setenv("WORKLINE_PASETO_V4_SECRET_KEY_HEX", paseto.NewV4AsymmetricSecretKey().ExportHex())
	t.Setenv("WORKLINE_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("WORKLINE_ARGON2_ITERATIONS", "1")

	cfg := Config{
		HTTPAddr:            "127.0.0.1:0",
		DBSchema:            "workline",
		MetricsEnabled:      true,
		WelcomeNotification: true,
		AuthMaxBodyBytes:    1 << 20,
		AuthLoginIPMax:      20,
		AuthLoginIPWindow:   5 * time.Minute,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := New(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return a, srv
}

func postJSON(t *testing.T, url, bearer string, body any) (int, []byte) {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

func readEnvelope(t *testing.T, conn *websocket.Conn) v1.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("ws read: %v", err)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestApp_SignupSnapshotAndLivePush(t *testing.T) {
	_, srv := newTestApp(t)

	status, body := postJSON(t, srv.URL+"/auth/signup", "", map[string]string{
		"email":    "ada@example.com",
		"password": "Very-Strong-Password-1!",
	})
	if status != http.StatusCreated {
		t.Fatalf("signup status=%d body=%s", status, body)
	}
	var signup struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
		Session struct {
			Token string `json:"token"`
		} `json:"session"`
	}
	if err := json.Unmarshal(body, &signup); err != nil {
		t.Fatalf("decode signup: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/notifications?token=" + signup.Session.Token
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{Subprotocols: []string{v1.Subprotocol}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer conn.CloseNow()

	snap := readEnvelope(t, conn)
	if snap.Type != v1.TypeNotifications {
		t.Fatalf("first frame type=%q", snap.Type)
	}
	var items []v1.Notification
	if err := snap.Decode(&items); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(items) != 1 || items[0].UserID != signup.User.ID {
		t.Fatalf("expected the welcome notification in the snapshot, got %+v", items)
	}

	status, body = postJSON(t, srv.URL+"/notifications", signup.Session.Token, map[string]string{
		"title":   "Interview",
		"content": "Tomorrow 10:00",
	})
	if status != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", status, body)
	}

	live := readEnvelope(t, conn)
	if live.Type != v1.TypeNotification {
		t.Fatalf("live frame type=%q", live.Type)
	}
	var n v1.Notification
	if err := live.Decode(&n); err != nil {
		t.Fatalf("decode live: %v", err)
	}
	if n.Title != "Interview" || n.UserID != signup.User.ID {
		t.Fatalf("unexpected live notification: %+v", n)
	}
}

func TestApp_HealthReadyMetrics(t *testing.T) {
	_, srv := newTestApp(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status=%d", path, resp.StatusCode)
		}
		if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
			t.Fatalf("GET %s missing security headers", path)
		}
	}
}

func TestApp_ReadinessRequiresDB(t *testing.T) {
	a, _ := newTestApp(t)
	a.cfg.ReadinessRequireDB = true

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a database, got %d", rr.Code)
	}
}

func TestValidateSecurityConfig(t *testing.T) {
	t.Parallel()

	cfg := Config{RequireTokenHMAC: true}
	cases := []struct {
		key     string
		wantErr bool
	}{
		{key: "", wantErr: true},
		{key: strings.Repeat("k", 31), wantErr: true},
		{key: strings.Repeat("k", 32), wantErr: false},
	}
	for _, tc := range cases {
		sess := sessionConfigWithKey(tc.key)
		err := ValidateSecurityConfig(cfg, sess)
		if (err != nil) != tc.wantErr {
			t.Fatalf("key len %d: err=%v wantErr=%v", len(tc.key), err, tc.wantErr)
		}
	}

	if err := ValidateSecurityConfig(Config{}, sessionConfigWithKey("")); err != nil {
		t.Fatalf("policy off must accept an empty key: %v", err)
	}
}

func sessionConfigWithKey(key string) session.Config {
	c := session.DefaultConfig()
	c.FingerprintKey = key
	return c
}
