// Package main is a CI-friendly smoke test for the workline push channel.
//
// It validates:
//   - signup and bearer issuance over HTTP
//   - handshake + subprotocol selection
//   - snapshot on connect for two channels of the same identity
//   - live fan-out of a created notification to both channels
//   - logout revocation: a reconnect with the old credential is refused with 401
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "workline/contracts/realtime/v1"
)

const maxReadBytes = 1 << 20

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:8080", "HTTP base URL of the server")
		origin  = flag.String("origin", "http://localhost", "Origin header for the WebSocket handshake")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	base := strings.TrimRight(*baseURL, "/")
	root := context.Background()

	email := fmt.Sprintf("smoke-%d@example.com", time.Now().UnixNano())
	token, userID := mustSignup(root, base, email, *timeout)
	if *verbose {
		fmt.Printf("signed up: user=%s\n", userID)
	}

	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/ws/notifications?token=" + url.QueryEscape(token)

	a := mustConnect(root, "A", wsURL, *origin, *timeout)
	defer func() { _ = a.Close(websocket.StatusNormalClosure, "bye") }()
	b := mustConnect(root, "B", wsURL, *origin, *timeout)
	defer func() { _ = b.Close(websocket.StatusNormalClosure, "bye") }()

	for name, c := range map[string]*websocket.Conn{"A": a, "B": b} {
		env := mustRead(root, c, *timeout)
		if env.Type != v1.TypeNotifications {
			fatalf("%s: first frame type=%q want=%q", name, env.Type, v1.TypeNotifications)
		}
	}

	title := fmt.Sprintf("smoke %d", time.Now().UnixNano())
	mustPostJSON(root, base+"/notifications", token, map[string]string{"title": title, "content": "ping"}, http.StatusCreated, *timeout)

	for name, c := range map[string]*websocket.Conn{"A": a, "B": b} {
		env := mustRead(root, c, *timeout)
		if env.Type != v1.TypeNotification {
			fatalf("%s: live frame type=%q want=%q", name, env.Type, v1.TypeNotification)
		}
		var n v1.Notification
		if err := env.Decode(&n); err != nil {
			fatalf("%s: decode notification: %v", name, err)
		}
		if n.Title != title || n.UserID != userID {
			fatalf("%s: unexpected notification %+v", name, n)
		}
	}

	mustPostJSON(root, base+"/auth/logout", token, nil, http.StatusNoContent, *timeout)
	mustRefused(root, wsURL, *origin, *timeout)

	fmt.Printf("OK: user=%s channels=2 title=%q\n", userID, title)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustSignup(parent context.Context, base, email string, stepTimeout time.Duration) (token, userID string) {
	body := mustPostJSON(parent, base+"/auth/signup", "", map[string]string{
		"email":    email,
		"password": "Smoke-Test-Password-42!",
	}, http.StatusCreated, stepTimeout)

	var out struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
		Session struct {
			Token string `json:"token"`
		} `json:"session"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		fatalf("decode signup response: %v", err)
	}
	if out.Session.Token == "" || out.User.ID == "" {
		fatalf("signup response missing token or user id")
	}
	return out.Session.Token, out.User.ID
}

func mustPostJSON(parent context.Context, target, bearer string, body any, want int, stepTimeout time.Duration) []byte {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	var rd io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fatalf("marshal %s: %v", target, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, rd)
	if err != nil {
		fatalf("request %s: %v", target, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("POST %s: %v", target, err)
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if resp.StatusCode != want {
		fatalf("POST %s: status=%d want=%d body=%s", target, resp.StatusCode, want, out)
	}
	return out
}

func dialOptions(origin string) *websocket.DialOptions {
	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	return &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	}
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, wsURL, dialOptions(origin))
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("connect %s: subprotocol=%q want=%q", name, got, v1.Subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustRefused(parent context.Context, wsURL, origin string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, wsURL, dialOptions(origin))
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil {
		_ = conn.CloseNow()
		fatalf("revoked credential was accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		fatalf("revoked credential: want 401, got resp=%v err=%v", resp, err)
	}
}

func mustRead(parent context.Context, c *websocket.Conn, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	_, data, err := c.Read(ctx)
	if err != nil {
		fatalf("read: %v", err)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		fatalf("bad json: %v", err)
	}
	if err := env.Validate(); err != nil {
		fatalf("bad envelope: %v", err)
	}
	return env
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
