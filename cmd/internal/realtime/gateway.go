package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"workline/cmd/internal/auth/session"
	v1 "workline/contracts/realtime/v1"
)

// GatewayConfig holds the push endpoint policy. Zero values fall back to defaults.
type GatewayConfig struct {
	// OriginRequired rejects handshakes without an Origin header.
	OriginRequired bool
	AllowedOrigins []string
	// DevInsecure disables websocket.Accept's own origin verification. Dev only.
	DevInsecure bool

	WriteTimeout     time.Duration
	SendQueueSize    int
	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	ConnectRateEvents int
	ConnectRateWindow time.Duration
}

func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:    true,
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
		WriteTimeout:      defaultWriteTimeout,
		SendQueueSize:     defaultSendQueueSize,
		HeartbeatEvery:    heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		ConnectRateEvents: connectRateEvents,
		ConnectRateWindow: connectRateWindow,
	}
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	d := DefaultGatewayConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.SendQueueSize < minSendQueueSize {
		c.SendQueueSize = minSendQueueSize
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = d.HeartbeatEvery
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.ConnectRateEvents <= 0 {
		c.ConnectRateEvents = d.ConnectRateEvents
	}
	if c.ConnectRateWindow <= 0 {
		c.ConnectRateWindow = d.ConnectRateWindow
	}
	return c
}

// Gateway is the notifications WebSocket endpoint.
//
// The credential is verified and the channel registered before the upgrade, so a rejected client
// gets a plain HTTP 401 and never holds a socket. After the upgrade the connection is push-only.
type Gateway struct {
	log      *slog.Logger
	registry *Registry
	cfg      GatewayConfig

	// Derived for websocket.Accept: cross-origin requests need host patterns.
	originPatterns []string
	limiter        *ConnectLimiter
	now            func() time.Time
}

func NewGateway(log *slog.Logger, registry *Registry, cfg GatewayConfig) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Gateway{
		log:            log,
		registry:       registry,
		cfg:            cfg,
		originPatterns: deriveOriginPatterns(cfg.AllowedOrigins),
		limiter:        NewConnectLimiter(cfg.ConnectRateEvents, cfg.ConnectRateWindow),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		writeReject(w, http.StatusForbidden, "forbidden_origin", "origin not allowed")
		return
	}

	if !g.limiter.Allow(remoteIP(r), g.now()) {
		g.log.Info("ws.reject.rate", "remote", r.RemoteAddr)
		writeReject(w, http.StatusTooManyRequests, "rate_limited", "too many connection attempts")
		return
	}

	ch := NewChannel(g.cfg.SendQueueSize)

	if _, err := g.registry.OnConnect(r.Context(), ch, credentialFromRequest(r)); err != nil {
		if code := session.Code(err); code != "" {
			writeReject(w, http.StatusUnauthorized, code, rejectMessage(code))
			return
		}
		g.log.Error("ws.connect.fail", "channel_id", ch.ID(), "err", err)
		writeReject(w, http.StatusServiceUnavailable, "unavailable", "try again later")
		return
	}

	// The http.Server read/write timeouts would otherwise cut the long-lived socket.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "channel_id", ch.ID(), "err", err)
		g.registry.drop(ch, ReasonRejected)
		return
	}

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		g.registry.drop(ch, ReasonRejected)
		_ = conn.Close(websocket.StatusPolicyViolation, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)
	g.serve(conn, ch)
}

// serve pumps the channel queue to the socket until the channel closes or the peer goes away.
func (g *Gateway) serve(conn *websocket.Conn, ch *Channel) {
	// Push-only: CloseRead answers control frames and cancels ctx when the peer closes.
	ctx := conn.CloseRead(context.Background())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(reason string) {
		closeOnce.Do(func() {
			ch.Close(reason)
			g.registry.OnDisconnect(ch)

			final := ch.CloseReason()
			switch final {
			case ReasonPeerClosed, ReasonWriteFailed:
				_ = conn.CloseNow()
			default:
				_ = conn.Close(closeStatus(final), final)
			}
			cancel()
		})
	}

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, ch, shutdown)
	}()

	for {
		select {
		case <-ctx.Done():
			shutdown(ReasonPeerClosed)
		case <-ch.Done():
			shutdown(ch.CloseReason())
		case env := <-ch.Send():
			if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
				g.log.Info("ws.write.fail", "channel_id", ch.ID(), "close_status", websocket.CloseStatus(err), "err", err)
				shutdown(ReasonWriteFailed)
			}
		}
		if ch.State() == StateClosed {
			break
		}
	}
	shutdown(ch.CloseReason())

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

func (g *Gateway) heartbeat(ctx context.Context, conn *websocket.Conn, ch *Channel, shutdown func(string)) {
	t := time.NewTicker(g.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				g.log.Info("ws.ping.fail", "channel_id", ch.ID(), "failures", failures, "err", err)
				if failures >= maxPingFailures {
					shutdown(ReasonHeartbeat)
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func closeStatus(reason string) websocket.StatusCode {
	switch reason {
	case ReasonSlowConsumer:
		return websocket.StatusTryAgainLater
	case ReasonSubjectGone, ReasonRejected:
		return websocket.StatusPolicyViolation
	case ReasonShutdown, ReasonHeartbeat:
		return websocket.StatusGoingAway
	case ReasonBacklog:
		return websocket.StatusInternalError
	default:
		return websocket.StatusNormalClosure
	}
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// credentialFromRequest accepts ?token= (raw or "Bearer "-prefixed) and falls back to the Authorization header.
func credentialFromRequest(r *http.Request) string {
	if tok := strings.TrimSpace(r.URL.Query().Get("token")); tok != "" {
		if _, ok := session.BearerToken(tok); ok {
			return tok
		}
		return "Bearer " + tok
	}
	return r.Header.Get("Authorization")
}

func rejectMessage(code string) string {
	switch code {
	case "missing_session":
		return "authentication required"
	case "session_expired":
		return "session expired"
	case "subject_not_found":
		return "account not found"
	default:
		return "invalid session"
	}
}

func writeReject(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": msg},
	})
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)
	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case a == "*", origin == a:
			return nil
		case originHost != "" && originHost == originHostOnly(a):
			return nil
		}
	}
	return errors.New("origin not allowed: " + origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = strings.TrimSpace(u.Host)
		if s == "" {
			return ""
		}
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatterns keeps websocket.Accept's host-pattern check in line with the allowlist.
func deriveOriginPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" {
			continue
		}
		// Accept matches against the origin's host:port.
		seen[h] = struct{}{}
		seen[h+":*"] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
