package authapi

import (
	"context"
	"log/slog"
	"net"
	"strings"
)

// audit records a security event on the audit logger. It never fails the request.
func (h *Handler) audit(ctx context.Context, action, userID string, ip net.IP, ua string, attrs ...slog.Attr) {
	base := []slog.Attr{slog.String("action", action)}
	if userID != "" {
		base = append(base, slog.String("user_id", userID))
	}
	if ip != nil {
		base = append(base, slog.String("ip", ip.String()))
	}
	if ua = strings.TrimSpace(ua); ua != "" {
		if len(ua) > 256 {
			ua = ua[:256]
		}
		base = append(base, slog.String("user_agent", ua))
	}
	h.auditLog.LogAttrs(ctx, slog.LevelInfo, "audit", append(base, attrs...)...)
}

func (h *Handler) auditSignup(ctx context.Context, userID string, ip net.IP, ua string) {
	h.audit(ctx, "auth.signup", userID, ip, ua)
}

func (h *Handler) auditLoginFailed(ctx context.Context, userID string, ip net.IP, ua, reason string) {
	h.audit(ctx, "auth.login.failed", userID, ip, ua, slog.String("reason", reason))
}

func (h *Handler) auditLoginSuccess(ctx context.Context, userID string, ip net.IP, ua string) {
	h.audit(ctx, "auth.login.success", userID, ip, ua)
}

func (h *Handler) auditLoginRateLimited(ctx context.Context, ip net.IP, ua string) {
	h.audit(ctx, "auth.login.rate_limited", "", ip, ua)
}

func (h *Handler) auditLogout(ctx context.Context, userID string, ip net.IP, ua string) {
	h.audit(ctx, "auth.logout", userID, ip, ua)
}

func (h *Handler) auditAccountDeleted(ctx context.Context, userID string, ip net.IP, ua string, channels int) {
	h.audit(ctx, "auth.account.deleted", userID, ip, ua, slog.Int("channels_closed", channels))
}
