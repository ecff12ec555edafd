package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogHandler_JSONDefault(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newLogHandler(&buf, "info", ""))
	log.Info("ws.connect.ok", "user_id", "u1")
	log.Debug("hidden")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected one json record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "ws.connect.ok" || rec["user_id"] != "u1" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestPrettyHandler_PlainOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, false))
	log.WithGroup("req").Warn("http.request", "status", 404, "path", "/me x", slog.Group("peer", "ip", "10.0.0.1"))

	got := buf.String()
	for _, want := range []string{"lvl=[WARN]", "msg=http.request", "req.peer.ip=10.0.0.1", "req.status=404", `req.path="/me x"`} {
		if !strings.Contains(got, want) {
			t.Fatalf("output %q missing %q", got, want)
		}
	}
	if strings.Contains(got, "\x1b[") {
		t.Fatalf("plain output must not contain ANSI codes: %q", got)
	}
}

func TestPrettyHandler_ColorStrips(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true))
	log.Error("notify.create.fail", "status", 503)

	raw := buf.String()
	if !strings.Contains(raw, ansiRed) {
		t.Fatalf("expected colored output, got %q", raw)
	}
	plain := stripANSI(raw)
	if !strings.Contains(plain, "lvl=[ERROR]") || !strings.Contains(plain, "status=503") {
		t.Fatalf("unexpected stripped output: %q", plain)
	}
}
