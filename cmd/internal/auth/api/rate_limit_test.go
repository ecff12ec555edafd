package authapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEvaluateWindowThrottle(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

	failures := []time.Time{
		now.Add(-1 * time.Minute),
		now.Add(-2 * time.Minute),
		now.Add(-6 * time.Minute),
	}

	blocked, retry := evaluateWindowThrottle(now, failures, 2, 5*time.Minute)
	require.True(t, blocked, "window throttle should block")
	require.Equal(t, 3*time.Minute, retry)

	blocked, retry = evaluateWindowThrottle(now, failures, 3, 5*time.Minute)
	require.False(t, blocked, "window throttle should allow")
	require.Zero(t, retry)
}

func TestEvaluateProgressiveLockout_ShortTier(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	failures := []time.Time{
		now.Add(-30 * time.Second),
		now.Add(-1 * time.Minute),
		now.Add(-2 * time.Minute),
		now.Add(-3 * time.Minute),
		now.Add(-4 * time.Minute),
	}

	blocked, retry := evaluateProgressiveLockout(now, failures, []lockoutTier{
		{Threshold: 20, Duration: 2 * time.Hour},
		{Threshold: 10, Duration: 30 * time.Minute},
		{Threshold: 5, Duration: 5 * time.Minute},
	})
	require.True(t, blocked, "short tier should lock")
	require.Equal(t, 4*time.Minute+30*time.Second, retry)
}

func TestEvaluateProgressiveLockout_ClearsAfterDuration(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	failures := []time.Time{
		now.Add(-6 * time.Minute),
		now.Add(-7 * time.Minute),
		now.Add(-8 * time.Minute),
		now.Add(-9 * time.Minute),
		now.Add(-10 * time.Minute),
	}

	blocked, retry := evaluateProgressiveLockout(now, failures, []lockoutTier{
		{Threshold: 5, Duration: 5 * time.Minute},
	})
	require.False(t, blocked, "lockout should clear, retry=%v", retry)
	require.Zero(t, retry)
}

func TestEvaluateProgressiveLockout_SevereTierWins(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	failures := make([]time.Time, 0, 20)
	for i := 0; i < 20; i++ {
		failures = append(failures, now.Add(-time.Duration(i+1)*time.Minute))
	}

	blocked, retry := evaluateProgressiveLockout(now, failures, []lockoutTier{
		{Threshold: 20, Duration: 2 * time.Hour},
		{Threshold: 10, Duration: 30 * time.Minute},
		{Threshold: 5, Duration: 5 * time.Minute},
	})
	require.True(t, blocked, "severe tier should lock")
	require.Equal(t, failures[0].Add(2*time.Hour).Sub(now), retry)
}

func TestLoginThrottle_IPWindowAndAccountReset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LoginIPMax = 3
	cfg.LoginIPWindow = time.Minute
	cfg.LockoutShortThreshold = 2
	cfg.LockoutShortDuration = 10 * time.Minute
	l := newLoginThrottle(cfg)

	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

	l.fail("10.0.0.1", "a@example.com", now)
	blocked, _ := l.blocked("10.0.0.1", "a@example.com", now)
	require.False(t, blocked, "one failure must not block")

	l.fail("10.0.0.1", "a@example.com", now)
	blocked, retry := l.blocked("10.0.0.9", "a@example.com", now)
	require.True(t, blocked, "account lockout applies from any IP")
	require.Equal(t, 10*time.Minute, retry)

	l.succeed("a@example.com")
	blocked, _ = l.blocked("10.0.0.9", "a@example.com", now)
	require.False(t, blocked, "success must clear the account history")

	l.fail("10.0.0.1", "b@example.com", now)
	blocked, retry = l.blocked("10.0.0.1", "c@example.com", now.Add(10*time.Second))
	require.True(t, blocked, "IP throttle should block")
	require.Equal(t, 50*time.Second, retry)

	blocked, _ = l.blocked("10.0.0.1", "c@example.com", now.Add(2*time.Minute))
	require.False(t, blocked, "IP window must expire")
}
