package authapi

import (
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"
)

type lockoutTier struct {
	Threshold int
	Duration  time.Duration
}

// loginThrottle tracks failed logins per client IP and per account in memory.
type loginThrottle struct {
	ipMax    int
	ipWindow time.Duration
	tiers    []lockoutTier
	keep     time.Duration

	mu        sync.Mutex
	byIP      map[string][]time.Time
	byAccount map[string][]time.Time
}

func newLoginThrottle(cfg Config) *loginThrottle {
	keep := cfg.LoginIPWindow
	for _, t := range cfg.lockoutTiers() {
		keep = max(keep, t.Duration)
	}
	return &loginThrottle{
		ipMax:     cfg.LoginIPMax,
		ipWindow:  cfg.LoginIPWindow,
		tiers:     cfg.lockoutTiers(),
		keep:      keep,
		byIP:      make(map[string][]time.Time),
		byAccount: make(map[string][]time.Time),
	}
}

// blocked reports whether a login from ip for account must be refused, and for how long.
func (l *loginThrottle) blocked(ip, account string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ip != "" {
		if ok, retry := evaluateWindowThrottle(now, l.byIP[ip], l.ipMax, l.ipWindow); ok {
			return true, retry
		}
	}
	if account != "" {
		return evaluateProgressiveLockout(now, l.byAccount[account], l.tiers)
	}
	return false, 0
}

func (l *loginThrottle) fail(ip, account string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ip != "" {
		l.byIP[ip] = l.prune(append(l.byIP[ip], now), now)
	}
	if account != "" {
		l.byAccount[account] = l.prune(append(l.byAccount[account], now), now)
	}
}

// succeed clears the account's failure history.
func (l *loginThrottle) succeed(account string) {
	l.mu.Lock()
	delete(l.byAccount, account)
	l.mu.Unlock()
}

func (l *loginThrottle) prune(ts []time.Time, now time.Time) []time.Time {
	cut := now.Add(-l.keep)
	return slices.DeleteFunc(ts, func(t time.Time) bool { return !t.After(cut) })
}

// evaluateWindowThrottle blocks once max failures fall inside the trailing window.
// retry is the time until the oldest of them leaves the window.
func evaluateWindowThrottle(now time.Time, failures []time.Time, max int, window time.Duration) (bool, time.Duration) {
	if max <= 0 || window <= 0 {
		return false, 0
	}
	cut := now.Add(-window)
	var (
		count  int
		oldest time.Time
	)
	for _, t := range failures {
		if !t.After(cut) {
			continue
		}
		count++
		if oldest.IsZero() || t.Before(oldest) {
			oldest = t
		}
	}
	if count < max {
		return false, 0
	}
	return true, oldest.Add(window).Sub(now)
}

// evaluateProgressiveLockout applies the first tier (most severe first) whose threshold is met by
// failures within Duration of the latest one. The lockout runs Duration from the latest failure.
func evaluateProgressiveLockout(now time.Time, failures []time.Time, tiers []lockoutTier) (bool, time.Duration) {
	if len(failures) == 0 {
		return false, 0
	}
	latest := slices.MaxFunc(failures, func(a, b time.Time) int { return a.Compare(b) })

	for _, tier := range tiers {
		if tier.Threshold <= 0 || tier.Duration <= 0 {
			continue
		}
		until := latest.Add(tier.Duration)
		if !until.After(now) {
			continue
		}
		from := latest.Add(-tier.Duration)
		count := 0
		for _, t := range failures {
			if !t.Before(from) {
				count++
			}
		}
		if count >= tier.Threshold {
			return true, until.Sub(now)
		}
	}
	return false, 0
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
