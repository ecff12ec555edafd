package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"workline/cmd/internal/auth/session"
	"workline/cmd/internal/metrics"
	"workline/cmd/internal/notify"
)

// ErrChannelClosed is returned by OnConnect when the channel closed while its credential was being verified.
var ErrChannelClosed = errors.New("channel closed during connect")

// Verifier validates the credential presented by a connecting channel.
type Verifier interface {
	Verify(ctx context.Context, header string) (session.Claims, error)
}

// Backlog serves the connect-time snapshot.
type Backlog interface {
	ListRecent(ctx context.Context, userID string, limit int) ([]notify.Notification, error)
}

// Registry maps identities to their live channels.
//
// byIdentity and bySubject are only mutated together under mu, so they always agree.
// Verification and backlog reads happen outside mu; a channel is visible to FanOut only after
// its credential verified.
type Registry struct {
	log      *slog.Logger
	verifier Verifier
	backlog  Backlog
	metrics  *metrics.Metrics
	now      func() time.Time

	mu         sync.RWMutex
	byIdentity map[string]map[string]*Channel
	bySubject  map[string]string // channel id -> subject

	// gen advances on every DisconnectSubject; goneAt records the generation at which a subject was
	// disconnected. A connect whose verification started before that generation is refused.
	gen    uint64
	goneAt map[string]uint64
}

type RegistryOption func(*Registry)

func WithRegistryMetrics(m *metrics.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRegistry(log *slog.Logger, verifier Verifier, backlog Backlog, opts ...RegistryOption) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		log:        log,
		verifier:   verifier,
		backlog:    backlog,
		now:        func() time.Time { return time.Now().UTC() },
		byIdentity: make(map[string]map[string]*Channel),
		bySubject:  make(map[string]string),
		goneAt:     make(map[string]uint64),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// OnConnect verifies header and, on success, registers ch under the verified subject and queues the
// snapshot of its most recent notifications. On any failure ch is Closed and left unregistered.
func (r *Registry) OnConnect(ctx context.Context, ch *Channel, header string) (session.Claims, error) {
	if ch == nil {
		return session.Claims{}, errors.New("realtime: nil channel")
	}

	r.mu.RLock()
	startGen := r.gen
	r.mu.RUnlock()

	claims, err := r.verifier.Verify(ctx, header)
	if err != nil {
		ch.Close(ReasonRejected)
		reason := session.Code(err)
		if reason == "" {
			reason = "verify_error"
		}
		r.metrics.ConnectRejected(reason)
		r.log.Info("ws.connect.reject", "channel_id", ch.ID(), "reason", reason, "err", err)
		return session.Claims{}, err
	}

	subject := claims.SubjectID
	if err := r.register(ch, subject, startGen); err != nil {
		if errors.Is(err, session.ErrSubjectNotFound) {
			r.metrics.ConnectRejected(session.Code(err))
			r.log.Info("ws.connect.reject", "channel_id", ch.ID(), "user_id", subject, "reason", ReasonSubjectGone)
		} else {
			r.metrics.ConnectRejected("closed")
		}
		return session.Claims{}, err
	}

	snapshot, err := r.backlog.ListRecent(ctx, subject, SnapshotLimit)
	if err != nil {
		r.drop(ch, ReasonBacklog)
		r.log.Error("ws.connect.backlog.fail", "channel_id", ch.ID(), "user_id", subject, "err", err)
		return session.Claims{}, fmt.Errorf("realtime: snapshot: %w", err)
	}

	if !ch.flushSnapshot(snapshot, r.now()) {
		r.metrics.SlowConsumer()
		r.drop(ch, ReasonSlowConsumer)
		return session.Claims{}, fmt.Errorf("realtime: snapshot: %s", ReasonSlowConsumer)
	}
	r.metrics.Pushed("snapshot")

	r.log.Info("ws.connect.ok", "channel_id", ch.ID(), "user_id", subject, "snapshot", len(snapshot))
	return claims, nil
}

// register opens ch and indexes it. Lock order is Registry.mu then Channel.mu.
// startGen is the generation observed before verification; if subject was disconnected since, ch is
// closed with ReasonSubjectGone instead.
func (r *Registry) register(ch *Channel, subject string, startGen uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.goneAt[subject] > startGen {
		ch.Close(ReasonSubjectGone)
		return fmt.Errorf("realtime: %w", session.ErrSubjectNotFound)
	}
	if !ch.open(subject) {
		return ErrChannelClosed
	}

	set := r.byIdentity[subject]
	if set == nil {
		set = make(map[string]*Channel)
		r.byIdentity[subject] = set
	}
	set[ch.ID()] = ch
	r.bySubject[ch.ID()] = subject

	r.metrics.ChannelRegistered()
	r.metrics.SetIdentities(len(r.byIdentity))
	return nil
}

// OnDisconnect removes ch from its identity set. Unknown or already removed channels are a no-op.
// It reports whether ch was registered.
func (r *Registry) OnDisconnect(ch *Channel) bool {
	if ch == nil {
		return false
	}

	r.mu.Lock()
	subject, ok := r.bySubject[ch.ID()]
	if ok {
		delete(r.bySubject, ch.ID())
		if set := r.byIdentity[subject]; set != nil {
			delete(set, ch.ID())
			if len(set) == 0 {
				delete(r.byIdentity, subject)
			}
		}
		r.metrics.ChannelUnregistered()
		r.metrics.SetIdentities(len(r.byIdentity))
	}
	r.mu.Unlock()

	if ok {
		r.log.Info("ws.disconnect", "channel_id", ch.ID(), "user_id", subject, "reason", ch.CloseReason())
	}
	return ok
}

// drop unregisters and closes ch.
func (r *Registry) drop(ch *Channel, reason string) {
	ch.Close(reason)
	r.OnDisconnect(ch)
}

// FanOut queues n on every channel registered for userID and returns how many accepted it.
// A channel whose queue is full is closed and unregistered; the others are unaffected.
func (r *Registry) FanOut(userID string, n notify.Notification) int {
	userID = strings.TrimSpace(userID)

	r.mu.RLock()
	set := r.byIdentity[userID]
	targets := make([]*Channel, 0, len(set))
	for _, ch := range set {
		targets = append(targets, ch)
	}
	r.mu.RUnlock()

	if len(targets) == 0 {
		return 0
	}

	now := r.now()
	delivered := 0
	for _, ch := range targets {
		queued, ok := ch.deliver(n, now)
		if !ok {
			r.metrics.SlowConsumer()
			r.log.Warn("ws.push.slow_consumer", "channel_id", ch.ID(), "user_id", userID)
			r.drop(ch, ReasonSlowConsumer)
			continue
		}
		if queued {
			delivered++
			r.metrics.Pushed("notification")
		}
	}
	return delivered
}

// DisconnectSubject closes and unregisters every channel of userID (account deletion). Connects for
// userID still verifying when it runs are refused at registration.
func (r *Registry) DisconnectSubject(userID string) int {
	r.mu.Lock()
	r.gen++
	r.goneAt[userID] = r.gen
	set := r.byIdentity[userID]
	targets := make([]*Channel, 0, len(set))
	for _, ch := range set {
		targets = append(targets, ch)
	}
	r.mu.Unlock()

	for _, ch := range targets {
		r.drop(ch, ReasonSubjectGone)
	}
	return len(targets)
}

// CloseAll closes every registered channel (shutdown) and returns how many it closed.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	targets := make([]*Channel, 0, len(r.bySubject))
	for _, set := range r.byIdentity {
		for _, ch := range set {
			targets = append(targets, ch)
		}
	}
	r.mu.RUnlock()

	for _, ch := range targets {
		r.drop(ch, ReasonShutdown)
	}
	return len(targets)
}

// ChannelIDs returns the ids registered for userID.
func (r *Registry) ChannelIDs(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byIdentity[userID]))
	for id := range r.byIdentity[userID] {
		out = append(out, id)
	}
	return out
}

// SubjectOf returns the identity ch is registered under.
func (r *Registry) SubjectOf(ch *Channel) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.bySubject[ch.ID()]
	return s, ok
}

// Stats returns the number of identities and channels currently registered.
func (r *Registry) Stats() (identities, channels int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity), len(r.bySubject)
}
