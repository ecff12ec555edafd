// Package notify persists notifications and hands them to live delivery.
//
// Create is persist-then-fan-out: a notification is durable before any channel sees it, and a
// subject with no live channels still gets a successful Create.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"workline/cmd/identity/ids"
	"workline/cmd/internal/metrics"
)

const (
	// DefaultRecentLimit is the snapshot size and the default GetRecent bound.
	DefaultRecentLimit = 50
	MaxRecentLimit     = 200

	maxTitleChars   = 200
	maxContentChars = 4000
)

var ErrInvalidInput = errors.New("invalid notification")

// Notification is immutable once stored.
type Notification struct {
	ID        string
	UserID    string
	Title     string
	Content   string
	CreatedAt time.Time
}

// Store is the durable notification log.
type Store interface {
	Insert(ctx context.Context, n Notification) error
	// ListRecent returns at most limit notifications for userID, newest first.
	ListRecent(ctx context.Context, userID string, limit int) ([]Notification, error)
}

// Pusher delivers a stored notification to the subject's live channels and reports how many accepted it.
type Pusher interface {
	FanOut(userID string, n Notification) int
}

// Dispatcher is the entry point collaborators use to notify users.
type Dispatcher struct {
	log     *slog.Logger
	store   Store
	pusher  Pusher
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Dispatcher)

func WithMetrics(m *metrics.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDispatcher builds a Dispatcher. A nil pusher persists without live delivery.
func NewDispatcher(log *slog.Logger, store Store, pusher Pusher, opts ...Option) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		log:    log,
		store:  store,
		pusher: pusher,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Create persists a notification for userID, then fans it out.
// Persistence failure is returned and nothing is pushed.
func (d *Dispatcher) Create(ctx context.Context, userID, title, content string) (Notification, error) {
	userID = strings.TrimSpace(userID)
	title = strings.TrimSpace(title)

	switch {
	case userID == "":
		return Notification{}, fmt.Errorf("%w: missing user_id", ErrInvalidInput)
	case title == "":
		return Notification{}, fmt.Errorf("%w: missing title", ErrInvalidInput)
	case utf8.RuneCountInString(title) > maxTitleChars:
		return Notification{}, fmt.Errorf("%w: title too long", ErrInvalidInput)
	case utf8.RuneCountInString(content) > maxContentChars:
		return Notification{}, fmt.Errorf("%w: content too long", ErrInvalidInput)
	}

	now := d.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return Notification{}, err
	}
	n := Notification{
		ID:        id,
		UserID:    userID,
		Title:     title,
		Content:   content,
		CreatedAt: now,
	}

	if err := d.store.Insert(ctx, n); err != nil {
		d.log.Error("notify.create.fail", "user_id", userID, "err", err)
		return Notification{}, fmt.Errorf("notify: persist: %w", err)
	}
	d.metrics.NotificationCreated()

	delivered := d.FanOut(userID, n)
	d.log.Debug("notify.create.ok", "user_id", userID, "notification_id", n.ID, "delivered", delivered)
	return n, nil
}

// FanOut pushes n to userID's live channels. It never fails; per-channel problems stay with that channel.
func (d *Dispatcher) FanOut(userID string, n Notification) int {
	if d.pusher == nil {
		return 0
	}
	return d.pusher.FanOut(userID, n)
}

// GetRecent returns userID's newest notifications, bounded by limit (DefaultRecentLimit when <= 0).
func (d *Dispatcher) GetRecent(ctx context.Context, userID string, limit int) ([]Notification, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidInput)
	}
	return d.store.ListRecent(ctx, userID, ClampLimit(limit))
}

// ClampLimit maps limit into [1, MaxRecentLimit], defaulting to DefaultRecentLimit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultRecentLimit
	case limit > MaxRecentLimit:
		return MaxRecentLimit
	default:
		return limit
	}
}
