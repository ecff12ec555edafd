package realtime

import (
	"sync"
	"time"

	"workline/cmd/internal/notify"
	v1 "workline/contracts/realtime/v1"
)

// State is the lifecycle of a Channel: Connecting -> Open -> Closed.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Channel is one live push connection.
//
// The send queue is bounded and never closed by the server, so concurrent fan-out cannot panic.
// Done is closed exactly once when the channel reaches StateClosed; the transport watches it.
type Channel struct {
	id   string
	send chan v1.Envelope
	done chan struct{}

	mu        sync.Mutex
	state     State
	subject   string
	reason    string
	buffering bool
	pending   []notify.Notification
}

// NewChannel returns a Connecting channel with a send queue of queueSize envelopes.
func NewChannel(queueSize int) *Channel {
	if queueSize <= 0 {
		queueSize = defaultSendQueueSize
	}
	return &Channel{
		id:   newChannelID(),
		send: make(chan v1.Envelope, queueSize),
		done: make(chan struct{}),
	}
}

func (c *Channel) ID() string { return c.id }

// Send is the outbound queue drained by the transport writer.
func (c *Channel) Send() <-chan v1.Envelope { return c.send }

func (c *Channel) Done() <-chan struct{} { return c.done }

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subject is the verified identity, empty until the channel is Open.
func (c *Channel) Subject() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subject
}

// CloseReason is the reason given to the first Close call.
func (c *Channel) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Close moves the channel to Closed (idempotent). It does not touch the Registry.
func (c *Channel) Close(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked(reason)
}

func (c *Channel) closeLocked(reason string) {
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	c.reason = reason
	c.pending = nil
	close(c.done)
}

// open marks the channel Open for subject and starts buffering live notifications until the
// snapshot is flushed. It fails if the channel was closed meanwhile.
func (c *Channel) open(subject string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting {
		return false
	}
	c.state = StateOpen
	c.subject = subject
	c.buffering = true
	return true
}

// deliver queues n for the client. It returns false only when the queue overflowed;
// a closed channel silently drops.
func (c *Channel) deliver(n notify.Notification, now time.Time) (queued, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.state != StateOpen:
		return false, true
	case c.buffering:
		if len(c.pending) >= cap(c.send) {
			return false, false
		}
		c.pending = append(c.pending, n)
		return true, true
	}

	env, err := notificationEnvelope(n, now)
	if err != nil {
		return false, true
	}
	select {
	case c.send <- env:
		return true, true
	default:
		return false, false
	}
}

// flushSnapshot queues the snapshot, then every buffered notification not already in it, in
// arrival order. It returns false when the queue overflowed.
func (c *Channel) flushSnapshot(snapshot []notify.Notification, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen {
		return true
	}

	env, err := snapshotEnvelope(snapshot, now)
	if err != nil || !c.enqueueLocked(env) {
		return false
	}

	seen := make(map[string]struct{}, len(snapshot))
	for _, n := range snapshot {
		seen[n.ID] = struct{}{}
	}
	for _, n := range c.pending {
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		env, err := notificationEnvelope(n, now)
		if err != nil {
			continue
		}
		if !c.enqueueLocked(env) {
			return false
		}
	}

	c.pending = nil
	c.buffering = false
	return true
}

func (c *Channel) enqueueLocked(env v1.Envelope) bool {
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

func toWire(n notify.Notification) v1.Notification {
	return v1.Notification{
		ID:        n.ID,
		UserID:    n.UserID,
		Title:     n.Title,
		Content:   n.Content,
		CreatedAt: n.CreatedAt.UTC(),
	}
}

func notificationEnvelope(n notify.Notification, now time.Time) (v1.Envelope, error) {
	return v1.New(v1.TypeNotification, newEnvelopeID(now), now, toWire(n))
}

func snapshotEnvelope(ns []notify.Notification, now time.Time) (v1.Envelope, error) {
	wire := make([]v1.Notification, 0, len(ns))
	for _, n := range ns {
		wire = append(wire, toWire(n))
	}
	return v1.New(v1.TypeNotifications, newEnvelopeID(now), now, wire)
}
