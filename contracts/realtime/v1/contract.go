// Package v1 defines the workline push protocol v1: the server-to-client envelopes sent over the
// notifications WebSocket. Clients negotiate it with the Subprotocol value.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	Version     = 1
	Subprotocol = "workline.push.v1"

	// TypeNotifications carries the connect-time snapshot: []Notification, most recent first.
	TypeNotifications = "notifications"
	// TypeNotification carries one new Notification.
	TypeNotification = "notification"
	TypeError        = "error"
)

var AllowedTypes = map[string]struct{}{
	TypeNotifications: {},
	TypeNotification:  {},
	TypeError:         {},
}

type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%d want=%d", e.V, Version)
	}
	if _, ok := AllowedTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported type: %q", e.Type)
	}
	if e.ID == "" {
		return errors.New("missing id")
	}
	if e.TS.IsZero() {
		return errors.New("missing ts")
	}
	if len(e.Payload) == 0 {
		return errors.New("missing payload")
	}
	return nil
}

// Notification is the wire form of a stored notification.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// New builds an envelope around payload.
func New(typ, id string, ts time.Time, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{V: Version, Type: typ, ID: id, TS: ts.UTC(), Payload: b}, nil
}

// Decode unmarshals the payload into dst.
func (e Envelope) Decode(dst any) error {
	return json.Unmarshal(e.Payload, dst)
}
