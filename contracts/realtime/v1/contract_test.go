package v1

import (
	"testing"
	"time"
)

func TestEnvelope_Validate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	good, err := New(TypeNotification, "01J00000000000000000000000", now, Notification{ID: "n1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	var n Notification
	if err := good.Decode(&n); err != nil || n.ID != "n1" {
		t.Fatalf("Decode: n=%+v err=%v", n, err)
	}

	bad := []Envelope{
		{V: 2, Type: TypeNotification, ID: "x", TS: now, Payload: []byte(`{}`)},
		{V: 1, Type: "message.new", ID: "x", TS: now, Payload: []byte(`{}`)},
		{V: 1, Type: TypeNotification, TS: now, Payload: []byte(`{}`)},
		{V: 1, Type: TypeNotification, ID: "x", Payload: []byte(`{}`)},
		{V: 1, Type: TypeNotification, ID: "x", TS: now},
	}
	for i, e := range bad {
		if err := e.Validate(); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
