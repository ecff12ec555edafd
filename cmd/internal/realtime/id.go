package realtime

import (
	"time"

	"github.com/google/uuid"

	"workline/cmd/identity/ids"
)

// newChannelID returns a random UUID for a live channel. Channel ids never leave the process.
func newChannelID() string {
	return uuid.NewString()
}

// newEnvelopeID returns a ULID so envelope ids sort by send time in logs.
func newEnvelopeID(now time.Time) string {
	id, err := ids.NewULID(now)
	if err != nil {
		return uuid.NewString()
	}
	return id
}
