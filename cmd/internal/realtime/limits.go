package realtime

import "time"

const (
	// SnapshotLimit is the number of recent notifications pushed on connect.
	SnapshotLimit = 50

	defaultSendQueueSize = 64
	minSendQueueSize     = 8

	// Inbound frames are not part of the push protocol; anything larger than a control frame is refused.
	maxFrameBytes = 4 << 10
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
	maxPingFailures   = 3

	defaultWriteTimeout = 5 * time.Second
	closeGrace          = 1 * time.Second

	// Per remote IP handshake limits.
	connectRateEvents = 30
	connectRateWindow = time.Minute
)

// Close reasons recorded on a Channel.
const (
	ReasonRejected     = "rejected"
	ReasonSlowConsumer = "slow consumer"
	ReasonPeerClosed   = "peer closed"
	ReasonWriteFailed  = "write failed"
	ReasonHeartbeat    = "heartbeat failed"
	ReasonSubjectGone  = "subject removed"
	ReasonShutdown     = "server shutdown"
	ReasonBacklog      = "backlog unavailable"
)
