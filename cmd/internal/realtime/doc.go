// Package realtime delivers notifications to live WebSocket channels.
//
// A Registry maps verified identities to their open channels; the Gateway owns the transport side
// of each channel. Fan-out never blocks: a channel that cannot keep up is closed.
package realtime
