package realtime

import "time"

// LinkState is the lifecycle state of the managed connection.
type LinkState uint8

const (
	// StateDisconnected means no connection exists and none is wanted.
	StateDisconnected LinkState = iota
	// StateConnecting means the first dial of a connect cycle is in flight.
	StateConnecting
	// StateConnected means a live connection is established and subscribed.
	StateConnected
	// StateReconnecting means the connection was lost or refused and the
	// client is waiting out a backoff before the next dial.
	StateReconnecting
	// StateFailed means the client gave up: the attempt budget ran out or
	// the server rejected the credential. A new Connect leaves this state.
	StateFailed
)

var linkStateNames = [...]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateReconnecting: "reconnecting",
	StateFailed:       "failed",
}

func (s LinkState) String() string {
	if int(s) < len(linkStateNames) {
		return linkStateNames[s]
	}
	return "unknown"
}

// canEnter reports whether moving from s to next is a legal transition.
// A lost connection always passes through StateReconnecting; it never
// jumps straight back to StateConnected or StateConnecting.
func (s LinkState) canEnter(next LinkState) bool {
	switch s {
	case StateDisconnected:
		return next == StateConnecting
	case StateConnecting:
		return next == StateConnected || next == StateReconnecting ||
			next == StateFailed || next == StateDisconnected
	case StateConnected:
		return next == StateReconnecting || next == StateDisconnected ||
			next == StateFailed
	case StateReconnecting:
		return next == StateConnected || next == StateFailed ||
			next == StateDisconnected
	case StateFailed:
		return next == StateConnecting || next == StateDisconnected
	default:
		return false
	}
}

// StateChange describes one link-state transition.
type StateChange struct {
	// From is the state being left.
	From LinkState
	// To is the state being entered.
	To LinkState
	// Reason is the error that caused the transition, nil for clean ones.
	Reason error
	// Attempt is the reconnect attempt counter at the time of the change.
	Attempt int
}

// CloseCode is a WebSocket close code.
type CloseCode int

const (
	// CloseNormal indicates a normal closure.
	CloseNormal CloseCode = 1000
	// CloseGoingAway indicates the peer is going away.
	CloseGoingAway CloseCode = 1001
	// CloseAuthExpired is the application code a server uses to close a
	// connection whose credential is no longer valid.
	CloseAuthExpired CloseCode = 4401
)

// OverflowPolicy defines queue behavior when full.
type OverflowPolicy uint8

const (
	// OverflowBlock blocks until space is available.
	OverflowBlock OverflowPolicy = iota
	// OverflowDropNewest drops the incoming item if the queue is full.
	OverflowDropNewest
	// OverflowDropOldest drops the oldest item to make room.
	OverflowDropOldest
)

// Frame is one inbound payload routed to a topic consumer.
type Frame struct {
	// Topic is the routed topic name.
	Topic string
	// Payload is the raw frame body. Consumers share the same backing
	// slice and must treat it as read-only.
	Payload []byte
	// Received is when the read pump pulled the frame off the wire.
	Received time.Time
}

// Stats is a snapshot of client counters.
type Stats struct {
	// FramesIn counts inbound frames routed to consumers.
	FramesIn uint64
	// FramesDropped counts inbound frames rejected by the topic decoder.
	FramesDropped uint64
	// FramesOut counts payloads written to the socket.
	FramesOut uint64
	// Reconnects counts completed dials after the first.
	Reconnects uint64
}
