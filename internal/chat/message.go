package chat

import (
	"time"

	"github.com/yanun0323/decimal"
)

// MessageKind classifies message content.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindFile     MessageKind = "file"
	KindLocation MessageKind = "location"
	KindSystem   MessageKind = "system"
)

// DeliveryState tracks the lifecycle of a message copy.
type DeliveryState uint8

const (
	// MessageUnknown is the zero value; no real message carries it.
	MessageUnknown DeliveryState = iota
	// MessagePending means the message sits in the outbox.
	MessagePending
	// MessageSent means the transport confirmed the write.
	MessageSent
	// MessageDelivered means a receipt confirmed delivery to the peer.
	MessageDelivered
	// MessageRead means a receipt confirmed the peer read it. Terminal.
	MessageRead
	// MessageFailed means sending gave up. Terminal until Retry.
	MessageFailed
)

var deliveryStateNames = [...]string{
	MessageUnknown:   "unknown",
	MessagePending:   "pending",
	MessageSent:      "sent",
	MessageDelivered: "delivered",
	MessageRead:      "read",
	MessageFailed:    "failed",
}

func (s DeliveryState) String() string {
	if int(s) < len(deliveryStateNames) {
		return deliveryStateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transition may leave s. Failed is
// terminal for automatic progress yet still reachable by Retry.
func (s DeliveryState) Terminal() bool {
	return s == MessageRead || s == MessageFailed
}

// canEnter reports whether moving from s to next is a legal transition.
// Read is immutable: once there, receipts of any kind are ignored, and
// Delivered never downgrades it.
func (s DeliveryState) canEnter(next DeliveryState) bool {
	switch s {
	case MessagePending:
		return next == MessageSent || next == MessageFailed
	case MessageSent:
		return next == MessageDelivered || next == MessageRead || next == MessageFailed
	case MessageDelivered:
		return next == MessageRead
	case MessageFailed:
		return next == MessagePending
	default:
		return false
	}
}

// Message is one chat message as the session sees it. For outbound
// messages State moves along Pending, Sent, Delivered, Read or Failed;
// inbound copies are Delivered the moment they arrive.
type Message struct {
	// ID is the correlation id, generated by the sender.
	ID string
	// Topic is the room or channel the message belongs to.
	Topic string
	// SenderID identifies the author.
	SenderID string
	// Kind classifies the payload.
	Kind MessageKind
	// Content is the message body.
	Content string
	// Lat and Lng carry coordinates for location messages.
	Lat *decimal.Decimal
	Lng *decimal.Decimal
	// State is the delivery state of this copy.
	State DeliveryState
	// CreatedAt is the sender-side creation time.
	CreatedAt time.Time
	// Attempts counts transport write attempts.
	Attempts int
	// Inbound marks messages received from peers.
	Inbound bool
}
