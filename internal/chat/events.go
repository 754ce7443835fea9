package chat

import (
	"sync"

	"main/pkg/realtime"
)

// Event is a session-level notification. The concrete types are
// LinkEvent, MessageStateChanged and AuthExpired.
type Event interface {
	sessionEvent()
}

// LinkEvent reports a connection state transition.
type LinkEvent struct {
	From    realtime.LinkState
	To      realtime.LinkState
	Reason  error
	Attempt int
}

// MessageStateChanged reports a delivery-state move of an outbound
// message. Message is a snapshot taken at transition time.
type MessageStateChanged struct {
	Message Message
}

// AuthExpired reports that the server rejected the credential. The
// session stays parked until Connect is called with a fresh one.
type AuthExpired struct {
	Err error
}

func (LinkEvent) sessionEvent()           {}
func (MessageStateChanged) sessionEvent() {}
func (AuthExpired) sessionEvent()         {}

// TopicEvent is a per-subscription notification. The concrete types are
// MessageReceived, TypingStarted and TypingStopped.
type TopicEvent interface {
	topicEvent()
}

// MessageReceived carries a newly delivered inbound message.
type MessageReceived struct {
	Message Message
}

// TypingStarted reports a peer starting to type in the topic.
type TypingStarted struct {
	Topic  string
	UserID string
}

// TypingStopped reports a peer no longer typing, whether by explicit
// stop, by sending the message, or by expiry.
type TypingStopped struct {
	Topic  string
	UserID string
}

func (MessageReceived) topicEvent() {}
func (TypingStarted) topicEvent()   {}
func (TypingStopped) topicEvent()   {}

// eventSink is the bounded session event stream. Publishing never
// blocks: when the buffer is full the oldest event gives way and the
// drop is counted. Sends happen under the lock so close cannot race a
// publish.
type eventSink struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func newEventSink(capacity int) *eventSink {
	if capacity <= 0 {
		capacity = 1
	}
	return &eventSink{ch: make(chan Event, capacity)}
}

// publish delivers event, evicting the oldest entry when the buffer is
// full. It reports whether anything was dropped to make room. After
// close it reports false and delivers nothing.
func (s *eventSink) publish(event Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	evicted := false
	for {
		select {
		case s.ch <- event:
			return evicted
		default:
		}
		select {
		case <-s.ch:
			evicted = true
		default:
		}
	}
}

func (s *eventSink) events() <-chan Event {
	return s.ch
}

// close ends the stream. Idempotent.
func (s *eventSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
