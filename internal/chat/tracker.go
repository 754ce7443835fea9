package chat

import (
	"sync"

	"github.com/yanun0323/errors"

	"main/pkg/exception"
)

// tracker holds every outbound message of the session plus the set of
// inbound message ids already handed to the application. It owns all
// delivery-state transitions so illegal ones cannot happen concurrently.
type tracker struct {
	mu       sync.Mutex
	messages map[string]*Message
	seen     map[string]struct{}
}

func newTracker() *tracker {
	return &tracker{
		messages: make(map[string]*Message),
		seen:     make(map[string]struct{}),
	}
}

// Track registers a new outbound message.
func (t *tracker) Track(msg Message) error {
	if msg.ID == "" {
		return exception.ErrUnknownMessage
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.messages[msg.ID]; ok {
		return errors.Wrap(exception.ErrDuplicateMessage, msg.ID)
	}
	stored := msg
	t.messages[msg.ID] = &stored
	return nil
}

// Untrack forgets a message, reverting a failed enqueue.
func (t *tracker) Untrack(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.messages, id)
}

// Get returns a copy of the tracked message.
func (t *tracker) Get(id string) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg, ok := t.messages[id]
	if !ok {
		return Message{}, false
	}
	return *msg, true
}

// Apply moves a message to the next state, enforcing transition rules.
// The returned copy reflects the new state.
func (t *tracker) Apply(id string, next DeliveryState) (Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg, ok := t.messages[id]
	if !ok {
		return Message{}, errors.Wrap(exception.ErrUnknownMessage, id)
	}
	if !msg.State.canEnter(next) {
		return *msg, transitionErr(msg.State, next)
	}
	msg.State = next
	return *msg, nil
}

// transitionErr picks the sentinel for a refused move: a message already
// Read is immutable, everything else is just an illegal step.
func transitionErr(from, to DeliveryState) error {
	if from == MessageRead {
		return errors.Wrapf(exception.ErrMessageImmutable, "%s -> %s", from, to)
	}
	return errors.Wrapf(exception.ErrInvalidTransition, "%s -> %s", from, to)
}

// Retry moves a failed message back to pending with a fresh attempt
// budget. Only Failed messages can retry.
func (t *tracker) Retry(id string) (Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg, ok := t.messages[id]
	if !ok {
		return Message{}, errors.Wrap(exception.ErrUnknownMessage, id)
	}
	if !msg.State.canEnter(MessagePending) {
		return *msg, transitionErr(msg.State, MessagePending)
	}
	msg.State = MessagePending
	msg.Attempts = 0
	return *msg, nil
}

// Discard drops a failed message from tracking. Only Failed messages
// can be discarded; everything else is still in flight.
func (t *tracker) Discard(id string) (Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg, ok := t.messages[id]
	if !ok {
		return Message{}, errors.Wrap(exception.ErrUnknownMessage, id)
	}
	if msg.State != MessageFailed {
		return *msg, errors.Wrapf(exception.ErrInvalidTransition, "discard %s", msg.State)
	}
	delete(t.messages, id)
	return *msg, nil
}

// BumpAttempts increments the write attempt counter.
func (t *tracker) BumpAttempts(id string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg, ok := t.messages[id]
	if !ok {
		return 0, false
	}
	msg.Attempts++
	return msg.Attempts, true
}

// ApplyReceipt upgrades a message from a peer receipt. Receipts never
// downgrade: anything arriving at or below the current state is ignored,
// and a message already Read stays Read. A receipt may outrun the local
// write confirmation, so Pending upgrades directly.
func (t *tracker) ApplyReceipt(id string, state ReceiptState) (Message, bool, error) {
	target := MessageDelivered
	if state == ReceiptRead {
		target = MessageRead
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	msg, ok := t.messages[id]
	if !ok {
		return Message{}, false, errors.Wrap(exception.ErrUnknownMessage, id)
	}
	switch {
	case msg.State == MessageRead:
		return *msg, false, nil
	case msg.State == MessageFailed:
		return *msg, false, nil
	case target <= msg.State:
		return *msg, false, nil
	}
	msg.State = target
	return *msg, true, nil
}

// MarkSeen records an inbound message id. It reports whether the id is
// new; a repeat means the frame is a duplicate and must not be delivered
// to the application again.
func (t *tracker) MarkSeen(id string) bool {
	if id == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seen[id]; ok {
		return false
	}
	t.seen[id] = struct{}{}
	return true
}

// TrackedCount returns how many outbound messages are tracked.
func (t *tracker) TrackedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}
