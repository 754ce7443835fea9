package chat

import (
	"sync"

	"main/pkg/exception"
)

// outboxEntry is one payload awaiting its turn on the wire.
type outboxEntry struct {
	// messageID links the entry to a tracked message. Empty for frames
	// with no delivery state of their own, like queued read receipts.
	messageID string
	payload   []byte
	// attempts counts failed writes for untracked entries; tracked
	// messages count through the tracker instead.
	attempts int
}

// outbox is the bounded FIFO of unsent frames. Draining strictly follows
// enqueue order; a frame bounced by a dropped connection goes back to
// the front so no send overtakes it. Admission is bounded, requeueing is
// not: a message that got in is never silently dropped.
type outbox struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	entries  []outboxEntry
	max      int
	closed   bool
}

func newOutbox(max int) *outbox {
	if max <= 0 {
		max = 1
	}
	o := &outbox{max: max}
	o.notEmpty = sync.NewCond(&o.mu)
	return o
}

// Append admits a new entry at the back.
func (o *outbox) Append(entry outboxEntry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return exception.ErrSessionClosed
	}
	if len(o.entries) >= o.max {
		return exception.ErrOutboxFull
	}
	o.entries = append(o.entries, entry)
	o.notEmpty.Signal()
	return nil
}

// PushFront returns a bounced entry to the head of the line.
func (o *outbox) PushFront(entry outboxEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.entries = append([]outboxEntry{entry}, o.entries...)
	o.notEmpty.Signal()
}

// Pop removes the oldest entry, blocking until one exists or the outbox
// closes. After Close it returns false right away; whatever is still
// queued stays for Drain.
func (o *outbox) Pop() (outboxEntry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for {
		if o.closed {
			return outboxEntry{}, false
		}
		if len(o.entries) > 0 {
			entry := o.entries[0]
			o.entries = o.entries[1:]
			return entry, true
		}
		o.notEmpty.Wait()
	}
}

// Close stops the outbox and unblocks Pop. Entries still queued stay
// readable through Drain for inspection.
func (o *outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.notEmpty.Broadcast()
}

// Drain returns and clears everything still queued.
func (o *outbox) Drain() []outboxEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	entries := o.entries
	o.entries = nil
	return entries
}

// Len returns the number of queued entries.
func (o *outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}
