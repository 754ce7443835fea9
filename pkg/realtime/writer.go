package realtime

import (
	"context"
	"sync"
	"sync/atomic"

	"main/pkg/exception"
)

// OutboundFrame is a queued write.
type OutboundFrame struct {
	// Payload is the frame body to send.
	Payload []byte
	// Done, when set, is called exactly once: with nil after the payload
	// was written to the socket, or with the error that kept it from
	// being written. Callbacks run on the session goroutine and must not
	// block.
	Done func(error)
}

func (f OutboundFrame) complete(err error) {
	if f.Done != nil {
		f.Done(err)
	}
}

// writer is the bounded outbound queue. Frames are accepted only while a
// connection is up; on disconnect the queue is drained and every pending
// frame's Done fires with the drain error so the owner can requeue.
type writer struct {
	mu        sync.Mutex
	queue     chan OutboundFrame
	policy    OverflowPolicy
	connected atomic.Bool
	gate      chan struct{}
}

func newWriter(capacity int, policy OverflowPolicy) *writer {
	if capacity <= 0 {
		capacity = 1
	}
	w := &writer{
		queue:  make(chan OutboundFrame, capacity),
		policy: policy,
		gate:   make(chan struct{}),
	}
	close(w.gate)
	return w
}

// SetConnected toggles the admission gate. Turning it off releases any
// enqueuer blocked on a full queue.
func (w *writer) SetConnected(connected bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.connected.Load() == connected {
		return
	}
	w.connected.Store(connected)
	if connected {
		w.gate = make(chan struct{})
	} else {
		close(w.gate)
	}
}

func (w *writer) disconnected() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.gate
}

// Enqueue queues a frame for writing according to the overflow policy.
func (w *writer) Enqueue(frame OutboundFrame) error {
	if !w.connected.Load() {
		return exception.ErrNotConnected
	}
	switch w.policy {
	case OverflowBlock:
		select {
		case w.queue <- frame:
			return nil
		case <-w.disconnected():
			return exception.ErrNotConnected
		}
	case OverflowDropOldest:
		for {
			select {
			case w.queue <- frame:
				return nil
			default:
			}
			select {
			case old := <-w.queue:
				old.complete(exception.ErrQueueFull)
			default:
			}
		}
	default:
		select {
		case w.queue <- frame:
			return nil
		default:
			return exception.ErrQueueFull
		}
	}
}

// Next waits for the next outbound frame or context cancellation.
func (w *writer) Next(ctx context.Context) (OutboundFrame, bool) {
	select {
	case <-ctx.Done():
		return OutboundFrame{}, false
	case frame := <-w.queue:
		return frame, true
	}
}

// Drain empties the queue, completing every pending frame with err.
func (w *writer) Drain(err error) {
	for {
		select {
		case frame := <-w.queue:
			frame.complete(err)
		default:
			return
		}
	}
}

// Len returns the number of queued frames.
func (w *writer) Len() int {
	return len(w.queue)
}
