package realtime

import (
	"sync"
	"sync/atomic"
)

// Consumer receives routed frames for one topic attachment. Each consumer
// owns a bounded queue, so a slow reader only backs up its own frames.
type Consumer struct {
	queue   *FrameQueue
	dropped atomic.Uint64
}

// NewConsumer creates a consumer with a bounded queue.
func NewConsumer(capacity int, policy OverflowPolicy) *Consumer {
	return &Consumer{
		queue: NewFrameQueue(capacity, policy),
	}
}

// Next blocks until a frame is available or the queue is closed.
func (c *Consumer) Next() (Frame, bool) {
	if c == nil || c.queue == nil {
		return Frame{}, false
	}
	return c.queue.Pop()
}

// Close closes the consumer queue and discards pending frames.
func (c *Consumer) Close() {
	if c == nil || c.queue == nil {
		return
	}
	c.queue.Close()
}

// Len returns the number of queued frames.
func (c *Consumer) Len() int {
	if c == nil || c.queue == nil {
		return 0
	}
	return c.queue.Len()
}

// Dropped returns how many frames the queue discarded under pressure.
func (c *Consumer) Dropped() uint64 {
	if c == nil {
		return 0
	}
	return c.dropped.Load()
}

func (c *Consumer) enqueue(frame Frame) bool {
	if c == nil || c.queue == nil {
		return false
	}
	pushed, evicted := c.queue.Push(frame)
	if !pushed || evicted {
		c.dropped.Add(1)
	}
	return pushed
}

// FrameQueue is a bounded ring buffer of frames.
type FrameQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	buf      []Frame
	head     int
	tail     int
	size     int
	closed   bool
	policy   OverflowPolicy
}

// NewFrameQueue creates a bounded ring buffer.
func NewFrameQueue(capacity int, policy OverflowPolicy) *FrameQueue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &FrameQueue{
		buf:    make([]Frame, capacity),
		policy: policy,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a frame according to the overflow policy. It reports
// whether the frame was stored and whether an older frame was evicted
// to make room.
func (q *FrameQueue) Push(frame Frame) (pushed, evicted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.closed {
			return false, evicted
		}
		if q.size < len(q.buf) {
			q.buf[q.tail] = frame
			q.tail = (q.tail + 1) % len(q.buf)
			q.size++
			q.notEmpty.Signal()
			return true, evicted
		}
		switch q.policy {
		case OverflowBlock:
			q.notFull.Wait()
		case OverflowDropOldest:
			q.buf[q.head] = Frame{}
			q.head = (q.head + 1) % len(q.buf)
			q.size--
			evicted = true
		default:
			return false, evicted
		}
	}
}

// Pop dequeues the next frame, blocking until available or closed.
func (q *FrameQueue) Pop() (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.size > 0 {
			frame := q.buf[q.head]
			q.buf[q.head] = Frame{}
			q.head = (q.head + 1) % len(q.buf)
			q.size--
			q.notFull.Signal()
			return frame, true
		}
		if q.closed {
			return Frame{}, false
		}
		q.notEmpty.Wait()
	}
}

// Close closes the queue and discards pending frames.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for i := range q.buf {
		q.buf[i] = Frame{}
	}
	q.size = 0
	q.head = 0
	q.tail = 0
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	q.mu.Unlock()
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	size := q.size
	q.mu.Unlock()
	return size
}
