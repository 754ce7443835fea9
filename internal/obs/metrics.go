package obs

import (
	"sync/atomic"
	"time"
)

// Metrics collects lightweight counters for one chat session. All
// methods are safe on a nil receiver so call sites never guard.
type Metrics struct {
	messagesSent     uint64
	messagesReceived uint64
	messagesFailed   uint64
	duplicateDrops   uint64
	receiptsApplied  uint64
	typingNotices    uint64
	reconnects       uint64
	eventsDropped    uint64
	outboxRejections uint64
	outboxHighWater  uint64

	sendLatency      LatencyStats
	deliveryLatency  LatencyStats
	subscribeLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	MessagesSent     uint64
	MessagesReceived uint64
	MessagesFailed   uint64
	DuplicateDrops   uint64
	ReceiptsApplied  uint64
	TypingNotices    uint64
	Reconnects       uint64
	EventsDropped    uint64
	OutboxRejections uint64
	OutboxHighWater  uint64
	SendLatency      LatencySnapshot
	DeliveryLatency  LatencySnapshot
	SubscribeLatency LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncSent records a transport-confirmed outbound message.
func (m *Metrics) IncSent() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.messagesSent, 1)
}

// IncReceived records an inbound message handed to subscribers.
func (m *Metrics) IncReceived() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.messagesReceived, 1)
}

// IncFailed records a message that exhausted its send attempts.
func (m *Metrics) IncFailed() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.messagesFailed, 1)
}

// IncDuplicateDrop records an inbound message suppressed by the
// dedup window.
func (m *Metrics) IncDuplicateDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.duplicateDrops, 1)
}

// IncReceiptApplied records a receipt that advanced a delivery state.
func (m *Metrics) IncReceiptApplied() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.receiptsApplied, 1)
}

// IncTypingNotice records a typing start or stop handed to subscribers.
func (m *Metrics) IncTypingNotice() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.typingNotices, 1)
}

// IncReconnect records a completed reconnect cycle.
func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.reconnects, 1)
}

// IncEventDropped records a session event lost to a full listener.
func (m *Metrics) IncEventDropped() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.eventsDropped, 1)
}

// IncOutboxRejection records an admission refused by the full outbox.
func (m *Metrics) IncOutboxRejection() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.outboxRejections, 1)
}

// ObserveOutboxDepth tracks the outbox high-water mark.
func (m *Metrics) ObserveOutboxDepth(depth int) {
	if m == nil || depth < 0 {
		return
	}
	observed := uint64(depth)
	for {
		high := atomic.LoadUint64(&m.outboxHighWater)
		if observed <= high {
			return
		}
		if atomic.CompareAndSwapUint64(&m.outboxHighWater, high, observed) {
			return
		}
	}
}

// ObserveSend measures enqueue-to-transport-confirm latency.
func (m *Metrics) ObserveSend(d time.Duration) {
	if m == nil {
		return
	}
	m.sendLatency.Observe(d)
}

// ObserveDelivery measures send-to-delivered-receipt latency.
func (m *Metrics) ObserveDelivery(d time.Duration) {
	if m == nil {
		return
	}
	m.deliveryLatency.Observe(d)
}

// ObserveSubscribe measures subscribe-to-first-frame latency.
func (m *Metrics) ObserveSubscribe(d time.Duration) {
	if m == nil {
		return
	}
	m.subscribeLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		MessagesSent:     atomic.LoadUint64(&m.messagesSent),
		MessagesReceived: atomic.LoadUint64(&m.messagesReceived),
		MessagesFailed:   atomic.LoadUint64(&m.messagesFailed),
		DuplicateDrops:   atomic.LoadUint64(&m.duplicateDrops),
		ReceiptsApplied:  atomic.LoadUint64(&m.receiptsApplied),
		TypingNotices:    atomic.LoadUint64(&m.typingNotices),
		Reconnects:       atomic.LoadUint64(&m.reconnects),
		EventsDropped:    atomic.LoadUint64(&m.eventsDropped),
		OutboxRejections: atomic.LoadUint64(&m.outboxRejections),
		OutboxHighWater:  atomic.LoadUint64(&m.outboxHighWater),
		SendLatency:      m.sendLatency.Snapshot(),
		DeliveryLatency:  m.deliveryLatency.Snapshot(),
		SubscribeLatency: m.subscribeLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
