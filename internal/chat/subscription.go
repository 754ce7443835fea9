package chat

import (
	"sync"
	"sync/atomic"

	"main/pkg/realtime"
)

const defaultTopicBuffer = 64

// Subscription is one listener on a topic. Events arrive on a bounded
// channel; when the listener falls behind, the oldest event gives way
// and the drop is counted. Cancel detaches the listener and closes the
// channel.
type Subscription struct {
	id      uint64
	topic   string
	hub     *topicHub
	ch      chan TopicEvent
	dropped atomic.Uint64
	once    sync.Once
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string {
	return s.topic
}

// Events returns the event channel. It closes after Cancel or when the
// session shuts down.
func (s *Subscription) Events() <-chan TopicEvent {
	return s.ch
}

// Dropped reports how many events this listener lost to backpressure.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Cancel detaches the subscription. The topic itself stays registered
// on the wire, warm, so coming back is cheap.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.hub.detach(s)
	})
}

// topicHub fans one topic's frame stream out to every subscription.
// The hub owns the transport consumer; frames are decoded and deduped
// once regardless of listener count.
type topicHub struct {
	topic    string
	consumer *realtime.Consumer

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	closed bool

	// onEmpty runs after the last subscription detaches.
	onEmpty func(*topicHub)
}

func newTopicHub(topic string, consumer *realtime.Consumer, onEmpty func(*topicHub)) *topicHub {
	if onEmpty == nil {
		onEmpty = func(*topicHub) {}
	}
	return &topicHub{
		topic:    topic,
		consumer: consumer,
		subs:     make(map[uint64]*Subscription),
		onEmpty:  onEmpty,
	}
}

func (h *topicHub) attach(id uint64, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultTopicBuffer
	}
	sub := &Subscription{
		id:    id,
		topic: h.topic,
		hub:   h,
		ch:    make(chan TopicEvent, buffer),
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub
	}
	h.subs[id] = sub
	h.mu.Unlock()
	return sub
}

func (h *topicHub) detach(sub *Subscription) {
	h.mu.Lock()
	if _, ok := h.subs[sub.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, sub.id)
	close(sub.ch)
	empty := len(h.subs) == 0 && !h.closed
	h.mu.Unlock()
	if empty {
		h.onEmpty(h)
	}
}

// broadcast delivers event to every subscription without blocking.
// Sends happen under the hub lock so Cancel cannot close a channel
// mid-send.
func (h *topicHub) broadcast(event TopicEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, sub := range h.subs {
		for {
			select {
			case sub.ch <- event:
			default:
				select {
				case <-sub.ch:
					sub.dropped.Add(1)
				default:
				}
				continue
			}
			break
		}
	}
}

// subscriberCount returns how many listeners the hub currently has.
func (h *topicHub) subscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// close shuts the hub down, closing every subscription channel and the
// transport consumer. Idempotent.
func (h *topicHub) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
	h.mu.Unlock()
	h.consumer.Close()
}
