package realtime

import (
	"sync"
	"time"
)

// registry tracks desired topics in registration order together with
// their attached consumers. Topics outlive their consumers: removing the
// last consumer leaves the topic warm (still subscribed server-side)
// until the idle janitor evicts it.
type registry struct {
	mu     sync.RWMutex
	order  []string
	topics map[string]*topicEntry
}

type topicEntry struct {
	consumers []*Consumer
	// active means a subscribe frame went out on the live connection.
	active bool
	// idleSince is non-zero while the topic has no consumers.
	idleSince time.Time
}

func newRegistry() *registry {
	return &registry{
		topics: make(map[string]*topicEntry),
	}
}

// AddConsumer attaches a consumer to the topic, registering the topic on
// first use. It reports whether the topic is new to the registry, which
// is when a subscribe frame is owed.
func (r *registry) AddConsumer(topic string, c *Consumer) (registered bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.topics[topic]
	if !ok {
		entry = &topicEntry{}
		r.topics[topic] = entry
		r.order = append(r.order, topic)
		registered = true
	}
	entry.consumers = append(entry.consumers, c)
	entry.idleSince = time.Time{}
	return registered
}

// RemoveConsumer detaches a consumer. The topic stays registered; with no
// consumers left it is marked idle instead of unsubscribed.
func (r *registry) RemoveConsumer(topic string, c *Consumer) (remaining int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, found := r.topics[topic]
	if !found {
		return 0, false
	}
	for i, existing := range entry.consumers {
		if existing == c {
			entry.consumers = append(entry.consumers[:i], entry.consumers[i+1:]...)
			ok = true
			break
		}
	}
	if !ok {
		return len(entry.consumers), false
	}
	if len(entry.consumers) == 0 {
		entry.idleSince = time.Now()
	}
	return len(entry.consumers), true
}

// Desired returns all registered topics in registration order, warm ones
// included. This is the resubscribe set after a reconnect.
func (r *registry) Desired() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// MarkActive records that a subscribe frame went out for the topic on
// the live connection.
func (r *registry) MarkActive(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.topics[topic]; ok {
		entry.active = true
	}
}

// ClearActive resets per-connection subscribe state after a drop.
func (r *registry) ClearActive() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.topics {
		entry.active = false
	}
}

// Active reports whether the topic is subscribed on the live connection.
func (r *registry) Active(topic string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.topics[topic]
	return ok && entry.active
}

// Route fans the frame out to the topic's consumers in attach order and
// returns how many accepted it.
func (r *registry) Route(frame Frame) int {
	r.mu.RLock()
	entry, ok := r.topics[frame.Topic]
	if !ok || len(entry.consumers) == 0 {
		r.mu.RUnlock()
		return 0
	}
	consumers := make([]*Consumer, len(entry.consumers))
	copy(consumers, entry.consumers)
	r.mu.RUnlock()

	delivered := 0
	for _, c := range consumers {
		if c.enqueue(frame) {
			delivered++
		}
	}
	return delivered
}

// IdleExpired returns warm topics whose idle period passed ttl.
func (r *registry) IdleExpired(ttl time.Duration, now time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var expired []string
	for _, topic := range r.order {
		entry := r.topics[topic]
		if len(entry.consumers) > 0 || entry.idleSince.IsZero() {
			continue
		}
		if now.Sub(entry.idleSince) >= ttl {
			expired = append(expired, topic)
		}
	}
	return expired
}

// Evict drops a topic from the registry if it is still consumer-less.
func (r *registry) Evict(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.topics[topic]
	if !ok || len(entry.consumers) > 0 {
		return false
	}
	delete(r.topics, topic)
	for i, existing := range r.order {
		if existing == topic {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Count returns the number of registered topics.
func (r *registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
