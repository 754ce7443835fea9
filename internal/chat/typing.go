package chat

import (
	"sync"
	"time"
)

const (
	defaultTypingDebounce = 3 * time.Second
	defaultTypingTTL      = 5 * time.Second
)

// typingNotice is one remote typing edge to surface as an event.
type typingNotice struct {
	topic  string
	userID string
}

// typingCoordinator debounces local typing into at most one start frame
// per burst and tracks remote typists with expiry, so a lost stop frame
// heals on its own.
type typingCoordinator struct {
	mu       sync.Mutex
	debounce time.Duration
	ttl      time.Duration
	local    map[string]*time.Timer
	remote   map[string]map[string]time.Time

	onLocalStart func(topic string)
	onLocalStop  func(topic string)
}

func newTypingCoordinator(debounce, ttl time.Duration, onStart, onStop func(topic string)) *typingCoordinator {
	if debounce <= 0 {
		debounce = defaultTypingDebounce
	}
	if ttl <= 0 {
		ttl = defaultTypingTTL
	}
	if onStart == nil {
		onStart = func(string) {}
	}
	if onStop == nil {
		onStop = func(string) {}
	}
	return &typingCoordinator{
		debounce:     debounce,
		ttl:          ttl,
		local:        make(map[string]*time.Timer),
		remote:       make(map[string]map[string]time.Time),
		onLocalStart: onStart,
		onLocalStop:  onStop,
	}
}

// Pulse records one local keystroke. The first pulse of a burst fires
// typing-start; every further pulse only pushes the stop timer out.
func (c *typingCoordinator) Pulse(topic string) {
	c.mu.Lock()
	if timer, active := c.local[topic]; active {
		timer.Reset(c.debounce)
		c.mu.Unlock()
		return
	}
	c.local[topic] = time.AfterFunc(c.debounce, func() { c.expireLocal(topic) })
	c.mu.Unlock()
	c.onLocalStart(topic)
}

func (c *typingCoordinator) expireLocal(topic string) {
	c.mu.Lock()
	_, active := c.local[topic]
	if active {
		delete(c.local, topic)
	}
	c.mu.Unlock()
	if active {
		c.onLocalStop(topic)
	}
}

// StopLocal ends the local burst right away, as when a message is sent.
// No-op without an active burst.
func (c *typingCoordinator) StopLocal(topic string) {
	c.mu.Lock()
	timer, active := c.local[topic]
	if active {
		timer.Stop()
		delete(c.local, topic)
	}
	c.mu.Unlock()
	if active {
		c.onLocalStop(topic)
	}
}

// RemoteStart registers or refreshes a remote typist. It reports whether
// this is a fresh edge worth an event; refreshes stay silent.
func (c *typingCoordinator) RemoteStart(topic, userID string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	users, ok := c.remote[topic]
	if !ok {
		users = make(map[string]time.Time)
		c.remote[topic] = users
	}
	expiresAt, known := users[userID]
	users[userID] = now.Add(c.ttl)
	return !known || now.After(expiresAt)
}

// RemoteStop removes a remote typist, reporting whether one was present.
func (c *typingCoordinator) RemoteStop(topic, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	users, ok := c.remote[topic]
	if !ok {
		return false
	}
	if _, known := users[userID]; !known {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(c.remote, topic)
	}
	return true
}

// ExpireRemote sweeps out typists whose signal went stale and returns
// them so the owner can emit the same stopped events an explicit stop
// would have produced.
func (c *typingCoordinator) ExpireRemote(now time.Time) []typingNotice {
	c.mu.Lock()
	defer c.mu.Unlock()
	var expired []typingNotice
	for topic, users := range c.remote {
		for userID, expiresAt := range users {
			if now.Before(expiresAt) {
				continue
			}
			delete(users, userID)
			expired = append(expired, typingNotice{topic: topic, userID: userID})
		}
		if len(users) == 0 {
			delete(c.remote, topic)
		}
	}
	return expired
}

// TypingUsers lists who is typing in the topic right now. Entries past
// their expiry never appear, swept or not.
func (c *typingCoordinator) TypingUsers(topic string, now time.Time) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	users, ok := c.remote[topic]
	if !ok {
		return nil
	}
	var active []string
	for userID, expiresAt := range users {
		if now.Before(expiresAt) {
			active = append(active, userID)
		}
	}
	return active
}

// Close cancels local timers without emitting stop frames.
func (c *typingCoordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, timer := range c.local {
		timer.Stop()
		delete(c.local, topic)
	}
}
