// Package netmon tracks network reachability for the chat session.
// Transports consult it before dialing so a dead network suspends
// reconnect attempts instead of burning the retry budget.
package netmon

import (
	"context"
	"sync"
)

// Monitor holds the current reachability flag and wakes waiters when
// the network returns. A new Monitor starts reachable; platform glue
// or a Prober feeds it transitions through SetReachable.
type Monitor struct {
	mu        sync.Mutex
	reachable bool
	gate      chan struct{}
	watchers  map[int]func(bool)
	nextID    int
}

func New() *Monitor {
	gate := make(chan struct{})
	close(gate)
	return &Monitor{
		reachable: true,
		gate:      gate,
		watchers:  make(map[int]func(bool)),
	}
}

// Reachable reports the current flag.
func (m *Monitor) Reachable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reachable
}

// SetReachable records a transition. Watchers run synchronously on the
// calling goroutine; repeated calls with the same value do nothing.
func (m *Monitor) SetReachable(up bool) {
	m.mu.Lock()
	if m.reachable == up {
		m.mu.Unlock()
		return
	}
	m.reachable = up
	if up {
		close(m.gate)
	} else {
		m.gate = make(chan struct{})
	}
	watchers := make([]func(bool), 0, len(m.watchers))
	for _, fn := range m.watchers {
		watchers = append(watchers, fn)
	}
	m.mu.Unlock()

	for _, fn := range watchers {
		fn(up)
	}
}

// WaitForConnection blocks until the network is reachable or ctx ends.
// It reports whether it actually waited, so callers can tell a network
// comeback apart from a pass-through.
func (m *Monitor) WaitForConnection(ctx context.Context) (bool, error) {
	m.mu.Lock()
	if m.reachable {
		m.mu.Unlock()
		return false, nil
	}
	gate := m.gate
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-gate:
		return true, nil
	}
}

// Notify registers fn for transition callbacks and returns a cancel
// func that unregisters it.
func (m *Monitor) Notify(fn func(up bool)) (cancel func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}
}
