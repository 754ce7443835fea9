package history

import (
	"context"
	"sort"
	"sync"

	"main/internal/chat"
)

// Range aliases the chat query bounds so callers importing history
// alone can build queries.
type Range = chat.Range

// MemoryStore keeps message history in process memory. It is the
// default store when no database is configured and the workhorse for
// tests. Append upserts by message ID.
type MemoryStore struct {
	mu     sync.RWMutex
	topics map[string][]*chat.Message
	byID   map[string]*chat.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		topics: make(map[string][]*chat.Message),
		byID:   make(map[string]*chat.Message),
	}
}

// Append stores a copy of msg, replacing any copy with the same ID.
func (s *MemoryStore) Append(_ context.Context, msg chat.Message) error {
	if msg.ID == "" || msg.Topic == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byID[msg.ID]; ok {
		*existing = msg
		return nil
	}

	stored := msg
	s.byID[msg.ID] = &stored
	s.topics[msg.Topic] = append(s.topics[msg.Topic], &stored)
	return nil
}

// Query returns messages for topic within r, ascending by CreatedAt.
// When Limit trims the result it keeps the newest rows.
func (s *MemoryStore) Query(_ context.Context, topic string, r Range) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Message, 0, len(s.topics[topic]))
	for _, msg := range s.topics[topic] {
		if !r.After.IsZero() && !msg.CreatedAt.After(r.After) {
			continue
		}
		if !r.Before.IsZero() && !msg.CreatedAt.Before(r.Before) {
			continue
		}
		out = append(out, *msg)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if r.Limit > 0 && len(out) > r.Limit {
		out = out[len(out)-r.Limit:]
	}
	return out, nil
}

// Len reports how many messages the store holds across all topics.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
