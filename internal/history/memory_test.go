package history

import (
	"testing"
	"time"

	"main/internal/chat"
)

func TestMemoryStoreAppendQuery(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"m1", "m2", "m3"} {
		err := store.Append(t.Context(), chat.Message{
			ID:        id,
			Topic:     "room:general",
			SenderID:  "alice",
			Kind:      chat.KindText,
			Content:   "hello " + id,
			State:     chat.MessageSent,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("append %s: %+v", id, err)
		}
	}

	got, err := store.Query(t.Context(), "room:general", Range{})
	if err != nil {
		t.Fatalf("query: %+v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.Before(got[i-1].CreatedAt) {
			t.Fatalf("messages out of order: %v before %v", got[i].CreatedAt, got[i-1].CreatedAt)
		}
	}

	if got, _ := store.Query(t.Context(), "room:empty", Range{}); len(got) != 0 {
		t.Fatalf("expected empty topic, got %d messages", len(got))
	}
}

func TestMemoryStoreUpsertReplacesState(t *testing.T) {
	store := NewMemoryStore()
	msg := chat.Message{
		ID:        "m1",
		Topic:     "room:general",
		SenderID:  "alice",
		State:     chat.MessagePending,
		CreatedAt: time.Now(),
	}
	if err := store.Append(t.Context(), msg); err != nil {
		t.Fatalf("append: %+v", err)
	}

	msg.State = chat.MessageRead
	if err := store.Append(t.Context(), msg); err != nil {
		t.Fatalf("upsert: %+v", err)
	}

	got, err := store.Query(t.Context(), "room:general", Range{})
	if err != nil {
		t.Fatalf("query: %+v", err)
	}
	if len(got) != 1 {
		t.Fatalf("upsert duplicated the row: %d copies", len(got))
	}
	if got[0].State != chat.MessageRead {
		t.Fatalf("expected read state, got %s", got[0].State)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 stored message, got %d", store.Len())
	}
}

func TestMemoryStoreQueryBounds(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		_ = store.Append(t.Context(), chat.Message{
			ID:        string(rune('a' + i)),
			Topic:     "room:general",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	got, err := store.Query(t.Context(), "room:general", Range{
		After:  base.Add(2 * time.Second),
		Before: base.Add(8 * time.Second),
	})
	if err != nil {
		t.Fatalf("query: %+v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 messages in window, got %d", len(got))
	}

	got, err = store.Query(t.Context(), "room:general", Range{Limit: 3})
	if err != nil {
		t.Fatalf("query: %+v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected limit of 3, got %d", len(got))
	}
	// Limit keeps the newest rows.
	if got[2].CreatedAt != base.Add(9*time.Second) {
		t.Fatalf("expected newest message last, got %v", got[2].CreatedAt)
	}
	if got[0].CreatedAt != base.Add(7*time.Second) {
		t.Fatalf("expected trim to drop oldest, got %v", got[0].CreatedAt)
	}
}

func TestMemoryStoreIgnoresBlankIdentity(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Append(t.Context(), chat.Message{Topic: "room:general"})
	_ = store.Append(t.Context(), chat.Message{ID: "m1"})
	if store.Len() != 0 {
		t.Fatalf("blank id or topic should not be stored, got %d", store.Len())
	}
}
