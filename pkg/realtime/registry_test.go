package realtime

import (
	"testing"
	"time"
)

func TestRegistryRegistrationOrder(t *testing.T) {
	r := newRegistry()
	for _, topic := range []string{"room:1", "room:2", "room:3"} {
		if !r.AddConsumer(topic, NewConsumer(1, OverflowDropOldest)) {
			t.Fatalf("topic %q should be new", topic)
		}
	}
	// Re-adding a consumer must not reorder or re-register.
	if r.AddConsumer("room:2", NewConsumer(1, OverflowDropOldest)) {
		t.Fatal("room:2 already registered")
	}

	desired := r.Desired()
	want := []string{"room:1", "room:2", "room:3"}
	if len(desired) != len(want) {
		t.Fatalf("desired: got %v want %v", desired, want)
	}
	for i := range want {
		if desired[i] != want[i] {
			t.Fatalf("desired[%d]: got %q want %q", i, desired[i], want[i])
		}
	}
}

func TestRegistryWarmTopicSurvivesLastConsumer(t *testing.T) {
	r := newRegistry()
	c := NewConsumer(1, OverflowDropOldest)
	r.AddConsumer("room:1", c)

	remaining, ok := r.RemoveConsumer("room:1", c)
	if !ok || remaining != 0 {
		t.Fatalf("remove: remaining=%d ok=%v", remaining, ok)
	}
	if r.Count() != 1 {
		t.Fatal("topic should stay registered after last consumer leaves")
	}
	if len(r.Desired()) != 1 {
		t.Fatal("warm topic must stay in the resubscribe set")
	}

	// Coming back re-arms the topic without re-registering it.
	if r.AddConsumer("room:1", NewConsumer(1, OverflowDropOldest)) {
		t.Fatal("warm topic should not count as new")
	}
	if expired := r.IdleExpired(0, time.Now()); len(expired) != 0 {
		t.Fatalf("re-armed topic reported idle: %v", expired)
	}
}

func TestRegistryIdleEviction(t *testing.T) {
	r := newRegistry()
	c := NewConsumer(1, OverflowDropOldest)
	r.AddConsumer("room:1", c)
	r.RemoveConsumer("room:1", c)

	if expired := r.IdleExpired(time.Hour, time.Now()); len(expired) != 0 {
		t.Fatalf("expired too early: %v", expired)
	}
	later := time.Now().Add(2 * time.Hour)
	expired := r.IdleExpired(time.Hour, later)
	if len(expired) != 1 || expired[0] != "room:1" {
		t.Fatalf("expected room:1 expired, got %v", expired)
	}
	if !r.Evict("room:1") {
		t.Fatal("evict failed")
	}
	if r.Count() != 0 {
		t.Fatal("topic still registered after evict")
	}

	// Evict refuses a topic that regained a consumer.
	r.AddConsumer("room:2", c)
	if r.Evict("room:2") {
		t.Fatal("evict must not remove a topic with consumers")
	}
}

func TestRegistryRouteIsolation(t *testing.T) {
	r := newRegistry()
	stuck := NewConsumer(1, OverflowDropOldest)
	healthy := NewConsumer(8, OverflowDropOldest)
	r.AddConsumer("room:1", stuck)
	r.AddConsumer("room:1", healthy)

	for i := 0; i < 5; i++ {
		r.Route(frameOf("room:1", "msg"))
	}
	if healthy.Len() != 5 {
		t.Fatalf("healthy consumer queue: got %d want 5", healthy.Len())
	}
	if stuck.Len() != 1 {
		t.Fatalf("stuck consumer queue: got %d want 1", stuck.Len())
	}
	if stuck.Dropped() != 4 {
		t.Fatalf("stuck consumer dropped: got %d want 4", stuck.Dropped())
	}
}

func TestRegistryRouteUnknownTopic(t *testing.T) {
	r := newRegistry()
	if delivered := r.Route(frameOf("nowhere", "msg")); delivered != 0 {
		t.Fatalf("delivered %d frames to unknown topic", delivered)
	}
}

func TestRegistryActiveTracking(t *testing.T) {
	r := newRegistry()
	r.AddConsumer("room:1", NewConsumer(1, OverflowDropOldest))
	if r.Active("room:1") {
		t.Fatal("fresh topic should not be active")
	}
	r.MarkActive("room:1")
	if !r.Active("room:1") {
		t.Fatal("topic should be active after MarkActive")
	}
	r.ClearActive()
	if r.Active("room:1") {
		t.Fatal("topic should be inactive after ClearActive")
	}
}
