package realtime

import (
	"testing"
	"time"
)

func frameOf(topic, body string) Frame {
	return Frame{Topic: topic, Payload: []byte(body), Received: time.Now()}
}

func TestFrameQueueFIFO(t *testing.T) {
	q := NewFrameQueue(4, OverflowDropNewest)
	for _, body := range []string{"a", "b", "c"} {
		if pushed, _ := q.Push(frameOf("t", body)); !pushed {
			t.Fatalf("push %q rejected", body)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		frame, ok := q.Pop()
		if !ok {
			t.Fatalf("pop %q: queue closed", want)
		}
		if string(frame.Payload) != want {
			t.Fatalf("pop order: got %q want %q", frame.Payload, want)
		}
	}
}

func TestFrameQueueDropNewest(t *testing.T) {
	q := NewFrameQueue(2, OverflowDropNewest)
	q.Push(frameOf("t", "a"))
	q.Push(frameOf("t", "b"))
	if pushed, _ := q.Push(frameOf("t", "c")); pushed {
		t.Fatal("push into full queue should be rejected")
	}
	frame, _ := q.Pop()
	if string(frame.Payload) != "a" {
		t.Fatalf("oldest frame lost: got %q", frame.Payload)
	}
}

func TestFrameQueueDropOldest(t *testing.T) {
	q := NewFrameQueue(2, OverflowDropOldest)
	q.Push(frameOf("t", "a"))
	q.Push(frameOf("t", "b"))
	pushed, evicted := q.Push(frameOf("t", "c"))
	if !pushed || !evicted {
		t.Fatalf("expected push with eviction, got pushed=%v evicted=%v", pushed, evicted)
	}
	frame, _ := q.Pop()
	if string(frame.Payload) != "b" {
		t.Fatalf("got %q want %q after eviction", frame.Payload, "b")
	}
	frame, _ = q.Pop()
	if string(frame.Payload) != "c" {
		t.Fatalf("got %q want %q", frame.Payload, "c")
	}
}

func TestFrameQueueCloseUnblocksPop(t *testing.T) {
	q := NewFrameQueue(1, OverflowDropNewest)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case ok := <-done:
		if ok {
			t.Fatal("pop on closed queue should report !ok")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pop did not unblock on close")
	}
}

func TestFrameQueueBlockPolicy(t *testing.T) {
	q := NewFrameQueue(1, OverflowBlock)
	q.Push(frameOf("t", "a"))

	pushed := make(chan struct{})
	go func() {
		q.Push(frameOf("t", "b"))
		close(pushed)
	}()

	select {
	case <-pushed:
		t.Fatal("push should block on full queue")
	case <-time.After(20 * time.Millisecond):
	}

	if frame, _ := q.Pop(); string(frame.Payload) != "a" {
		t.Fatalf("got %q want %q", frame.Payload, "a")
	}
	select {
	case <-pushed:
	case <-time.After(2 * time.Second):
		t.Fatal("push did not resume after pop")
	}
}

func TestConsumerDroppedCounter(t *testing.T) {
	c := NewConsumer(1, OverflowDropOldest)
	c.enqueue(frameOf("t", "a"))
	c.enqueue(frameOf("t", "b"))
	c.enqueue(frameOf("t", "c"))
	if got := c.Dropped(); got != 2 {
		t.Fatalf("dropped: got %d want 2", got)
	}
	if c.Len() != 1 {
		t.Fatalf("len: got %d want 1", c.Len())
	}
}
