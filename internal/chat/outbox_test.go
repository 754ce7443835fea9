package chat

import (
	stderrors "errors"
	"testing"
	"time"

	"main/pkg/exception"
)

func TestOutboxFIFO(t *testing.T) {
	o := newOutbox(4)
	for _, id := range []string{"a", "b", "c"} {
		if err := o.Append(outboxEntry{messageID: id}); err != nil {
			t.Fatalf("append %s: %+v", id, err)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		entry, ok := o.Pop()
		if !ok {
			t.Fatal("pop failed")
		}
		if entry.messageID != want {
			t.Fatalf("expected %s, got %s", want, entry.messageID)
		}
	}
}

func TestOutboxBoundedAdmission(t *testing.T) {
	o := newOutbox(2)
	if err := o.Append(outboxEntry{messageID: "a"}); err != nil {
		t.Fatalf("append: %+v", err)
	}
	if err := o.Append(outboxEntry{messageID: "b"}); err != nil {
		t.Fatalf("append: %+v", err)
	}
	if err := o.Append(outboxEntry{messageID: "c"}); !stderrors.Is(err, exception.ErrOutboxFull) {
		t.Fatalf("expected outbox full, got %+v", err)
	}
	if o.Len() != 2 {
		t.Fatalf("expected 2 queued, got %d", o.Len())
	}
}

func TestOutboxPushFrontPreservesOrder(t *testing.T) {
	o := newOutbox(2)
	if err := o.Append(outboxEntry{messageID: "a"}); err != nil {
		t.Fatalf("append: %+v", err)
	}
	if err := o.Append(outboxEntry{messageID: "b"}); err != nil {
		t.Fatalf("append: %+v", err)
	}

	entry, _ := o.Pop()
	// The write bounced; the entry goes back even with the queue full.
	o.PushFront(entry)

	got, _ := o.Pop()
	if got.messageID != "a" {
		t.Fatalf("requeued entry should pop first, got %s", got.messageID)
	}
	got, _ = o.Pop()
	if got.messageID != "b" {
		t.Fatalf("expected b after requeue, got %s", got.messageID)
	}
}

func TestOutboxPopBlocksUntilAppend(t *testing.T) {
	o := newOutbox(2)
	popped := make(chan outboxEntry, 1)
	go func() {
		entry, ok := o.Pop()
		if ok {
			popped <- entry
		}
	}()

	select {
	case <-popped:
		t.Fatal("pop returned on empty outbox")
	case <-time.After(20 * time.Millisecond):
	}

	if err := o.Append(outboxEntry{messageID: "a"}); err != nil {
		t.Fatalf("append: %+v", err)
	}
	select {
	case entry := <-popped:
		if entry.messageID != "a" {
			t.Fatalf("expected a, got %s", entry.messageID)
		}
	case <-time.After(time.Second):
		t.Fatal("pop did not wake")
	}
}

func TestOutboxCloseUnblocksPop(t *testing.T) {
	o := newOutbox(4)
	unblocked := make(chan bool, 1)
	go func() {
		_, ok := o.Pop()
		unblocked <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	o.Close()

	select {
	case ok := <-unblocked:
		if ok {
			t.Fatal("pop after close should report closed")
		}
	case <-time.After(time.Second):
		t.Fatal("close did not unblock pop")
	}
}

func TestOutboxCloseKeepsEntriesForDrain(t *testing.T) {
	o := newOutbox(4)
	if err := o.Append(outboxEntry{messageID: "a"}); err != nil {
		t.Fatalf("append: %+v", err)
	}
	o.Close()

	// Pop refuses after close even with entries queued.
	if _, ok := o.Pop(); ok {
		t.Fatal("pop after close should report closed")
	}
	if err := o.Append(outboxEntry{messageID: "b"}); !stderrors.Is(err, exception.ErrSessionClosed) {
		t.Fatalf("expected session closed, got %+v", err)
	}

	drained := o.Drain()
	if len(drained) != 1 || drained[0].messageID != "a" {
		t.Fatalf("expected drained [a], got %+v", drained)
	}
	if len(o.Drain()) != 0 {
		t.Fatal("second drain should be empty")
	}
}
