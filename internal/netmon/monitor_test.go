package netmon

import (
	"context"
	"testing"
	"time"
)

func TestMonitorStartsReachable(t *testing.T) {
	m := New()
	if !m.Reachable() {
		t.Fatal("fresh monitor should be reachable")
	}

	waited, err := m.WaitForConnection(t.Context())
	if err != nil {
		t.Fatalf("wait while reachable: %+v", err)
	}
	if waited {
		t.Fatal("wait should pass through while reachable")
	}
}

func TestMonitorWaitBlocksUntilReachable(t *testing.T) {
	m := New()
	m.SetReachable(false)

	type result struct {
		waited bool
		err    error
	}
	done := make(chan result, 1)
	go func() {
		waited, err := m.WaitForConnection(t.Context())
		done <- result{waited, err}
	}()

	select {
	case <-done:
		t.Fatal("wait returned while unreachable")
	case <-time.After(20 * time.Millisecond):
	}

	m.SetReachable(true)
	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("wait: %+v", r.err)
		}
		if !r.waited {
			t.Fatal("wait should report it actually waited")
		}
	case <-time.After(time.Second):
		t.Fatal("wait did not wake after SetReachable(true)")
	}
}

func TestMonitorWaitHonorsContext(t *testing.T) {
	m := New()
	m.SetReachable(false)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	waited, err := m.WaitForConnection(ctx)
	if err == nil {
		t.Fatal("expected context error")
	}
	if !waited {
		t.Fatal("a cancelled wait still waited")
	}
}

func TestMonitorNotify(t *testing.T) {
	m := New()

	var got []bool
	cancel := m.Notify(func(up bool) { got = append(got, up) })

	m.SetReachable(false)
	m.SetReachable(false) // no transition, no callback
	m.SetReachable(true)

	if len(got) != 2 || got[0] || !got[1] {
		t.Fatalf("expected [down up], got %v", got)
	}

	cancel()
	m.SetReachable(false)
	if len(got) != 2 {
		t.Fatal("cancelled watcher still fired")
	}
}
