package realtime

import (
	"testing"
	"time"
)

func TestBackoffGrowth(t *testing.T) {
	b := Backoff{Min: time.Second, Max: time.Minute, Factor: 2}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 32 * time.Second},
		{7, time.Minute},
		{8, time.Minute},
		{100, time.Minute},
	}
	for _, c := range cases {
		if got := b.Next(c.attempt); got != c.want {
			t.Fatalf("attempt %d: got %v want %v", c.attempt, got, c.want)
		}
	}
}

func TestBackoffZeroAttempt(t *testing.T) {
	b := Backoff{Min: time.Second, Max: time.Minute, Factor: 2}
	if got := b.Next(0); got != time.Second {
		t.Fatalf("attempt 0: got %v want %v", got, time.Second)
	}
	if got := b.Next(-3); got != time.Second {
		t.Fatalf("attempt -3: got %v want %v", got, time.Second)
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	b := Backoff{Min: time.Second, Max: time.Minute, Factor: 2, Jitter: 0.2}
	for attempt := 1; attempt <= 8; attempt++ {
		base := Backoff{Min: b.Min, Max: b.Max, Factor: b.Factor}.Next(attempt)
		lo := base - time.Duration(float64(base)*0.2)
		hi := base + time.Duration(float64(base)*0.2)
		for i := 0; i < 50; i++ {
			got := b.Next(attempt)
			if got < lo || got > hi {
				t.Fatalf("attempt %d: %v outside [%v, %v]", attempt, got, lo, hi)
			}
			if got > b.Max {
				t.Fatalf("attempt %d: %v exceeds max %v", attempt, got, b.Max)
			}
		}
	}
}

func TestBackoffDefaults(t *testing.T) {
	var b Backoff
	if got := b.Next(1); got != time.Second {
		t.Fatalf("zero-value min: got %v want %v", got, time.Second)
	}
	if got := b.Next(50); got != time.Minute {
		t.Fatalf("zero-value max: got %v want %v", got, time.Minute)
	}

	d := DefaultBackoff()
	if d.Min != time.Second || d.Max != time.Minute || d.Factor != 2.0 || d.Jitter != 0.2 {
		t.Fatalf("unexpected defaults: %+v", d)
	}
}
