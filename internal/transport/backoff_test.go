package transport

import (
	"testing"
	"time"
)

func TestBackoffSchedule(t *testing.T) {
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	for attempt, d := range want {
		if got := Backoff(attempt); got != d {
			t.Fatalf("attempt %d: want %s got %s", attempt, d, got)
		}
	}
}

func TestBackoffCapsAtThirtySeconds(t *testing.T) {
	for _, attempt := range []int{5, 6, 10, 63, 100} {
		if got := Backoff(attempt); got != 30*time.Second {
			t.Fatalf("attempt %d: want 30s got %s", attempt, got)
		}
	}
}

func TestBackoffNegativeAttempt(t *testing.T) {
	if got := Backoff(-1); got != time.Second {
		t.Fatalf("want 1s got %s", got)
	}
}
