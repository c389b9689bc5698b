package clock

import (
	"testing"
	"time"
)

func TestManual_FiresInDeadlineOrder(t *testing.T) {
	m := NewManual(time.Unix(100, 0))
	var order []string
	m.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	m.AfterFunc(time.Second, func() { order = append(order, "a") })
	stopped := m.AfterFunc(time.Second, func() { order = append(order, "never") })
	if !stopped.Stop() {
		t.Fatal("expected stop to succeed on pending timer")
	}

	m.Advance(500 * time.Millisecond)
	if len(order) != 0 {
		t.Fatalf("expected nothing fired yet, got %v", order)
	}
	m.Advance(2 * time.Second)
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("unexpected fire order: %v", order)
	}
	if m.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", m.Pending())
	}
	if got := m.Now(); !got.Equal(time.Unix(102, int64(500*time.Millisecond))) {
		t.Fatalf("unexpected now: %v", got)
	}
}
