// Package clock abstracts wall time so simulated delays can be driven
// deterministically in tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Timer is the subset of *time.Timer the workflow code relies on.
type Timer interface {
	Stop() bool
}

// Clock reports the current time and schedules delayed callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Manual is a Clock that only moves when Advance is called. Callbacks due at
// or before the new time run synchronously inside Advance, in deadline order.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	pending []*manualTimer
	nextID  int
}

type manualTimer struct {
	owner    *Manual
	id       int
	deadline time.Time
	fn       func()
	stopped  bool
	fired    bool
}

// NewManual returns a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t := &manualTimer{owner: m, id: m.nextID, deadline: m.now.Add(d), fn: f}
	m.pending = append(m.pending, t)
	return t
}

// Advance moves the clock forward by d and fires every timer that became due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	now := m.now
	due := make([]*manualTimer, 0, len(m.pending))
	keep := m.pending[:0]
	for _, t := range m.pending {
		if t.stopped {
			continue
		}
		if !t.deadline.After(now) {
			t.fired = true
			due = append(due, t)
			continue
		}
		keep = append(keep, t)
	}
	m.pending = keep
	m.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].id < due[j].id
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, t := range due {
		t.fn()
	}
}

// Pending reports how many timers are still waiting to fire.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.pending {
		if !t.stopped {
			n++
		}
	}
	return n
}

func (t *manualTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}
