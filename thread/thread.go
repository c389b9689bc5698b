// Package thread models chat, proposal and evidence histories as ordered,
// append-only logs whose entries carry a mutable status.
package thread

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the per-entry state. Each log picks its own default.
type Status string

const (
	StatusSent      Status = "sent"
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusSubmitted Status = "submitted"
)

var ErrEntryNotFound = errors.New("thread: entry not found")

// Entry wraps a payload with its position and status.
type Entry[T any] struct {
	ID        string    `json:"id"`
	Seq       int       `json:"seq"`
	Status    Status    `json:"status"`
	Payload   T         `json:"payload"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Log is safe for concurrent use. Order is append order only.
type Log[T any] struct {
	mu            sync.RWMutex
	entries       []Entry[T]
	index         map[string]int
	defaultStatus Status
	idGenerator   func() string
	now           func() time.Time
}

// New returns an empty log whose entries start in defaultStatus.
func New[T any](defaultStatus Status) *Log[T] {
	return &Log[T]{
		index:         make(map[string]int),
		defaultStatus: defaultStatus,
		idGenerator:   newTimeOrderedID,
		now:           time.Now,
	}
}

func (l *Log[T]) WithIDGenerator(gen func() string) *Log[T] {
	l.idGenerator = gen
	return l
}

func (l *Log[T]) WithClock(now func() time.Time) *Log[T] {
	l.now = now
	return l
}

// Append adds payload at the end with a fresh id and the default status.
func (l *Log[T]) Append(payload T) Entry[T] {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now().UTC()
	e := Entry[T]{
		ID:        l.idGenerator(),
		Seq:       len(l.entries) + 1,
		Status:    l.defaultStatus,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	l.index[e.ID] = len(l.entries)
	l.entries = append(l.entries, e)
	return e
}

// SetStatus changes the status of exactly one entry.
func (l *Log[T]) SetStatus(id string, status Status) (Entry[T], error) {
	return l.Update(id, func(e *Entry[T]) error {
		e.Status = status
		return nil
	})
}

// Update applies fn to the entry in place. If fn returns an error the entry is
// left unchanged. Id and sequence cannot be changed.
func (l *Log[T]) Update(id string, fn func(*Entry[T]) error) (Entry[T], error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.updateLocked(id, fn)
}

func (l *Log[T]) updateLocked(id string, fn func(*Entry[T]) error) (Entry[T], error) {
	i, ok := l.index[id]
	if !ok {
		return Entry[T]{}, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	draft := l.entries[i]
	if err := fn(&draft); err != nil {
		return Entry[T]{}, err
	}
	draft.ID = l.entries[i].ID
	draft.Seq = l.entries[i].Seq
	draft.CreatedAt = l.entries[i].CreatedAt
	draft.UpdatedAt = l.now().UTC()
	l.entries[i] = draft
	return draft, nil
}

func (l *Log[T]) Get(id string) (Entry[T], bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[id]
	if !ok {
		return Entry[T]{}, false
	}
	return l.entries[i], true
}

// Entries returns a copy of the log in insertion order.
func (l *Log[T]) Entries() []Entry[T] {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry[T], len(l.entries))
	copy(out, l.entries)
	return out
}

// Filter returns the entries for which keep reports true, in order.
func (l *Log[T]) Filter(keep func(Entry[T]) bool) []Entry[T] {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Entry[T]
	for _, e := range l.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func (l *Log[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func newTimeOrderedID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
