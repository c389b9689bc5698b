// Package journal mirrors workflow events into an audit timeline and an
// outbox. It is never the source of truth for domain state.
package journal

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrDuplicateIdempotencyKey signals the key was already recorded.
	ErrDuplicateIdempotencyKey = errors.New("journal: duplicate idempotency key")
	ErrMissingAggregate        = errors.New("journal: missing aggregate")
)

// Event is one business event. Topic is optional: without it no outbox
// message is written.
type Event struct {
	AggregateType  string
	AggregateID    string
	Type           string
	ActorID        string
	Payload        map[string]any
	Topic          string
	OutboxPayload  map[string]any
	IdempotencyKey string
}

// Recorder persists events. Implementations skip events whose idempotency key
// was seen before and return nil for them.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

func validate(ev Event) error {
	if ev.AggregateType == "" || ev.AggregateID == "" || ev.Type == "" {
		return ErrMissingAggregate
	}
	return nil
}

type nop struct{}

// Nop discards every event.
func Nop() Recorder { return nop{} }

func (nop) Record(context.Context, Event) error { return nil }

// Recorded is an event as stored by Memory.
type Recorded struct {
	Event
	Seq        int
	RecordedAt time.Time
}

// OutboxMessage is a queued notification.
type OutboxMessage struct {
	Topic   string
	Payload map[string]any
}

// Memory keeps events in process, for tests and for running without a database.
type Memory struct {
	mu     sync.Mutex
	events []Recorded
	outbox []OutboxMessage
	seq    map[string]int
	keys   map[string]struct{}
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		seq:  make(map[string]int),
		keys: make(map[string]struct{}),
		now:  time.Now,
	}
}

func (m *Memory) Record(ctx context.Context, ev Event) error {
	if err := validate(ev); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.IdempotencyKey != "" {
		if _, dup := m.keys[ev.IdempotencyKey]; dup {
			return nil
		}
		m.keys[ev.IdempotencyKey] = struct{}{}
	}
	agg := ev.AggregateType + "/" + ev.AggregateID
	m.seq[agg]++
	m.events = append(m.events, Recorded{Event: ev, Seq: m.seq[agg], RecordedAt: m.now().UTC()})
	if ev.Topic != "" {
		m.outbox = append(m.outbox, OutboxMessage{Topic: ev.Topic, Payload: outboxPayload(ev)})
	}
	return nil
}

// Events returns the timeline of one aggregate in seq order.
func (m *Memory) Events(aggregateType, aggregateID string) []Recorded {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Recorded
	for _, e := range m.events {
		if e.AggregateType == aggregateType && e.AggregateID == aggregateID {
			out = append(out, e)
		}
	}
	return out
}

func (m *Memory) Outbox() []OutboxMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboxMessage, len(m.outbox))
	copy(out, m.outbox)
	return out
}

func timelinePayload(ev Event) map[string]any {
	payload := make(map[string]any, len(ev.Payload)+1)
	for k, v := range ev.Payload {
		payload[k] = v
	}
	if ev.ActorID != "" {
		payload["actor_id"] = ev.ActorID
	}
	return payload
}

func outboxPayload(ev Event) map[string]any {
	payload := make(map[string]any, len(ev.OutboxPayload)+2)
	for k, v := range ev.OutboxPayload {
		payload[k] = v
	}
	payload["aggregate_type"] = ev.AggregateType
	payload["aggregate_id"] = ev.AggregateID
	return payload
}
