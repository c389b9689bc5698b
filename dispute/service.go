// Package dispute handles disputes raised over contracts: evidence, mediator
// assignment and resolution.
package dispute

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"contractflow/journal"
	"contractflow/logging"
	"contractflow/thread"
)

type Service struct {
	repo        *Repository
	recorder    journal.Recorder
	logger      logrus.FieldLogger
	idGenerator func() string

	mu       sync.Mutex
	evidence map[string]*thread.Log[Evidence]
}

func NewService(repo *Repository, recorder journal.Recorder) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	if recorder == nil {
		recorder = journal.Nop()
	}
	return &Service{
		repo:        repo,
		recorder:    recorder,
		logger:      logging.Nop(),
		idGenerator: uuid.NewString,
		evidence:    make(map[string]*thread.Log[Evidence]),
	}
}

func (s *Service) WithLogger(l logrus.FieldLogger) *Service {
	s.logger = l
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.repo.now = now
	return s
}

func (s *Service) List(ctx context.Context, userID, contractID string) ([]Record, error) {
	return s.repo.List(ctx, userID, contractID)
}

func (s *Service) Get(ctx context.Context, userID, id string) (Record, error) {
	return s.repo.Get(ctx, userID, id)
}

// Create opens a dispute over contractID on behalf of ownerID.
func (s *Service) Create(ctx context.Context, ownerID, contractID, reason string) (Record, error) {
	if strings.TrimSpace(contractID) == "" || strings.TrimSpace(reason) == "" {
		return Record{}, fmt.Errorf("%w: contract and reason are required", ErrInvalidInput)
	}
	rec, err := s.repo.Create(ctx, Record{
		ID:         s.idGenerator(),
		ContractID: contractID,
		OpenedBy:   ownerID,
		Reason:     strings.TrimSpace(reason),
	})
	if err != nil {
		return Record{}, err
	}
	s.record(ctx, rec.ID, "DISPUTE_OPENED", ownerID, map[string]any{
		"contract_id": contractID,
		"reason":      rec.Reason,
	}, "dispute.opened")
	return rec, nil
}

// Transition moves a dispute along its lifecycle.
func (s *Service) Transition(ctx context.Context, userID, id string, next Status) (Record, error) {
	var prev Status
	rec, err := s.repo.Update(ctx, userID, id, func(r *Record) error {
		if !CanTransition(r.Status, next) {
			return fmt.Errorf("%w: %s -> %s", ErrBadStatus, r.Status, next)
		}
		prev = r.Status
		r.Status = next
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	s.record(ctx, id, "DISPUTE_STATUS_CHANGED", userID, map[string]any{
		"previous_status": prev,
		"next_status":     next,
	}, "dispute.status_changed")
	return rec, nil
}

// Resolve closes the review with a resolution. Allowed from under_review and
// mediation.
func (s *Service) Resolve(ctx context.Context, userID, id, resolution string) (Record, error) {
	rec, err := s.repo.Update(ctx, userID, id, func(r *Record) error {
		if !CanTransition(r.Status, StatusResolved) {
			return fmt.Errorf("%w: %s -> %s", ErrBadStatus, r.Status, StatusResolved)
		}
		now := s.repo.now().UTC()
		r.Status = StatusResolved
		r.Resolution = strings.TrimSpace(resolution)
		r.ResolvedAt = &now
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	s.record(ctx, id, "DISPUTE_RESOLVED", userID, map[string]any{"resolution": rec.Resolution}, "dispute.resolved")
	return rec, nil
}

// AssignMediator sets the mediator. Only the opener may assign one, and only
// before the dispute is resolved.
func (s *Service) AssignMediator(ctx context.Context, userID, id, mediatorID string) (Record, error) {
	rec, err := s.repo.Update(ctx, userID, id, func(r *Record) error {
		if r.OpenedBy != userID {
			return ErrForbidden
		}
		if r.Status == StatusResolved || r.Status == StatusClosed {
			return fmt.Errorf("%w: dispute is %s", ErrBadStatus, r.Status)
		}
		if mediatorID == "" || mediatorID == r.OpenedBy {
			return fmt.Errorf("%w: mediator %q", ErrInvalidInput, mediatorID)
		}
		r.MediatorID = mediatorID
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	s.record(ctx, id, "DISPUTE_MEDIATOR_ASSIGNED", userID, map[string]any{"mediator_id": mediatorID}, "dispute.mediator_assigned")
	return rec, nil
}

// AddEvidence appends to the dispute's evidence thread while it is not closed.
func (s *Service) AddEvidence(ctx context.Context, userID, id string, ev Evidence) (thread.Entry[Evidence], error) {
	rec, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return thread.Entry[Evidence]{}, err
	}
	if rec.Status == StatusResolved || rec.Status == StatusClosed {
		return thread.Entry[Evidence]{}, fmt.Errorf("%w: dispute is %s", ErrBadStatus, rec.Status)
	}
	if strings.TrimSpace(ev.Title) == "" {
		return thread.Entry[Evidence]{}, fmt.Errorf("%w: evidence title is required", ErrInvalidInput)
	}
	ev.AuthorID = userID
	entry := s.evidenceLog(id).Append(ev)
	s.record(ctx, id, "DISPUTE_EVIDENCE_ADDED", userID, map[string]any{"evidence_id": entry.ID, "title": ev.Title}, "")
	return entry, nil
}

// ReviewEvidence accepts or rejects one submitted item. Only the assigned
// mediator reviews evidence.
func (s *Service) ReviewEvidence(ctx context.Context, userID, id, evidenceID string, accept bool) (thread.Entry[Evidence], error) {
	rec, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return thread.Entry[Evidence]{}, err
	}
	if rec.MediatorID == "" || rec.MediatorID != userID {
		return thread.Entry[Evidence]{}, ErrForbidden
	}
	status := thread.StatusRejected
	if accept {
		status = thread.StatusAccepted
	}
	entry, err := s.evidenceLog(id).Update(evidenceID, func(e *thread.Entry[Evidence]) error {
		if e.Status != thread.StatusSubmitted {
			return fmt.Errorf("%w: evidence already %s", ErrBadStatus, e.Status)
		}
		e.Status = status
		return nil
	})
	if err != nil {
		return thread.Entry[Evidence]{}, err
	}
	s.record(ctx, id, "DISPUTE_EVIDENCE_REVIEWED", userID, map[string]any{"evidence_id": evidenceID, "status": status}, "")
	return entry, nil
}

// Evidence returns the evidence thread of a dispute.
func (s *Service) Evidence(ctx context.Context, userID, id string) ([]thread.Entry[Evidence], error) {
	if _, err := s.repo.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.evidenceLog(id).Entries(), nil
}

func (s *Service) evidenceLog(id string) *thread.Log[Evidence] {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.evidence[id]
	if !ok {
		l = thread.New[Evidence](thread.StatusSubmitted).WithClock(s.repo.now)
		s.evidence[id] = l
	}
	return l
}

func (s *Service) record(ctx context.Context, id, eventType, actorID string, payload map[string]any, topic string) {
	err := s.recorder.Record(ctx, journal.Event{
		AggregateType: "dispute",
		AggregateID:   id,
		Type:          eventType,
		ActorID:       actorID,
		Payload:       payload,
		Topic:         topic,
		OutboxPayload: payload,
	})
	if err != nil {
		s.logger.WithError(err).WithField("event", eventType).Warn("dispute: journal write failed")
	}
}
