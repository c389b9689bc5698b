package negotiation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"contractflow/journal"
	"contractflow/logging"
	"contractflow/thread"
)

var ErrSessionExists = errors.New("negotiation: session already started")

// ClauseInput seeds a session clause.
type ClauseInput struct {
	ID    string
	Title string
	Text  string
}

// Service keeps one session per contract.
type Service struct {
	recorder    journal.Recorder
	logger      logrus.FieldLogger
	idGenerator func() string
	now         func() time.Time

	mu         sync.RWMutex
	sessions   map[string]*Session
	byContract map[string]string
}

func NewService(recorder journal.Recorder) *Service {
	if recorder == nil {
		recorder = journal.Nop()
	}
	return &Service{
		recorder:    recorder,
		logger:      logging.Nop(),
		idGenerator: uuid.NewString,
		now:         time.Now,
		sessions:    make(map[string]*Session),
		byContract:  make(map[string]string),
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithLogger(l logrus.FieldLogger) *Service {
	s.logger = l
	return s
}

// Start opens the negotiation of a contract. Every clause starts open.
func (s *Service) Start(ctx context.Context, contractID, actorID string, clauses []ClauseInput) (*Session, error) {
	s.mu.Lock()
	if _, ok := s.byContract[contractID]; ok {
		s.mu.Unlock()
		return nil, ErrSessionExists
	}
	sess := &Session{
		id:         s.idGenerator(),
		contractID: contractID,
		recorder:   s.recorder,
		index:      make(map[string]int, len(clauses)),
		proposals:  thread.New[Proposal](thread.StatusPending).WithClock(s.now),
		messages:   thread.New[Message](thread.StatusSent).WithClock(s.now),
	}
	sess.logger = s.logger.WithField("negotiation_id", sess.id)
	for _, c := range clauses {
		if _, dup := sess.index[c.ID]; dup || c.ID == "" {
			continue
		}
		sess.index[c.ID] = len(sess.clauses)
		sess.clauses = append(sess.clauses, Clause{ID: c.ID, Title: c.Title, Text: c.Text, Status: ClauseOpen})
	}
	s.sessions[sess.id] = sess
	s.byContract[contractID] = sess.id
	s.mu.Unlock()

	sess.record(ctx, "NEGOTIATION_STARTED", actorID, map[string]any{
		"contract_id": contractID,
		"clauses":     len(sess.clauses),
	}, "negotiation.started")
	return sess, nil
}

func (s *Service) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

func (s *Service) ForContract(contractID string) (*Session, error) {
	s.mu.RLock()
	id, ok := s.byContract[contractID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.Get(id)
}
