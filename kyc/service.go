package kyc

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"contractflow/catalog"
	"contractflow/clock"
	"contractflow/journal"
	"contractflow/logging"
)

// Service owns one Flow per user for the lifetime of the process.
type Service struct {
	catalog  *catalog.Catalog
	recorder journal.Recorder
	clock    clock.Clock
	logger   logrus.FieldLogger
	verifier Verifier

	mu    sync.Mutex
	flows map[string]*Flow
}

func NewService(cat *catalog.Catalog, recorder journal.Recorder) *Service {
	if recorder == nil {
		recorder = journal.Nop()
	}
	return &Service{
		catalog:  cat,
		recorder: recorder,
		clock:    clock.Real(),
		logger:   logging.Nop(),
		verifier: RequiredDocumentsVerifier,
		flows:    make(map[string]*Flow),
	}
}

func (s *Service) WithClock(c clock.Clock) *Service {
	s.clock = c
	return s
}

func (s *Service) WithLogger(l logrus.FieldLogger) *Service {
	s.logger = l
	return s
}

func (s *Service) WithVerifier(v Verifier) *Service {
	s.verifier = v
	return s
}

// Flow returns the user's flow, creating it on first use.
func (s *Service) Flow(userID string) *Flow {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.flows[userID]; ok {
		return f
	}
	f := newFlow(userID, flowDeps{
		clock:    s.clock,
		delay:    s.delay(),
		recorder: s.recorder,
		logger:   s.logger,
		docTypes: s.catalog.DocumentTypes,
		verifier: s.verifier,
	})
	s.flows[userID] = f
	return f
}

// Lookup returns an existing flow without creating one.
func (s *Service) Lookup(userID string) (*Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return f, nil
}

// StatusOf reports the verification status, unverified for unknown users.
func (s *Service) StatusOf(userID string) Status {
	f, err := s.Lookup(userID)
	if err != nil {
		return StatusUnverified
	}
	return f.Status()
}

func (s *Service) delay() time.Duration {
	if s.catalog.Delays.KYCVerification > 0 {
		return s.catalog.Delays.KYCVerification
	}
	return 3 * time.Second
}
