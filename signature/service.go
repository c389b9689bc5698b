package signature

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"contractflow/catalog"
	"contractflow/clock"
	"contractflow/contract"
	"contractflow/journal"
	"contractflow/logging"
	"contractflow/workflow"
)

// Document is the contract being signed.
type Document interface {
	ID() string
	Parties() []contract.Party
	Fingerprint() string
}

// Service keeps one ceremony per contract.
type Service struct {
	catalog     *catalog.Catalog
	recorder    journal.Recorder
	clock       clock.Clock
	logger      logrus.FieldLogger
	idGenerator func() string

	mu         sync.RWMutex
	ceremonies map[string]*Ceremony
	byContract map[string]string
}

func NewService(cat *catalog.Catalog, recorder journal.Recorder) *Service {
	if recorder == nil {
		recorder = journal.Nop()
	}
	return &Service{
		catalog:     cat,
		recorder:    recorder,
		clock:       clock.Real(),
		logger:      logging.Nop(),
		idGenerator: uuid.NewString,
		ceremonies:  make(map[string]*Ceremony),
		byContract:  make(map[string]string),
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

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// Start opens a ceremony over the current rendering of doc. Witnesses do not
// sign. A contract whose previous ceremony was declined may start again.
func (s *Service) Start(ctx context.Context, actorID string, doc Document) (*Ceremony, error) {
	c := &Ceremony{
		id:          s.idGenerator(),
		contractID:  doc.ID(),
		fingerprint: doc.Fingerprint(),
		recorder:    s.recorder,
		now:         s.clock.Now,
		actions:     make(map[string]*workflow.Action[Signed]),
		index:       make(map[string]int),
		status:      StatusInProgress,
	}
	c.logger = s.logger.WithFields(logrus.Fields{"signature_id": c.id, "contract_id": c.contractID})
	for _, p := range doc.Parties() {
		if p.Role == contract.RoleWitness {
			continue
		}
		c.index[p.ID] = len(c.signers)
		c.signers = append(c.signers, Signer{PartyID: p.ID, Name: p.Name, UserID: p.UserID, Status: SignerPending})
		c.actions[p.ID] = c.newSignAction(p.ID, s.delay(), s.clock)
	}
	if len(c.signers) == 0 {
		return nil, ErrNoSigners
	}

	s.mu.Lock()
	if prevID, ok := s.byContract[c.contractID]; ok {
		if prev := s.ceremonies[prevID]; prev.Status() != StatusDeclined {
			s.mu.Unlock()
			return prev, nil
		}
	}
	s.ceremonies[c.id] = c
	s.byContract[c.contractID] = c.id
	s.mu.Unlock()

	c.record(ctx, "SIGNATURE_REQUESTED", actorID, map[string]any{
		"contract_id": c.contractID,
		"fingerprint": c.fingerprint,
		"signers":     len(c.signers),
	}, "signature.requested", "")
	return c, nil
}

func (s *Service) Get(id string) (*Ceremony, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.ceremonies[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *Service) ForContract(contractID string) (*Ceremony, error) {
	s.mu.RLock()
	id, ok := s.byContract[contractID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.Get(id)
}

func (s *Service) delay() time.Duration {
	if s.catalog != nil && s.catalog.Delays.Signature > 0 {
		return s.catalog.Delays.Signature
	}
	return 1500 * time.Millisecond
}
