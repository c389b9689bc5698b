package contract

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"contractflow/catalog"
	"contractflow/generate"
	"contractflow/journal"
	"contractflow/logging"
	"contractflow/workflow"
)

// Service keeps drafts in memory for the lifetime of the process.
type Service struct {
	catalog     *catalog.Catalog
	generator   generate.Generator
	recorder    journal.Recorder
	logger      logrus.FieldLogger
	idGenerator func() string
	now         func() time.Time

	mu     sync.RWMutex
	drafts map[string]*Draft
}

func NewService(cat *catalog.Catalog, gen generate.Generator, recorder journal.Recorder) *Service {
	if gen == nil {
		gen = generate.Template{}
	}
	if recorder == nil {
		recorder = journal.Nop()
	}
	return &Service{
		catalog:     cat,
		generator:   gen,
		recorder:    recorder,
		logger:      logging.Nop(),
		idGenerator: newID,
		now:         time.Now,
		drafts:      make(map[string]*Draft),
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

// Create starts a new draft owned by ownerID.
func (s *Service) Create(ctx context.Context, ownerID string) (*Draft, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrForbidden
	}
	now := s.now().UTC()
	d := &Draft{
		id:           s.idGenerator(),
		ownerID:      ownerID,
		catalog:      s.catalog,
		generator:    s.generator,
		recorder:     s.recorder,
		now:          s.now,
		idGen:        s.idGenerator,
		contractType: workflow.MustSelection(s.catalog.ContractTypes),
		schedule:     workflow.MustSelection(s.catalog.PaymentSchedules),
		status:       StatusDraft,
		createdAt:    now,
		updatedAt:    now,
	}
	d.logger = s.logger.WithField("contract_id", d.id)
	d.wizard, _ = workflow.NewWizard(steps, d.gate)
	d.generation = workflow.NewAction("contract_generation", 0, d.generateText,
		workflow.WithLogger(d.logger),
		workflow.WithFailureMessage(GenerationFailedMessage),
	)
	d.generation.OnSuccess(d.storeGenerated)

	s.mu.Lock()
	s.drafts[d.id] = d
	s.mu.Unlock()

	d.record(ctx, "CONTRACT_CREATED", ownerID, map[string]any{"owner_id": ownerID}, "contract.created", nil)
	return d, nil
}

func (s *Service) Get(id string) (*Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drafts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

// GetFor returns the draft when userID participates in it.
func (s *Service) GetFor(id, userID string) (*Draft, error) {
	d, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if !d.IsParticipant(userID) {
		return nil, ErrForbidden
	}
	return d, nil
}

// List returns the drafts userID participates in, newest first.
func (s *Service) List(userID string) []*Draft {
	s.mu.RLock()
	all := make([]*Draft, 0, len(s.drafts))
	for _, d := range s.drafts {
		all = append(all, d)
	}
	s.mu.RUnlock()

	out := all[:0]
	for _, d := range all {
		if d.IsParticipant(userID) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].createdAt.After(out[j].createdAt) })
	return out
}
