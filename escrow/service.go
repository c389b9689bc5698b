package escrow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"contractflow/catalog"
	"contractflow/clock"
	"contractflow/journal"
	"contractflow/logging"
	"contractflow/workflow"
)

const DefaultFeeBPS = 250

// OpenParams describes a new escrow account.
type OpenParams struct {
	ContractID string
	PayerID    string
	PayeeID    string
	Amount     int64
	Currency   string
	Conditions []ConditionKind
}

// Service owns escrow accounts, wallets and checkouts in memory.
type Service struct {
	catalog     *catalog.Catalog
	recorder    journal.Recorder
	clock       clock.Clock
	logger      logrus.FieldLogger
	idGenerator func() string
	feeBPS      int

	mu         sync.RWMutex
	accounts   map[string]*Account
	byContract map[string]string
	wallets    map[string]*Wallet
	checkouts  map[string]*Checkout
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
		feeBPS:      DefaultFeeBPS,
		accounts:    make(map[string]*Account),
		byContract:  make(map[string]string),
		wallets:     make(map[string]*Wallet),
		checkouts:   make(map[string]*Checkout),
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

func (s *Service) WithFeeBPS(bps int) *Service {
	s.feeBPS = bps
	return s
}

// Open creates the escrow account of a contract. Every listed condition must
// be met before release; signature_completed is always required.
func (s *Service) Open(ctx context.Context, p OpenParams) (*Account, error) {
	if p.Amount <= 0 || p.Amount > catalog.MaxAmount {
		return nil, fmt.Errorf("%w: amount must be between 1 and %d", ErrInvalidAmount, catalog.MaxAmount)
	}
	currency := strings.ToUpper(p.Currency)
	if s.catalog != nil && !s.catalog.HasCurrency(currency) {
		return nil, fmt.Errorf("%w: unsupported currency %q", ErrInvalidAmount, p.Currency)
	}
	kinds := append([]ConditionKind{ConditionSignatureCompleted}, p.Conditions...)
	seen := make(map[ConditionKind]bool, len(kinds))
	var conditions []Condition
	for _, k := range kinds {
		if _, err := ParseConditionKind(string(k)); err != nil {
			return nil, err
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		conditions = append(conditions, Condition{Kind: k})
	}

	a := &Account{
		id:         s.idGenerator(),
		contractID: p.ContractID,
		payerID:    p.PayerID,
		payeeID:    p.PayeeID,
		amount:     p.Amount,
		currency:   currency,
		recorder:   s.recorder,
		now:        s.clock.Now,
		wallet:     s.Wallet,
		status:     StatusAwaitingFunding,
		conditions: conditions,
	}
	a.logger = s.logger.WithFields(logrus.Fields{"escrow_id": a.id, "contract_id": a.contractID})
	a.release = workflow.NewAction("escrow_release", s.delay(s.releaseDelay(), 4500*time.Millisecond), a.runRelease,
		workflow.WithClock(s.clock),
		workflow.WithLogger(a.logger),
	)
	a.release.OnSuccess(a.released)

	s.mu.Lock()
	if _, exists := s.byContract[p.ContractID]; exists && p.ContractID != "" {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: contract %s already has an escrow account", ErrInvalidTransition, p.ContractID)
	}
	s.accounts[a.id] = a
	s.byContract[p.ContractID] = a.id
	s.mu.Unlock()

	a.record(ctx, "ESCROW_OPENED", p.PayerID, map[string]any{
		"contract_id": p.ContractID,
		"amount":      p.Amount,
		"currency":    currency,
	}, "escrow.opened")
	return a, nil
}

func (s *Service) Get(id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

func (s *Service) ForContract(contractID string) (*Account, error) {
	s.mu.RLock()
	id, ok := s.byContract[contractID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.Get(id)
}

// Wallet returns the user's wallet, creating an empty one on first use.
func (s *Service) Wallet(userID string) *Wallet {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		w = &Wallet{userID: userID, now: s.clock.Now, newID: s.idGenerator}
		s.wallets[userID] = w
	}
	return w
}

// Checkout returns the payment flow of an account. Only the payer may pay.
func (s *Service) Checkout(accountID, userID string) (*Checkout, error) {
	a, err := s.Get(accountID)
	if err != nil {
		return nil, err
	}
	if a.payerID != userID {
		return nil, ErrForbidden
	}
	wallet := s.Wallet(userID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.checkouts[accountID]; ok {
		return c, nil
	}
	var methods []workflow.Option
	if s.catalog != nil {
		methods = s.catalog.PaymentMethods
	}
	c := &Checkout{
		account: a,
		wallet:  wallet,
		feeBPS:  s.feeBPS,
		now:     s.clock.Now,
		method:  workflow.MustSelection(methods),
	}
	c.payment = workflow.NewAction("escrow_payment", s.delay(s.paymentDelay(), 2*time.Second), c.pay,
		workflow.WithClock(s.clock),
		workflow.WithLogger(a.logger),
		workflow.WithFailureMessage(PaymentFailedMessage),
	)
	s.checkouts[accountID] = c
	return c, nil
}

func (s *Service) paymentDelay() time.Duration {
	if s.catalog == nil {
		return 0
	}
	return s.catalog.Delays.Payment
}

func (s *Service) releaseDelay() time.Duration {
	if s.catalog == nil {
		return 0
	}
	return s.catalog.Delays.EscrowRelease
}

func (s *Service) delay(configured, fallback time.Duration) time.Duration {
	if configured > 0 {
		return configured
	}
	return fallback
}
