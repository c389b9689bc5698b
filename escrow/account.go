// Package escrow simulates holding contract funds until release conditions
// are met, plus the wallet and checkout flow that funds an escrow.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"contractflow/journal"
	"contractflow/workflow"
)

var (
	ErrNotFound          = errors.New("escrow: not found")
	ErrForbidden         = errors.New("escrow: forbidden")
	ErrInvalidTransition = errors.New("escrow: invalid status transition")
	ErrInvalidAmount     = errors.New("escrow: invalid amount")
	ErrInsufficientFunds = errors.New("escrow: insufficient wallet balance")
	ErrUnknownCondition  = errors.New("escrow: condition not required")
)

var transitions = map[Status][]Status{
	StatusAwaitingFunding: {StatusFunded},
	StatusFunded:          {StatusReleased, StatusDisputed, StatusRefunded},
	StatusDisputed:        {StatusReleased, StatusRefunded},
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Account holds the funds of one contract.
type Account struct {
	id         string
	contractID string
	payerID    string
	payeeID    string
	amount     int64
	currency   string
	recorder   journal.Recorder
	logger     logrus.FieldLogger
	now        func() time.Time
	wallet     func(userID string) *Wallet
	release    *workflow.Action[struct{}]

	mu         sync.Mutex
	status     Status
	conditions []Condition
	fundedAt   time.Time
	settledAt  time.Time
}

func (a *Account) ID() string { return a.id }

func (a *Account) ContractID() string { return a.contractID }

func (a *Account) PayerID() string { return a.payerID }

func (a *Account) PayeeID() string { return a.payeeID }

func (a *Account) Amount() int64 { return a.amount }

func (a *Account) Currency() string { return a.currency }

// IsParty reports whether userID pays into or is paid from the account.
func (a *Account) IsParty(userID string) bool {
	return userID != "" && (userID == a.payerID || userID == a.payeeID)
}

func (a *Account) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Fund moves the account from awaiting_funding to funded.
func (a *Account) Fund(ctx context.Context, actorID, reference string) error {
	a.mu.Lock()
	if err := a.transitionLocked(StatusFunded); err != nil {
		a.mu.Unlock()
		return err
	}
	a.fundedAt = a.now().UTC()
	a.mu.Unlock()
	a.record(ctx, "ESCROW_FUNDED", actorID, map[string]any{"reference": reference, "amount": a.amount}, "escrow.funded")
	return nil
}

// MarkConditionMet ticks one release condition. Marking it twice is a no-op.
func (a *Account) MarkConditionMet(ctx context.Context, actorID string, kind ConditionKind) error {
	a.mu.Lock()
	found := false
	changed := false
	for i := range a.conditions {
		if a.conditions[i].Kind != kind {
			continue
		}
		found = true
		if !a.conditions[i].Met {
			at := a.now().UTC()
			a.conditions[i].Met = true
			a.conditions[i].MetAt = &at
			changed = true
		}
	}
	a.mu.Unlock()
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownCondition, kind)
	}
	if changed {
		a.record(ctx, "ESCROW_CONDITION_MET", actorID, map[string]any{"condition": kind}, "")
	}
	return nil
}

// ReleaseGate is enabled when the account is funded and every condition holds.
func (a *Account) ReleaseGate() workflow.Gate {
	a.mu.Lock()
	defer a.mu.Unlock()
	conds := []workflow.Condition{workflow.Require("funded", a.status == StatusFunded)}
	for _, c := range a.conditions {
		conds = append(conds, workflow.Require("condition_"+string(c.Kind), c.Met))
	}
	return workflow.NewGate(conds...)
}

// Release starts the simulated release. Funds reach the payee once it settles.
func (a *Account) Release(ctx context.Context) error {
	if err := a.ReleaseGate().Check("release"); err != nil {
		return err
	}
	return a.release.Trigger(ctx)
}

// ReleaseAction exposes the release action, e.g. to wait for it.
func (a *Account) ReleaseAction() *workflow.Action[struct{}] { return a.release }

// Freeze puts a funded account on hold while a dispute runs.
func (a *Account) Freeze(ctx context.Context, actorID, reason string) error {
	a.mu.Lock()
	if err := a.transitionLocked(StatusDisputed); err != nil {
		a.mu.Unlock()
		return err
	}
	a.mu.Unlock()
	a.record(ctx, "ESCROW_FROZEN", actorID, map[string]any{"reason": reason}, "escrow.frozen")
	return nil
}

// Settle closes the account without the release action: refund returns the
// funds to the payer, otherwise they go to the payee.
func (a *Account) Settle(ctx context.Context, actorID string, refund bool) error {
	next := StatusReleased
	if refund {
		next = StatusRefunded
	}
	a.mu.Lock()
	if err := a.transitionLocked(next); err != nil {
		a.mu.Unlock()
		return err
	}
	a.settledAt = a.now().UTC()
	a.mu.Unlock()

	a.payout(next)
	a.record(ctx, "ESCROW_SETTLED", actorID, map[string]any{"status": next}, "escrow.settled")
	return nil
}

func (a *Account) runRelease(context.Context) (struct{}, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.transitionLocked(StatusReleased); err != nil {
		return struct{}{}, err
	}
	a.settledAt = a.now().UTC()
	return struct{}{}, nil
}

func (a *Account) released(struct{}) {
	a.payout(StatusReleased)
	a.record(context.Background(), "ESCROW_RELEASED", a.payerID, map[string]any{"amount": a.amount}, "escrow.released")
}

func (a *Account) payout(st Status) {
	if a.wallet == nil {
		return
	}
	switch {
	case st == StatusRefunded:
		a.wallet(a.payerID).Credit(a.amount, a.currency, a.id, "Escrow refund")
	case a.payeeID != "":
		a.wallet(a.payeeID).Credit(a.amount, a.currency, a.id, "Escrow release")
	}
}

func (a *Account) transitionLocked(next Status) error {
	if !CanTransition(a.status, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.status, next)
	}
	a.status = next
	return nil
}

func (a *Account) State() AccountState {
	gate := a.ReleaseGate().Result()
	a.mu.Lock()
	st := AccountState{
		ID:          a.id,
		ContractID:  a.contractID,
		PayerID:     a.payerID,
		PayeeID:     a.payeeID,
		Amount:      a.amount,
		Currency:    a.currency,
		Status:      a.status,
		Conditions:  append([]Condition(nil), a.conditions...),
		ReleaseGate: gate,
		FundedAt:    timePtr(a.fundedAt),
		SettledAt:   timePtr(a.settledAt),
	}
	a.mu.Unlock()
	st.Release = a.release.Snapshot()
	return st
}

func (a *Account) record(ctx context.Context, eventType, actorID string, payload map[string]any, topic string) {
	err := a.recorder.Record(ctx, journal.Event{
		AggregateType: "escrow",
		AggregateID:   a.id,
		Type:          eventType,
		ActorID:       actorID,
		Payload:       payload,
		Topic:         topic,
		OutboxPayload: payload,
	})
	if err != nil {
		a.logger.WithError(err).WithField("event", eventType).Warn("escrow: journal write failed")
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
