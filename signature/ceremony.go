// Package signature runs the simulated e-signature ceremony of a contract.
package signature

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"contractflow/clock"
	"contractflow/journal"
	"contractflow/workflow"
)

var (
	ErrNotFound              = errors.New("signature: not found")
	ErrForbidden             = errors.New("signature: forbidden")
	ErrUnknownSigner         = errors.New("signature: unknown signer")
	ErrAlreadySigned         = errors.New("signature: already signed")
	ErrSigningInProgress     = errors.New("signature: signing in progress")
	ErrNotAllSigned          = errors.New("signature: not every signer has signed")
	ErrCeremonyClosed        = errors.New("signature: ceremony closed")
	ErrMissingIdempotencyKey = errors.New("signature: missing idempotency key")
	ErrNoSigners             = errors.New("signature: no signers")
)

// Ceremony collects one signature per non-witness party over a fixed document
// fingerprint.
type Ceremony struct {
	id          string
	contractID  string
	fingerprint string
	recorder    journal.Recorder
	logger      logrus.FieldLogger
	now         func() time.Time
	actions     map[string]*workflow.Action[Signed]

	mu            sync.Mutex
	signers       []Signer
	index         map[string]int
	status        Status
	completionKey string
	completedAt   time.Time
}

func (c *Ceremony) ID() string { return c.id }

func (c *Ceremony) ContractID() string { return c.contractID }

func (c *Ceremony) Fingerprint() string { return c.fingerprint }

// Sign checks the checklist gate and starts the signing action of partyID.
// The signer is marked signed once the action succeeds.
func (c *Ceremony) Sign(ctx context.Context, actorID, partyID string, checklist Checklist) error {
	c.mu.Lock()
	i, ok := c.index[partyID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSigner, partyID)
	}
	if c.status != StatusInProgress {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrCeremonyClosed, c.status)
	}
	signer := c.signers[i]
	c.mu.Unlock()

	if signer.UserID != "" && signer.UserID != actorID {
		return ErrForbidden
	}
	if err := checklist.Gate().Check("sign"); err != nil {
		return err
	}

	err := c.actions[partyID].Trigger(ctx)
	switch {
	case errors.Is(err, workflow.ErrActionCompleted):
		return ErrAlreadySigned
	case errors.Is(err, workflow.ErrActionPending):
		return ErrSigningInProgress
	case err != nil:
		return err
	}

	c.mu.Lock()
	if c.signers[i].Status == SignerPending {
		c.signers[i].Status = SignerSigning
	}
	c.mu.Unlock()
	c.record(ctx, "SIGNATURE_STARTED", actorID, map[string]any{"party_id": partyID}, "", "")
	return nil
}

// Decline closes the ceremony. Signatures already collected are kept.
func (c *Ceremony) Decline(ctx context.Context, actorID, partyID, reason string) error {
	c.mu.Lock()
	i, ok := c.index[partyID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSigner, partyID)
	}
	if c.status != StatusInProgress {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrCeremonyClosed, c.status)
	}
	if u := c.signers[i].UserID; u != "" && u != actorID {
		c.mu.Unlock()
		return ErrForbidden
	}
	if c.signers[i].Status == SignerSigned {
		c.mu.Unlock()
		return ErrAlreadySigned
	}
	c.signers[i].Status = SignerDeclined
	c.signers[i].Reason = reason
	c.status = StatusDeclined
	c.mu.Unlock()

	c.record(ctx, "SIGNATURE_DECLINED", actorID, map[string]any{
		"party_id": partyID,
		"reason":   reason,
	}, "signature.declined", "")
	return nil
}

// Complete marks the ceremony completed once every signer has signed. It is
// idempotent per key: replaying the key that completed the ceremony is a no-op.
func (c *Ceremony) Complete(ctx context.Context, actorID, idempotencyKey string) error {
	if idempotencyKey == "" {
		return ErrMissingIdempotencyKey
	}
	c.mu.Lock()
	switch c.status {
	case StatusCompleted:
		key := c.completionKey
		c.mu.Unlock()
		if key == idempotencyKey {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrCeremonyClosed, StatusCompleted)
	case StatusDeclined:
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrCeremonyClosed, StatusDeclined)
	}
	if err := c.gateLocked().Check("complete"); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrNotAllSigned, err)
	}
	c.status = StatusCompleted
	c.completionKey = idempotencyKey
	c.completedAt = c.now().UTC()
	signers := len(c.signers)
	c.mu.Unlock()

	c.record(ctx, "SIGNATURE_COMPLETED", actorID, map[string]any{
		"contract_id": c.contractID,
		"fingerprint": c.fingerprint,
		"signers":     signers,
	}, "signature.completed", c.journalKey(idempotencyKey))
	return nil
}

// journalKey scopes a client key to this ceremony; the journal dedups keys
// across every aggregate.
func (c *Ceremony) journalKey(idempotencyKey string) string {
	return "signature/" + c.id + "/complete/" + idempotencyKey
}

// Gate is enabled once every signer has signed.
func (c *Ceremony) Gate() workflow.Gate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gateLocked()
}

func (c *Ceremony) gateLocked() workflow.Gate {
	conds := make([]workflow.Condition, 0, len(c.signers))
	for _, s := range c.signers {
		conds = append(conds, workflow.Require("signed_"+s.PartyID, s.Status == SignerSigned))
	}
	return workflow.NewGate(conds...)
}

// Action exposes the signing action of one party.
func (c *Ceremony) Action(partyID string) (*workflow.Action[Signed], bool) {
	a, ok := c.actions[partyID]
	return a, ok
}

func (c *Ceremony) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Ceremony) State() State {
	c.mu.Lock()
	st := State{
		ID:          c.id,
		ContractID:  c.contractID,
		Fingerprint: c.fingerprint,
		Status:      c.status,
		Signers:     append([]Signer(nil), c.signers...),
	}
	if !c.completedAt.IsZero() {
		t := c.completedAt
		st.CompletedAt = &t
	}
	c.mu.Unlock()

	st.Actions = make(map[string]workflow.ActionState[Signed], len(c.actions))
	for id, a := range c.actions {
		st.Actions[id] = a.Snapshot()
	}
	return st
}

func (c *Ceremony) newSignAction(partyID string, delay time.Duration, clk clock.Clock) *workflow.Action[Signed] {
	work := func(context.Context) (Signed, error) {
		at := c.now().UTC()
		return Signed{Digest: Digest(c.fingerprint, partyID, at), SignedAt: at}, nil
	}
	a := workflow.NewAction("signature_"+partyID, delay, work,
		workflow.WithClock(clk),
		workflow.WithLogger(c.logger.WithField("party_id", partyID)),
	)
	a.OnSuccess(func(s Signed) { c.markSigned(partyID, s) })
	return a
}

func (c *Ceremony) markSigned(partyID string, s Signed) {
	c.mu.Lock()
	i := c.index[partyID]
	if c.status != StatusInProgress {
		c.mu.Unlock()
		c.logger.WithField("party_id", partyID).Info("signature: ceremony closed before signing finished")
		return
	}
	c.signers[i].Status = SignerSigned
	c.signers[i].Digest = s.Digest
	at := s.SignedAt
	c.signers[i].SignedAt = &at
	userID := c.signers[i].UserID
	c.mu.Unlock()

	c.record(context.Background(), "SIGNATURE_SIGNED", userID, map[string]any{
		"party_id": partyID,
		"digest":   s.Digest,
	}, "", "")
}

func (c *Ceremony) record(ctx context.Context, eventType, actorID string, payload map[string]any, topic, key string) {
	err := c.recorder.Record(ctx, journal.Event{
		AggregateType:  "signature",
		AggregateID:    c.id,
		Type:           eventType,
		ActorID:        actorID,
		Payload:        payload,
		Topic:          topic,
		OutboxPayload:  payload,
		IdempotencyKey: key,
	})
	if err != nil {
		c.logger.WithError(err).WithField("event", eventType).Warn("signature: journal write failed")
	}
}

// Digest binds a signature to the document fingerprint, the signer and the time.
func Digest(fingerprint, partyID string, at time.Time) string {
	sum := sha256.Sum256([]byte(fingerprint + "|" + partyID + "|" + at.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])
}
