package contract

import (
	"context"
	"fmt"
)

var transitions = map[Status][]Status{
	StatusDraft:            {StatusNegotiating, StatusPendingSignature, StatusCancelled},
	StatusNegotiating:      {StatusDraft, StatusPendingSignature, StatusCancelled},
	StatusPendingSignature: {StatusNegotiating, StatusSigned, StatusCancelled},
	StatusSigned:           {StatusActive, StatusDisputed},
	StatusActive:           {StatusCompleted, StatusDisputed},
	StatusDisputed:         {StatusActive, StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from -> to is in the lifecycle table.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type TransitionParams struct {
	ActorID    string
	NextStatus Status
	Payload    map[string]any
}

// Transition moves the draft through its lifecycle and records the change in
// the journal timeline and outbox.
func (d *Draft) Transition(ctx context.Context, params TransitionParams) error {
	d.mu.Lock()
	current := d.status
	if !CanTransition(current, params.NextStatus) {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, params.NextStatus)
	}
	d.status = params.NextStatus
	d.updatedAt = d.now().UTC()
	d.mu.Unlock()

	payload := map[string]any{
		"previous_status": current,
		"next_status":     params.NextStatus,
	}
	for k, v := range params.Payload {
		payload[k] = v
	}
	d.record(ctx, "CONTRACT_STATUS_CHANGED", params.ActorID, payload, "contract.status_changed", map[string]any{
		"previous": current,
		"next":     params.NextStatus,
	})
	return nil
}
