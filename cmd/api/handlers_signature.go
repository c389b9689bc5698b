package main

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"contractflow/contract"
	"contractflow/escrow"
	"contractflow/negotiation"
	"contractflow/signature"
	"contractflow/workflow"
)

// signingGate is enabled once the contract text exists and, when the contract
// was negotiated, every clause is agreed.
func (s *Server) signingGate(d *contract.Draft) workflow.Gate {
	gate := workflow.NewGate(workflow.Require("contract_generated", d.Generation().Succeeded()))
	if sess, err := s.negotiations.ForContract(d.ID()); err == nil {
		gate = gate.And(sess.Gate().Conditions()...)
	}
	return gate
}

// handleStartSignature freezes the negotiated text and opens the ceremony. The
// negotiation is closed first so no proposal can land between the gate check
// and the fingerprint; it reopens if the contract does not reach signature.
func (s *Server) handleStartSignature(w http.ResponseWriter, r *http.Request) {
	d, ok := s.participantDraft(w, r)
	if !ok {
		return
	}
	st := d.Status()
	freeze := st == contract.StatusDraft || st == contract.StatusNegotiating
	sess, err := s.negotiations.ForContract(d.ID())
	if err != nil {
		sess = nil
	}
	if sess != nil && freeze {
		sess.Close()
	}
	fail := func(err error) {
		if sess != nil && freeze {
			sess.Reopen()
		}
		s.writeError(w, r, err)
	}

	if err := s.signingGate(d).Check("signature"); err != nil {
		fail(err)
		return
	}
	actorID := userIDFrom(r.Context())
	if freeze {
		if sess != nil {
			if err := d.AdoptClauses(toContractClauses(sess.Clauses())); err != nil {
				fail(err)
				return
			}
		}
		if err := d.Transition(r.Context(), contract.TransitionParams{
			ActorID:    actorID,
			NextStatus: contract.StatusPendingSignature,
		}); err != nil {
			fail(err)
			return
		}
	}
	c, err := s.signatures.Start(r.Context(), actorID, d)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c.State())
}

func toContractClauses(in []negotiation.Clause) []contract.Clause {
	out := make([]contract.Clause, 0, len(in))
	for _, c := range in {
		out = append(out, contract.Clause{ID: c.ID, Title: c.Title, Text: c.Text})
	}
	return out
}

// ceremony loads the ceremony named in the path with its contract, for
// contract participants only.
func (s *Server) ceremony(w http.ResponseWriter, r *http.Request) (*signature.Ceremony, *contract.Draft, bool) {
	c, err := s.signatures.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return nil, nil, false
	}
	d, err := s.contracts.GetFor(c.ContractID(), userIDFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return nil, nil, false
	}
	return c, d, true
}

func (s *Server) handleGetSignature(w http.ResponseWriter, r *http.Request) {
	c, _, ok := s.ceremony(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.State())
}

// handleSign starts the signing action of one party; the signer shows as
// signing until it settles.
func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PartyID   string              `json:"partyId"`
		Checklist signature.Checklist `json:"checklist"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	c, _, ok := s.ceremony(w, r)
	if !ok {
		return
	}
	if err := c.Sign(detached(r), userIDFrom(r.Context()), req.PartyID, req.Checklist); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, c.State())
}

// handleDeclineSignature declines the ceremony; the contract goes back to
// negotiating and its negotiation reopens so it can be amended and signed again.
func (s *Server) handleDeclineSignature(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PartyID string `json:"partyId"`
		Reason  string `json:"reason"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	c, d, ok := s.ceremony(w, r)
	if !ok {
		return
	}
	actorID := userIDFrom(r.Context())
	if err := c.Decline(r.Context(), actorID, req.PartyID, req.Reason); err != nil {
		s.writeError(w, r, err)
		return
	}
	if d.Status() == contract.StatusPendingSignature {
		if err := d.Transition(r.Context(), contract.TransitionParams{
			ActorID:    actorID,
			NextStatus: contract.StatusNegotiating,
			Payload:    map[string]any{"reason": req.Reason},
		}); err != nil {
			s.log().WithError(err).WithField("contract_id", d.ID()).Warn("contract status not reverted after decline")
		}
	}
	if d.Status() == contract.StatusNegotiating {
		if sess, err := s.negotiations.ForContract(d.ID()); err == nil {
			sess.Reopen()
		}
	}
	writeJSON(w, http.StatusOK, c.State())
}

// handleCompleteSignature completes the ceremony once. The key comes from the
// Idempotency-Key header or the body.
func (s *Server) handleCompleteSignature(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IdempotencyKey string `json:"idempotencyKey"`
	}
	if r.ContentLength != 0 {
		if err := readJSON(w, r, &req); err != nil {
			writeBadJSON(w, r, err)
			return
		}
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}
	c, d, ok := s.ceremony(w, r)
	if !ok {
		return
	}
	actorID := userIDFrom(r.Context())
	if err := c.Complete(r.Context(), actorID, req.IdempotencyKey); err != nil {
		s.writeError(w, r, err)
		return
	}

	if d.Status() == contract.StatusPendingSignature {
		if err := d.Transition(r.Context(), contract.TransitionParams{
			ActorID:    actorID,
			NextStatus: contract.StatusSigned,
			Payload:    map[string]any{"signature_id": c.ID()},
		}); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if a, err := s.escrows.ForContract(d.ID()); err == nil {
		if err := a.MarkConditionMet(r.Context(), actorID, escrow.ConditionSignatureCompleted); err != nil {
			s.log().WithError(err).WithField("escrow_id", a.ID()).Warn("signature condition not marked")
		}
	} else if !errors.Is(err, escrow.ErrNotFound) {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.State())
}
