package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"contractflow/contract"
	"contractflow/dispute"
	"contractflow/escrow"
)

// handleDisputes lists the caller's disputes, optionally for one contract;
// POST opens one over a contract the caller takes part in.
func (s *Server) handleDisputes(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	if r.Method == http.MethodGet {
		items, err := s.disputes.List(r.Context(), userID, r.URL.Query().Get("contractId"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newList(items))
		return
	}

	var req struct {
		ContractID string `json:"contractId"`
		Reason     string `json:"reason"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	if req.ContractID == "" {
		s.writeError(w, r, fmt.Errorf("%w: contractId is required", dispute.ErrInvalidInput))
		return
	}
	d, err := s.contracts.GetFor(req.ContractID, userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.disputes.Create(r.Context(), userID, d.ID(), req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.openDispute(r, d, rec)
	writeJSON(w, http.StatusCreated, rec)
}

// openDispute moves a signed or active contract to disputed and freezes its
// funded escrow. Failures are logged; the dispute stands either way.
func (s *Server) openDispute(r *http.Request, d *contract.Draft, rec dispute.Record) {
	actorID := userIDFrom(r.Context())
	logger := s.log().WithField("dispute_id", rec.ID)
	if st := d.Status(); st == contract.StatusSigned || st == contract.StatusActive {
		if err := d.Transition(r.Context(), contract.TransitionParams{
			ActorID:    actorID,
			NextStatus: contract.StatusDisputed,
			Payload:    map[string]any{"dispute_id": rec.ID},
		}); err != nil {
			logger.WithError(err).Warn("contract not moved to disputed")
		}
	}
	a, err := s.escrows.ForContract(d.ID())
	if err != nil {
		if !errors.Is(err, escrow.ErrNotFound) {
			logger.WithError(err).Warn("escrow lookup failed")
		}
		return
	}
	if a.Status() == escrow.StatusFunded {
		if err := a.Freeze(r.Context(), actorID, rec.Reason); err != nil {
			logger.WithError(err).Warn("escrow not frozen")
		}
	}
}

// handleDisputeDetail returns one dispute; PATCH assigns the mediator, moves
// the status or resolves it. Resolving settles a frozen escrow and closes the
// contract's dispute.
func (s *Server) handleDisputeDetail(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	id := chi.URLParam(r, "id")
	if r.Method == http.MethodGet {
		rec, err := s.disputes.Get(r.Context(), userID, id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}

	var req struct {
		Status     string `json:"status"`
		Resolution string `json:"resolution"`
		MediatorID string `json:"mediatorId"`
		Refund     bool   `json:"refund"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	rec, err := s.disputes.Get(r.Context(), userID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.MediatorID != "" {
		if rec, err = s.disputes.AssignMediator(r.Context(), userID, id, req.MediatorID); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if req.Status != "" {
		next, err := dispute.ParseStatus(req.Status)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if next == dispute.StatusResolved {
			rec, err = s.disputes.Resolve(r.Context(), userID, id, req.Resolution)
		} else {
			rec, err = s.disputes.Transition(r.Context(), userID, id, next)
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if next == dispute.StatusResolved {
			s.settleDispute(r, rec, req.Refund)
		}
	}
	writeJSON(w, http.StatusOK, rec)
}

// settleDispute pays out a frozen escrow and moves a disputed contract on:
// back to active when the funds go to the payee, cancelled on refund.
func (s *Server) settleDispute(r *http.Request, rec dispute.Record, refund bool) {
	actorID := userIDFrom(r.Context())
	logger := s.log().WithField("dispute_id", rec.ID)
	if a, err := s.escrows.ForContract(rec.ContractID); err == nil && a.Status() == escrow.StatusDisputed {
		if err := a.Settle(r.Context(), actorID, refund); err != nil {
			logger.WithError(err).Warn("escrow not settled")
		}
	}
	d, err := s.contracts.Get(rec.ContractID)
	if err != nil || d.Status() != contract.StatusDisputed {
		return
	}
	next := contract.StatusActive
	if refund {
		next = contract.StatusCancelled
	}
	if err := d.Transition(r.Context(), contract.TransitionParams{
		ActorID:    actorID,
		NextStatus: next,
		Payload:    map[string]any{"dispute_id": rec.ID, "resolution": rec.Resolution},
	}); err != nil {
		logger.WithError(err).Warn("contract not moved out of disputed")
	}
}

func (s *Server) handleDisputeEvidence(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	id := chi.URLParam(r, "id")
	if r.Method == http.MethodGet {
		entries, err := s.disputes.Evidence(r.Context(), userID, id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newList(entries))
		return
	}

	var req dispute.Evidence
	if err := readJSON(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	entry, err := s.disputes.AddEvidence(r.Context(), userID, id, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// handleReviewEvidence lets the mediator accept or reject one item.
func (s *Server) handleReviewEvidence(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Accept bool `json:"accept"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	entry, err := s.disputes.ReviewEvidence(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "id"), chi.URLParam(r, "eid"), req.Accept)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
