package main

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"contractflow/contract"
	"contractflow/negotiation"
)

// roleOf tells whether the caller negotiates as the contract owner or as the
// other side.
func roleOf(d *contract.Draft, userID string) negotiation.MessageRole {
	if d.OwnerID() == userID {
		return negotiation.RoleUser
	}
	return negotiation.RoleCounterparty
}

// session loads the negotiation named in the path with its contract, for
// contract participants only.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*negotiation.Session, *contract.Draft, bool) {
	sess, err := s.negotiations.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return nil, nil, false
	}
	d, err := s.contracts.GetFor(sess.ContractID(), userIDFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return nil, nil, false
	}
	return sess, d, true
}

// handleStartNegotiation opens negotiation over the generated clauses and
// moves a draft contract to negotiating.
func (s *Server) handleStartNegotiation(w http.ResponseWriter, r *http.Request) {
	d, ok := s.participantDraft(w, r)
	if !ok {
		return
	}
	clauses := d.Clauses()
	if len(clauses) == 0 {
		s.writeError(w, r, fmt.Errorf("%w: no clauses to negotiate", contract.ErrInvalidInput))
		return
	}
	inputs := make([]negotiation.ClauseInput, 0, len(clauses))
	for _, c := range clauses {
		inputs = append(inputs, negotiation.ClauseInput{ID: c.ID, Title: c.Title, Text: c.Text})
	}

	actorID := userIDFrom(r.Context())
	sess, err := s.negotiations.Start(r.Context(), d.ID(), actorID, inputs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if d.Status() == contract.StatusDraft {
		if err := d.Transition(r.Context(), contract.TransitionParams{
			ActorID:    actorID,
			NextStatus: contract.StatusNegotiating,
			Payload:    map[string]any{"negotiation_id": sess.ID()},
		}); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, sess.State())
}

func (s *Server) handleGetNegotiation(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClauseID  string `json:"clauseId"`
		Text      string `json:"text"`
		Rationale string `json:"rationale"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	sess, d, ok := s.session(w, r)
	if !ok {
		return
	}
	userID := userIDFrom(r.Context())
	entry, err := sess.Propose(r.Context(), negotiation.Proposal{
		ClauseID:  req.ClauseID,
		AuthorID:  userID,
		Role:      roleOf(d, userID),
		Text:      req.Text,
		Rationale: req.Rationale,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// handleAcceptProposal settles the proposal and copies the agreed text into
// the contract clauses.
func (s *Server) handleAcceptProposal(w http.ResponseWriter, r *http.Request) {
	sess, d, ok := s.session(w, r)
	if !ok {
		return
	}
	if st := d.Status(); st != contract.StatusDraft && st != contract.StatusNegotiating {
		s.writeError(w, r, fmt.Errorf("%w: status is %s", contract.ErrNotEditable, st))
		return
	}
	clause, err := sess.Accept(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "pid"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := d.AdoptClauses([]contract.Clause{{ID: clause.ID, Title: clause.Title, Text: clause.Text}}); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

func (s *Server) handleRejectProposal(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.session(w, r)
	if !ok {
		return
	}
	if _, err := sess.Reject(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "pid")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	sess, d, ok := s.session(w, r)
	if !ok {
		return
	}
	userID := userIDFrom(r.Context())
	entry, err := sess.Post(r.Context(), negotiation.Message{
		AuthorID: userID,
		Role:     roleOf(d, userID),
		Content:  req.Content,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// handleSuggest asks the generator for a rewording and files it as an AI proposal.
func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Instructions string `json:"instructions"`
	}
	if r.ContentLength != 0 {
		if err := readJSON(w, r, &req); err != nil {
			writeBadJSON(w, r, err)
			return
		}
	}
	sess, _, ok := s.session(w, r)
	if !ok {
		return
	}
	entry, err := sess.Suggest(r.Context(), chi.URLParam(r, "cid"), req.Instructions, s.generator)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}
