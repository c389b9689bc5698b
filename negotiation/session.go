// Package negotiation runs clause-by-clause negotiation: proposals, chat and
// AI-suggested rewordings.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
	"github.com/sirupsen/logrus"

	"contractflow/generate"
	"contractflow/journal"
	"contractflow/thread"
	"contractflow/workflow"
)

var (
	ErrNotFound         = errors.New("negotiation: not found")
	ErrClauseNotFound   = errors.New("negotiation: clause not found")
	ErrProposalNotFound = errors.New("negotiation: proposal not found")
	ErrProposalSettled  = errors.New("negotiation: proposal already settled")
	ErrEmptyText        = errors.New("negotiation: empty text")
	ErrOwnProposal      = errors.New("negotiation: cannot settle own proposal")
	ErrSuggestFailed    = errors.New("negotiation: suggestion failed")
	ErrSessionClosed    = errors.New("negotiation: session closed")
)

// Session holds the clauses of one contract and the logs negotiated over them.
// mu guards clauses and every proposal status change, so accepting a proposal
// and rewriting its clause happen as one update.
type Session struct {
	id         string
	contractID string
	recorder   journal.Recorder
	logger     logrus.FieldLogger

	mu        sync.Mutex
	clauses   []Clause
	index     map[string]int
	proposals *thread.Log[Proposal]
	messages  *thread.Log[Message]
	closed    bool
}

// ID is the session identifier.
func (s *Session) ID() string { return s.id }

// ContractID is the contract the session negotiates.
func (s *Session) ContractID() string { return s.contractID }

// Close freezes the clauses while the contract is out for signature. Proposing,
// settling and suggesting fail with ErrSessionClosed until Reopen.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Reopen lets negotiation resume, for example after a declined signature.
func (s *Session) Reopen() {
	s.mu.Lock()
	s.closed = false
	s.mu.Unlock()
}

// Closed reports whether the clauses are frozen.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Propose records a pending proposal and puts its clause under negotiation.
// Proposing on an agreed clause reopens it.
func (s *Session) Propose(ctx context.Context, p Proposal) (thread.Entry[Proposal], error) {
	p.Text = strings.TrimSpace(p.Text)
	if p.Text == "" {
		return thread.Entry[Proposal]{}, ErrEmptyText
	}
	if p.Role == "" {
		p.Role = RoleUser
	}
	if _, err := ParseMessageRole(string(p.Role)); err != nil {
		return thread.Entry[Proposal]{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return thread.Entry[Proposal]{}, ErrSessionClosed
	}
	i, ok := s.index[p.ClauseID]
	if !ok {
		s.mu.Unlock()
		return thread.Entry[Proposal]{}, fmt.Errorf("%w: %s", ErrClauseNotFound, p.ClauseID)
	}
	p.EditDistance = levenshtein.ComputeDistance(s.clauses[i].Text, p.Text)
	entry := s.proposals.Append(p)
	s.clauses[i].Status = ClauseUnderNegotiation
	s.mu.Unlock()

	s.record(ctx, "PROPOSAL_CREATED", p.AuthorID, map[string]any{
		"proposal_id":   entry.ID,
		"clause_id":     p.ClauseID,
		"role":          p.Role,
		"edit_distance": p.EditDistance,
	}, "")
	return entry, nil
}

// Accept marks exactly one pending proposal accepted and rewrites its clause.
// Proposals for other clauses and sibling proposals are not touched.
func (s *Session) Accept(ctx context.Context, actorID, proposalID string) (Clause, error) {
	s.mu.Lock()
	entry, err := s.settleLocked(actorID, proposalID, thread.StatusAccepted)
	if err != nil {
		s.mu.Unlock()
		return Clause{}, err
	}
	i := s.index[entry.Payload.ClauseID]
	s.clauses[i].Text = entry.Payload.Text
	s.clauses[i].Status = ClauseAgreed
	s.clauses[i].AcceptedProposalID = entry.ID
	clause := s.clauses[i]
	s.mu.Unlock()

	s.record(ctx, "PROPOSAL_ACCEPTED", actorID, map[string]any{
		"proposal_id": entry.ID,
		"clause_id":   clause.ID,
	}, "negotiation.clause_agreed")
	return clause, nil
}

// Reject marks a pending proposal rejected. A clause left without pending
// proposals returns to agreed when it carries an accepted text, else to open.
func (s *Session) Reject(ctx context.Context, actorID, proposalID string) (Clause, error) {
	s.mu.Lock()
	entry, err := s.settleLocked(actorID, proposalID, thread.StatusRejected)
	if err != nil {
		s.mu.Unlock()
		return Clause{}, err
	}
	clauseID := entry.Payload.ClauseID
	i := s.index[clauseID]
	pending := s.proposals.Filter(func(e thread.Entry[Proposal]) bool {
		return e.Payload.ClauseID == clauseID && e.Status == thread.StatusPending
	})
	if len(pending) == 0 && s.clauses[i].Status == ClauseUnderNegotiation {
		if s.clauses[i].AcceptedProposalID != "" {
			s.clauses[i].Status = ClauseAgreed
		} else {
			s.clauses[i].Status = ClauseOpen
		}
	}
	clause := s.clauses[i]
	s.mu.Unlock()

	s.record(ctx, "PROPOSAL_REJECTED", actorID, map[string]any{
		"proposal_id": entry.ID,
		"clause_id":   clauseID,
	}, "")
	return clause, nil
}

func (s *Session) settleLocked(actorID, proposalID string, status thread.Status) (thread.Entry[Proposal], error) {
	if s.closed {
		return thread.Entry[Proposal]{}, ErrSessionClosed
	}
	entry, err := s.proposals.Update(proposalID, func(e *thread.Entry[Proposal]) error {
		if e.Status != thread.StatusPending {
			return fmt.Errorf("%w: %s is %s", ErrProposalSettled, proposalID, e.Status)
		}
		if actorID != "" && e.Payload.AuthorID == actorID {
			return ErrOwnProposal
		}
		e.Status = status
		return nil
	})
	if errors.Is(err, thread.ErrEntryNotFound) {
		return entry, fmt.Errorf("%w: %s", ErrProposalNotFound, proposalID)
	}
	return entry, err
}

// Suggest asks the generator for a rewording of a clause and files it as an
// AI proposal. The generator runs outside the session lock.
func (s *Session) Suggest(ctx context.Context, clauseID, instructions string, gen generate.Generator) (thread.Entry[Proposal], error) {
	if s.Closed() {
		return thread.Entry[Proposal]{}, ErrSessionClosed
	}
	clause, err := s.Clause(clauseID)
	if err != nil {
		return thread.Entry[Proposal]{}, err
	}
	var b strings.Builder
	b.WriteString("# Suggest a balanced rewording of the clause below. Reply with the clause text only.\n")
	if instr := strings.TrimSpace(instructions); instr != "" {
		fmt.Fprintf(&b, "# %s\n", instr)
	}
	b.WriteString(clause.Text)

	text, err := gen.Generate(ctx, b.String())
	if err != nil {
		return thread.Entry[Proposal]{}, fmt.Errorf("%w: %w", ErrSuggestFailed, err)
	}
	if strings.TrimSpace(text) == "" {
		return thread.Entry[Proposal]{}, fmt.Errorf("%w: %w", ErrSuggestFailed, generate.ErrEmptyCompletion)
	}
	return s.Propose(ctx, Proposal{
		ClauseID:  clauseID,
		Role:      RoleAI,
		Text:      text,
		Rationale: "suggested rewording",
	})
}

// Post appends a chat message.
func (s *Session) Post(ctx context.Context, m Message) (thread.Entry[Message], error) {
	m.Content = strings.TrimSpace(m.Content)
	if m.Content == "" {
		return thread.Entry[Message]{}, ErrEmptyText
	}
	if _, err := ParseMessageRole(string(m.Role)); err != nil {
		return thread.Entry[Message]{}, err
	}
	return s.messages.Append(m), nil
}

// Clause returns one clause by id.
func (s *Session) Clause(id string) (Clause, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return Clause{}, fmt.Errorf("%w: %s", ErrClauseNotFound, id)
	}
	return s.clauses[i], nil
}

// Clauses returns a copy of the clauses in contract order.
func (s *Session) Clauses() []Clause {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Clause(nil), s.clauses...)
}

// Proposals returns every proposal in filing order.
func (s *Session) Proposals() []thread.Entry[Proposal] { return s.proposals.Entries() }

// Proposal looks up one proposal.
func (s *Session) Proposal(id string) (thread.Entry[Proposal], bool) { return s.proposals.Get(id) }

// Messages returns the chat log.
func (s *Session) Messages() []thread.Entry[Message] { return s.messages.Entries() }

// AllAgreed reports whether every clause is agreed.
func (s *Session) AllAgreed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clauses {
		if c.Status != ClauseAgreed {
			return false
		}
	}
	return true
}

// Gate is checked before the contract moves on to signature.
func (s *Session) Gate() workflow.Gate {
	pending := s.proposals.Filter(func(e thread.Entry[Proposal]) bool { return e.Status == thread.StatusPending })
	return workflow.NewGate(
		workflow.Require("all_clauses_agreed", s.AllAgreed()),
		workflow.RequireWithWarning("no_pending_proposals", len(pending) == 0, "open proposals must be accepted or rejected"),
	)
}

// State is the read model served to clients.
func (s *Session) State() State {
	s.mu.Lock()
	clauses := append([]Clause(nil), s.clauses...)
	proposals := s.proposals.Entries()
	closed := s.closed
	s.mu.Unlock()
	return State{
		ID:         s.id,
		ContractID: s.contractID,
		Clauses:    clauses,
		Proposals:  proposals,
		Messages:   s.messages.Entries(),
		Gate:       s.Gate().Result(),
		Closed:     closed,
	}
}

func (s *Session) record(ctx context.Context, eventType, actorID string, payload map[string]any, topic string) {
	err := s.recorder.Record(ctx, journal.Event{
		AggregateType: "negotiation",
		AggregateID:   s.id,
		Type:          eventType,
		ActorID:       actorID,
		Payload:       payload,
		Topic:         topic,
		OutboxPayload: payload,
	})
	if err != nil {
		s.logger.WithError(err).WithField("event", eventType).Warn("negotiation: journal write failed")
	}
}
