package negotiation

import (
	"fmt"

	"contractflow/thread"
	"contractflow/workflow"
)

type MessageRole string

const (
	RoleUser         MessageRole = "user"
	RoleCounterparty MessageRole = "counterparty"
	RoleAI           MessageRole = "ai"
)

func ParseMessageRole(s string) (MessageRole, error) {
	switch r := MessageRole(s); r {
	case RoleUser, RoleCounterparty, RoleAI:
		return r, nil
	}
	return "", fmt.Errorf("negotiation: unknown message role %q", s)
}

type ClauseStatus string

const (
	ClauseOpen             ClauseStatus = "open"
	ClauseUnderNegotiation ClauseStatus = "under_negotiation"
	ClauseAgreed           ClauseStatus = "agreed"
)

// Clause is a negotiable section of a contract. AcceptedProposalID points at
// the proposal whose text the clause currently carries.
type Clause struct {
	ID                 string       `json:"id"`
	Title              string       `json:"title"`
	Text               string       `json:"text"`
	Status             ClauseStatus `json:"status"`
	AcceptedProposalID string       `json:"acceptedProposalId,omitempty"`
}

// Proposal is a suggested replacement text for one clause.
type Proposal struct {
	ClauseID     string      `json:"clauseId"`
	AuthorID     string      `json:"authorId,omitempty"`
	Role         MessageRole `json:"role"`
	Text         string      `json:"text"`
	Rationale    string      `json:"rationale,omitempty"`
	EditDistance int         `json:"editDistance"`
}

type Message struct {
	AuthorID string      `json:"authorId,omitempty"`
	Role     MessageRole `json:"role"`
	Content  string      `json:"content"`
}

// State is the serialisable view of a Session.
type State struct {
	ID         string                   `json:"id"`
	ContractID string                   `json:"contractId"`
	Clauses    []Clause                 `json:"clauses"`
	Proposals  []thread.Entry[Proposal] `json:"proposals"`
	Messages   []thread.Entry[Message]  `json:"messages"`
	Gate       workflow.GateResult      `json:"gate"`
	Closed     bool                     `json:"closed"`
}
