package signature

import (
	"time"

	"contractflow/workflow"
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusDeclined   Status = "declined"
)

type SignerStatus string

const (
	SignerPending  SignerStatus = "pending"
	SignerSigning  SignerStatus = "signing"
	SignerSigned   SignerStatus = "signed"
	SignerDeclined SignerStatus = "declined"
)

// Checklist is ticked by a signer before signing.
type Checklist struct {
	ReviewedDocument  bool `json:"reviewedDocument"`
	AcceptedTerms     bool `json:"acceptedTerms"`
	IdentityConfirmed bool `json:"identityConfirmed"`
}

// Gate lists the checklist as signing preconditions.
func (c Checklist) Gate() workflow.Gate {
	return workflow.NewGate(
		workflow.Require("reviewed_document", c.ReviewedDocument),
		workflow.Require("accepted_terms", c.AcceptedTerms),
		workflow.Require("identity_confirmed", c.IdentityConfirmed),
	)
}

type Signer struct {
	PartyID  string       `json:"partyId"`
	Name     string       `json:"name"`
	UserID   string       `json:"userId,omitempty"`
	Status   SignerStatus `json:"status"`
	Digest   string       `json:"digest,omitempty"`
	SignedAt *time.Time   `json:"signedAt,omitempty"`
	Reason   string       `json:"reason,omitempty"`
}

// Signed is the result of one signing action.
type Signed struct {
	Digest   string    `json:"digest"`
	SignedAt time.Time `json:"signedAt"`
}

// State is the serialisable view of a Ceremony.
type State struct {
	ID          string                                  `json:"id"`
	ContractID  string                                  `json:"contractId"`
	Fingerprint string                                  `json:"fingerprint"`
	Status      Status                                  `json:"status"`
	Signers     []Signer                                `json:"signers"`
	Actions     map[string]workflow.ActionState[Signed] `json:"actions"`
	CompletedAt *time.Time                              `json:"completedAt,omitempty"`
}
