package kyc

import (
	"fmt"
	"time"

	"contractflow/workflow"
)

type AccountType string

const (
	AccountIndividual AccountType = "individual"
	AccountCompany    AccountType = "company"
	AccountLawyer     AccountType = "lawyer"
	AccountMediator   AccountType = "mediator"
)

// AccountTypes is the declared option list of the account type step.
var AccountTypes = []workflow.Option{
	{ID: string(AccountIndividual), Label: "Individual"},
	{ID: string(AccountCompany), Label: "Company"},
	{ID: string(AccountLawyer), Label: "Lawyer"},
	{ID: string(AccountMediator), Label: "Mediator"},
}

func ParseAccountType(s string) (AccountType, error) {
	switch t := AccountType(s); t {
	case AccountIndividual, AccountCompany, AccountLawyer, AccountMediator:
		return t, nil
	}
	return "", fmt.Errorf("kyc: unknown account type %q", s)
}

type Status string

const (
	StatusUnverified Status = "unverified"
	StatusPending    Status = "pending"
	StatusVerified   Status = "verified"
	StatusRejected   Status = "rejected"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusUnverified, StatusPending, StatusVerified, StatusRejected:
		return st, nil
	}
	return "", fmt.Errorf("kyc: unknown status %q", s)
}

// Requirement is satisfied by an upload of any of its document types.
type Requirement struct {
	Name  string   `json:"name"`
	AnyOf []string `json:"anyOf"`
}

// RequiredDocuments lists what an account type must upload before review.
func RequiredDocuments(t AccountType) []Requirement {
	reqs := []Requirement{{Name: "identity", AnyOf: []string{"national_id", "passport"}}}
	switch t {
	case AccountCompany:
		reqs = append(reqs, Requirement{Name: "commercial_registration", AnyOf: []string{"commercial_registration"}})
	case AccountLawyer:
		reqs = append(reqs, Requirement{Name: "bar_license", AnyOf: []string{"bar_license"}})
	case AccountMediator:
		reqs = append(reqs, Requirement{Name: "mediator_certificate", AnyOf: []string{"mediator_certificate"}})
	}
	return reqs
}

type Document struct {
	Type       string    `json:"type"`
	FileName   string    `json:"fileName"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Submission is the data handed to a Verifier.
type Submission struct {
	UserID      string
	AccountType AccountType
	Documents   []Document
}

// Decision is the outcome of a verification.
type Decision struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

type RequirementState struct {
	Requirement
	Satisfied bool `json:"satisfied"`
}

// State is the serialisable view of a Flow.
type State struct {
	UserID       string                         `json:"userId"`
	AccountType  workflow.SelectionState        `json:"accountType"`
	Documents    []Document                     `json:"documents"`
	Requirements []RequirementState             `json:"requirements"`
	Consent      bool                           `json:"consent"`
	Status       Status                         `json:"status"`
	Reason       string                         `json:"reason,omitempty"`
	Wizard       workflow.WizardState           `json:"wizard"`
	Verification workflow.ActionState[Decision] `json:"verification"`
}
