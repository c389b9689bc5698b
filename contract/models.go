package contract

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusDraft            Status = "draft"
	StatusNegotiating      Status = "negotiating"
	StatusPendingSignature Status = "pending_signature"
	StatusSigned           Status = "signed"
	StatusActive           Status = "active"
	StatusCompleted        Status = "completed"
	StatusDisputed         Status = "disputed"
	StatusCancelled        Status = "cancelled"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusDraft, StatusNegotiating, StatusPendingSignature, StatusSigned,
		StatusActive, StatusCompleted, StatusDisputed, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("contract: unknown status %q", s)
}

type PartyRole string

const (
	RoleFirstParty  PartyRole = "first_party"
	RoleSecondParty PartyRole = "second_party"
	RoleWitness     PartyRole = "witness"
)

func ParsePartyRole(s string) (PartyRole, error) {
	switch r := PartyRole(s); r {
	case RoleFirstParty, RoleSecondParty, RoleWitness:
		return r, nil
	}
	return "", fmt.Errorf("contract: unknown party role %q", s)
}

// PartyStatus tells whether a party has an account on the platform.
type PartyStatus string

const (
	PartyRegistered PartyStatus = "registered"
	PartyPending    PartyStatus = "pending"
	PartyManual     PartyStatus = "manual"
)

type Party struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Email  string      `json:"email,omitempty"`
	UserID string      `json:"userId,omitempty"`
	Role   PartyRole   `json:"role"`
	Status PartyStatus `json:"status"`
}

type Terms struct {
	Scope        string     `json:"scope"`
	Jurisdiction string     `json:"jurisdiction"`
	StartDate    *time.Time `json:"startDate,omitempty"`
	EndDate      *time.Time `json:"endDate,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}

// Financials holds the amount in minor units.
type Financials struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type Document struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	UploadedAt time.Time `json:"uploadedAt"`
}

type Clause struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Text  string `json:"text"`
}
