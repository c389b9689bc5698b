package marketplace

import (
	"fmt"
	"time"

	"contractflow/workflow"
)

// Profile captures the lawyer data exposed by the directory.
type Profile struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Specialties []string `json:"specialties"`
	Languages   []string `json:"languages"`
	HourlyRate  int64    `json:"hourlyRate"`
	Rating      float64  `json:"rating"`
	Verified    bool     `json:"verified"`
}

type RequestStatus string

const (
	RequestOpen      RequestStatus = "open"
	RequestMatched   RequestStatus = "matched"
	RequestCancelled RequestStatus = "cancelled"
)

func ParseRequestStatus(s string) (RequestStatus, error) {
	switch st := RequestStatus(s); st {
	case RequestOpen, RequestMatched, RequestCancelled:
		return st, nil
	}
	return "", fmt.Errorf("marketplace: unknown request status %q", s)
}

// Request asks the marketplace for legal help on a matter.
type Request struct {
	ID            string        `json:"id"`
	CreatorUserID string        `json:"creatorUserId"`
	ContractID    string        `json:"contractId,omitempty"`
	Specialty     string        `json:"specialty"`
	Description   string        `json:"description"`
	Languages     []string      `json:"languages,omitempty"`
	BudgetMin     int64         `json:"budgetMin"`
	BudgetMax     int64         `json:"budgetMax"`
	Status        RequestStatus `json:"status"`
	CancelReason  *string       `json:"cancelReason,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

type OfferState string

const (
	OfferInvited  OfferState = "invited"
	OfferAccepted OfferState = "accepted"
	OfferDeclined OfferState = "declined"
)

func ParseOfferState(s string) (OfferState, error) {
	switch st := OfferState(s); st {
	case OfferInvited, OfferAccepted, OfferDeclined:
		return st, nil
	}
	return "", fmt.Errorf("marketplace: unknown offer state %q", s)
}

// Offer invites one lawyer to take a request.
type Offer struct {
	ID        string     `json:"id"`
	RequestID string     `json:"requestId"`
	LawyerID  string     `json:"lawyerId"`
	State     OfferState `json:"state"`
	Score     float64    `json:"score"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Confirmation is the result of a booked consultation.
type Confirmation struct {
	Reference   string    `json:"reference"`
	LawyerID    string    `json:"lawyerId"`
	Package     string    `json:"package"`
	ScheduledAt time.Time `json:"scheduledAt"`
	Fee         int64     `json:"fee"`
}

// BookingState is the serialisable view of a consultation booking.
type BookingState struct {
	ID          string                             `json:"id"`
	UserID      string                             `json:"userId"`
	LawyerID    string                             `json:"lawyerId"`
	Package     workflow.SelectionState            `json:"package"`
	ScheduledAt time.Time                          `json:"scheduledAt"`
	Booking     workflow.ActionState[Confirmation] `json:"booking"`
}
