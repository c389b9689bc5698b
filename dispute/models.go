package dispute

import (
	"fmt"
	"time"
)

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusOpen        Status = "open"
	StatusUnderReview Status = "under_review"
	StatusMediation   Status = "mediation"
	StatusResolved    Status = "resolved"
	StatusClosed      Status = "closed"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusOpen, StatusUnderReview, StatusMediation, StatusResolved, StatusClosed:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
}

var transitions = map[Status][]Status{
	StatusOpen:        {StatusUnderReview, StatusClosed},
	StatusUnderReview: {StatusMediation, StatusResolved, StatusClosed},
	StatusMediation:   {StatusResolved, StatusClosed},
	StatusResolved:    {StatusClosed},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Record is one dispute over a contract.
type Record struct {
	ID         string     `json:"id"`
	ContractID string     `json:"contractId"`
	OpenedBy   string     `json:"openedBy"`
	MediatorID string     `json:"mediatorId,omitempty"`
	Reason     string     `json:"reason"`
	Status     Status     `json:"status"`
	Resolution string     `json:"resolution,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// CanAct reports whether userID is the opener or the assigned mediator.
func (r Record) CanAct(userID string) bool {
	return userID != "" && (userID == r.OpenedBy || userID == r.MediatorID)
}

// Evidence is a file or statement attached to a dispute.
type Evidence struct {
	AuthorID    string `json:"authorId"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	FileName    string `json:"fileName,omitempty"`
}
