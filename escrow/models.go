package escrow

import (
	"fmt"
	"time"

	"contractflow/workflow"
)

type Status string

const (
	StatusAwaitingFunding Status = "awaiting_funding"
	StatusFunded          Status = "funded"
	StatusReleased        Status = "released"
	StatusRefunded        Status = "refunded"
	StatusDisputed        Status = "disputed"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusAwaitingFunding, StatusFunded, StatusReleased, StatusRefunded, StatusDisputed:
		return st, nil
	}
	return "", fmt.Errorf("escrow: unknown status %q", s)
}

// ConditionKind names a release condition.
type ConditionKind string

const (
	ConditionSignatureCompleted ConditionKind = "signature_completed"
	ConditionDeliveryConfirmed  ConditionKind = "delivery_confirmed"
	ConditionMilestoneApproved  ConditionKind = "milestone_approved"
	ConditionInspectionPassed   ConditionKind = "inspection_passed"
)

func ParseConditionKind(s string) (ConditionKind, error) {
	switch k := ConditionKind(s); k {
	case ConditionSignatureCompleted, ConditionDeliveryConfirmed, ConditionMilestoneApproved, ConditionInspectionPassed:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrUnknownCondition, s)
}

type Condition struct {
	Kind  ConditionKind `json:"kind"`
	Met   bool          `json:"met"`
	MetAt *time.Time    `json:"metAt,omitempty"`
}

type TransactionType string

const (
	TxDeposit       TransactionType = "deposit"
	TxWithdrawal    TransactionType = "withdrawal"
	TxEscrowHold    TransactionType = "escrow_hold"
	TxEscrowRelease TransactionType = "escrow_release"
	TxFee           TransactionType = "fee"
)

type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
)

// Transaction is one wallet movement. Amount is positive minor units; the type
// decides the sign.
type Transaction struct {
	ID          string            `json:"id"`
	Type        TransactionType   `json:"type"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Status      TransactionStatus `json:"status"`
	Reference   string            `json:"reference,omitempty"`
	Description string            `json:"description,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

func (t Transaction) signedAmount() int64 {
	switch t.Type {
	case TxDeposit, TxEscrowRelease:
		return t.Amount
	}
	return -t.Amount
}

// Receipt confirms a checkout.
type Receipt struct {
	Reference string    `json:"reference"`
	AccountID string    `json:"accountId"`
	Method    string    `json:"method"`
	Amount    int64     `json:"amount"`
	Fee       int64     `json:"fee"`
	Total     int64     `json:"total"`
	Currency  string    `json:"currency"`
	PaidAt    time.Time `json:"paidAt"`
}

// AccountState is the serialisable view of an Account.
type AccountState struct {
	ID          string                         `json:"id"`
	ContractID  string                         `json:"contractId"`
	PayerID     string                         `json:"payerId"`
	PayeeID     string                         `json:"payeeId,omitempty"`
	Amount      int64                          `json:"amount"`
	Currency    string                         `json:"currency"`
	Status      Status                         `json:"status"`
	Conditions  []Condition                    `json:"conditions"`
	Release     workflow.ActionState[struct{}] `json:"release"`
	ReleaseGate workflow.GateResult            `json:"releaseGate"`
	FundedAt    *time.Time                     `json:"fundedAt,omitempty"`
	SettledAt   *time.Time                     `json:"settledAt,omitempty"`
}

// CheckoutState is the serialisable view of a Checkout.
type CheckoutState struct {
	AccountID     string                        `json:"accountId"`
	Method        workflow.SelectionState       `json:"method"`
	TermsAccepted bool                          `json:"termsAccepted"`
	Amount        int64                         `json:"amount"`
	Fee           int64                         `json:"fee"`
	Total         int64                         `json:"total"`
	Currency      string                        `json:"currency"`
	Balance       int64                         `json:"balance"`
	Gate          workflow.GateResult           `json:"gate"`
	Payment       workflow.ActionState[Receipt] `json:"payment"`
}
