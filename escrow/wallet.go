package escrow

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"contractflow/catalog"
)

// Wallet is an append-only ledger. The balance is never stored; it is the sum
// of completed transactions.
type Wallet struct {
	userID string
	now    func() time.Time
	newID  func() string

	mu  sync.Mutex
	txs []Transaction
}

func (w *Wallet) UserID() string { return w.userID }

// Deposit adds funds.
func (w *Wallet) Deposit(amount int64, currency, reference string) (Transaction, error) {
	if amount <= 0 || amount > catalog.MaxAmount {
		return Transaction{}, fmt.Errorf("%w: amount must be between 1 and %d", ErrInvalidAmount, catalog.MaxAmount)
	}
	return w.append(Transaction{Type: TxDeposit, Amount: amount, Currency: currency, Reference: reference, Description: "Wallet top-up"}), nil
}

// Debit appends the given outgoing transactions only if the balance in
// currency covers all of them.
func (w *Wallet) Debit(currency string, txs ...Transaction) ([]Transaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var total int64
	for _, t := range txs {
		total += t.Amount
	}
	if bal := w.balanceLocked(currency); bal < total {
		return nil, fmt.Errorf("%w: balance %d, need %d", ErrInsufficientFunds, bal, total)
	}
	out := make([]Transaction, 0, len(txs))
	for _, t := range txs {
		t.Currency = currency
		out = append(out, w.appendLocked(t))
	}
	return out, nil
}

// Credit adds incoming funds such as a release or refund.
func (w *Wallet) Credit(amount int64, currency, reference, description string) Transaction {
	return w.append(Transaction{Type: TxEscrowRelease, Amount: amount, Currency: currency, Reference: reference, Description: description})
}

func (w *Wallet) append(t Transaction) Transaction {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendLocked(t)
}

func (w *Wallet) appendLocked(t Transaction) Transaction {
	t.ID = w.newID()
	t.Currency = strings.ToUpper(t.Currency)
	if t.Status == "" {
		t.Status = TxCompleted
	}
	t.CreatedAt = w.now().UTC()
	w.txs = append(w.txs, t)
	return t
}

// Balance sums completed transactions in currency.
func (w *Wallet) Balance(currency string) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balanceLocked(currency)
}

func (w *Wallet) balanceLocked(currency string) int64 {
	currency = strings.ToUpper(currency)
	var sum int64
	for _, t := range w.txs {
		if t.Status == TxCompleted && t.Currency == currency {
			sum += t.signedAmount()
		}
	}
	return sum
}

// Transactions returns the ledger, oldest first.
func (w *Wallet) Transactions() []Transaction {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Transaction(nil), w.txs...)
}
