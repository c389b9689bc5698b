package escrow

import (
	"context"
	"math/bits"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"contractflow/workflow"
)

const MethodWallet = "wallet"

// PaymentFailedMessage is shown when a confirmed payment does not go through.
const PaymentFailedMessage = "payment could not be completed, please try again"

// Checkout is the payment confirmation flow that funds an escrow account.
type Checkout struct {
	account *Account
	wallet  *Wallet
	feeBPS  int
	now     func() time.Time
	method  *workflow.Selection
	payment *workflow.Action[Receipt]

	mu    sync.Mutex
	terms bool
}

// Fee is the platform fee for amount in basis points, rounded half up. bps is
// clamped to [0, 10000]; the product is computed in 128 bits.
func Fee(amount int64, bps int) int64 {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	if bps > 10000 {
		bps = 10000
	}
	hi, lo := bits.Mul64(uint64(amount), uint64(bps))
	lo, carry := bits.Add64(lo, 5000, 0)
	q, _ := bits.Div64(hi+carry, lo, 10000)
	return int64(q)
}

func (c *Checkout) SelectMethod(id string) error { return c.method.Select(id) }

func (c *Checkout) AcceptTerms(accepted bool) {
	c.mu.Lock()
	c.terms = accepted
	c.mu.Unlock()
}

func (c *Checkout) Fee() int64 { return Fee(c.account.amount, c.feeBPS) }

func (c *Checkout) Total() int64 { return c.account.amount + c.Fee() }

func (c *Checkout) Gate() workflow.Gate {
	c.mu.Lock()
	terms := c.terms
	c.mu.Unlock()
	sufficient := true
	if c.method.SelectedID() == MethodWallet {
		sufficient = c.wallet.Balance(c.account.currency) >= c.Total()
	}
	return workflow.NewGate(
		workflow.Require("method_selected", c.method.HasSelection()),
		workflow.Require("terms_accepted", terms),
		workflow.RequireWithWarning("balance_sufficient", sufficient, "insufficient wallet balance"),
	)
}

// Confirm checks the gate and starts the simulated payment.
func (c *Checkout) Confirm(ctx context.Context) error {
	if err := c.Gate().Check("confirm"); err != nil {
		return err
	}
	if c.payment.Status() == workflow.ActionError {
		return c.payment.Retry(ctx)
	}
	return c.payment.Trigger(ctx)
}

// Payment exposes the payment action.
func (c *Checkout) Payment() *workflow.Action[Receipt] { return c.payment }

func (c *Checkout) pay(ctx context.Context) (Receipt, error) {
	method := c.method.SelectedID()
	r := Receipt{
		Reference: "TXN-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12]),
		AccountID: c.account.id,
		Method:    method,
		Amount:    c.account.amount,
		Fee:       c.Fee(),
		Currency:  c.account.currency,
	}
	r.Total = r.Amount + r.Fee
	if c.account.Status() != StatusAwaitingFunding {
		return Receipt{}, ErrInvalidTransition
	}
	if method == MethodWallet {
		_, err := c.wallet.Debit(r.Currency,
			Transaction{Type: TxEscrowHold, Amount: r.Amount, Reference: r.Reference, Description: "Escrow hold"},
			Transaction{Type: TxFee, Amount: r.Fee, Reference: r.Reference, Description: "Platform fee"},
		)
		if err != nil {
			return Receipt{}, err
		}
	}
	if err := c.account.Fund(ctx, c.wallet.userID, r.Reference); err != nil {
		return Receipt{}, err
	}
	r.PaidAt = c.now().UTC()
	return r, nil
}

func (c *Checkout) State() CheckoutState {
	c.mu.Lock()
	terms := c.terms
	c.mu.Unlock()
	return CheckoutState{
		AccountID:     c.account.id,
		Method:        c.method.State(),
		TermsAccepted: terms,
		Amount:        c.account.amount,
		Fee:           c.Fee(),
		Total:         c.Total(),
		Currency:      c.account.currency,
		Balance:       c.wallet.Balance(c.account.currency),
		Gate:          c.Gate().Result(),
		Payment:       c.payment.Snapshot(),
	}
}
