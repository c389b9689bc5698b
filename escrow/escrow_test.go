package escrow

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"contractflow/catalog"
	"contractflow/clock"
	"contractflow/journal"
	"contractflow/workflow"
)

func newTestService(t *testing.T) (*Service, *clock.Manual, *journal.Memory) {
	t.Helper()
	var n atomic.Int64
	clk := clock.NewManual(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC))
	mem := journal.NewMemory()
	svc := NewService(catalog.MustDefault(), mem).
		WithClock(clk).
		WithIDGenerator(func() string { return fmt.Sprintf("esc-%d", n.Add(1)) })
	return svc, clk, mem
}

func openAccount(t *testing.T, svc *Service) *Account {
	t.Helper()
	a, err := svc.Open(context.Background(), OpenParams{
		ContractID: "c-1",
		PayerID:    "buyer",
		PayeeID:    "seller",
		Amount:     100000,
		Currency:   "sar",
		Conditions: []ConditionKind{ConditionDeliveryConfirmed},
	})
	require.NoError(t, err)
	return a
}

func TestFee(t *testing.T) {
	require.EqualValues(t, 2500, Fee(100000, 250))
	require.EqualValues(t, 3, Fee(101, 250))
	require.EqualValues(t, 0, Fee(100000, 0))

	// large amounts must not wrap around to a negative fee
	require.EqualValues(t, 1000000000000000, Fee(40000000000000000, 250))
	ceiling := catalog.MaxAmount
	require.Equal(t, (ceiling/10000)*250+(ceiling%10000*250+5000)/10000, Fee(ceiling, 250))
	require.Equal(t, ceiling, Fee(ceiling, 10000))
}

func TestAmountCeiling(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Open(ctx, OpenParams{ContractID: "big", PayerID: "b", Amount: catalog.MaxAmount + 1, Currency: "SAR"})
	require.ErrorIs(t, err, ErrInvalidAmount)
	a, err := svc.Open(ctx, OpenParams{ContractID: "big", PayerID: "b", Amount: catalog.MaxAmount, Currency: "SAR"})
	require.NoError(t, err)

	co, err := svc.Checkout(a.ID(), "b")
	require.NoError(t, err)
	require.Greater(t, co.Fee(), int64(0))
	require.Greater(t, co.Total(), a.Amount())

	_, err = svc.Wallet("b").Deposit(catalog.MaxAmount+1, "SAR", "dep-big")
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestWallet_BalanceFromCompletedTransactions(t *testing.T) {
	svc, _, _ := newTestService(t)
	w := svc.Wallet("buyer")

	_, err := w.Deposit(0, "SAR", "")
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = w.Deposit(5000, "sar", "dep-1")
	require.NoError(t, err)
	_, err = w.Deposit(700, "USD", "dep-2")
	require.NoError(t, err)
	require.EqualValues(t, 5000, w.Balance("SAR"))

	_, err = w.Debit("SAR", Transaction{Type: TxWithdrawal, Amount: 6000})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.Len(t, w.Transactions(), 2)

	_, err = w.Debit("SAR", Transaction{Type: TxWithdrawal, Amount: 1000}, Transaction{Type: TxFee, Amount: 25})
	require.NoError(t, err)
	require.EqualValues(t, 3975, w.Balance("SAR"))
	require.EqualValues(t, 700, w.Balance("usd"))
}

func TestCheckout_WalletPaymentFundsEscrow(t *testing.T) {
	svc, clk, mem := newTestService(t)
	a := openAccount(t, svc)
	ctx := context.Background()

	_, err := svc.Checkout(a.ID(), "seller")
	require.ErrorIs(t, err, ErrForbidden)
	co, err := svc.Checkout(a.ID(), "buyer")
	require.NoError(t, err)
	require.EqualValues(t, 102500, co.Total())

	var gateErr *workflow.GateError
	require.ErrorAs(t, co.Confirm(ctx), &gateErr)
	require.Equal(t, []string{"method_selected", "terms_accepted"}, gateErr.Failed)

	require.NoError(t, co.SelectMethod(MethodWallet))
	co.AcceptTerms(true)
	require.ErrorAs(t, co.Confirm(ctx), &gateErr)
	require.Equal(t, []string{"balance_sufficient"}, gateErr.Failed)
	require.Equal(t, []string{"insufficient wallet balance"}, gateErr.Warnings)

	_, err = svc.Wallet("buyer").Deposit(150000, "SAR", "top-up")
	require.NoError(t, err)
	require.NoError(t, co.Confirm(ctx))
	require.Equal(t, workflow.ActionPending, co.Payment().Status())
	require.Equal(t, StatusAwaitingFunding, a.Status())

	clk.Advance(2 * time.Second)
	receipt, ok := co.Payment().Result()
	require.True(t, ok)
	require.EqualValues(t, 2500, receipt.Fee)
	require.EqualValues(t, 102500, receipt.Total)
	require.Regexp(t, `^TXN-[0-9A-F]{12}$`, receipt.Reference)
	require.Equal(t, StatusFunded, a.Status())
	require.EqualValues(t, 47500, svc.Wallet("buyer").Balance("SAR"))

	require.Equal(t, "ESCROW_FUNDED", mem.Events("escrow", a.ID())[1].Type)
}

func TestCheckout_CardSkipsBalanceCheck(t *testing.T) {
	svc, clk, _ := newTestService(t)
	a := openAccount(t, svc)
	co, err := svc.Checkout(a.ID(), "buyer")
	require.NoError(t, err)
	require.NoError(t, co.SelectMethod("card"))
	co.AcceptTerms(true)
	require.NoError(t, co.Confirm(context.Background()))
	clk.Advance(2 * time.Second)
	require.Equal(t, StatusFunded, a.Status())
	require.Empty(t, svc.Wallet("buyer").Transactions())
}

func TestAccount_ReleaseRequiresConditions(t *testing.T) {
	svc, clk, _ := newTestService(t)
	a := openAccount(t, svc)
	ctx := context.Background()

	require.ErrorIs(t, a.Release(ctx), workflow.ErrStepBlocked)
	require.NoError(t, a.Fund(ctx, "buyer", "manual"))
	require.ErrorIs(t, a.Fund(ctx, "buyer", "again"), ErrInvalidTransition)

	res := a.ReleaseGate().Result()
	require.Equal(t, []string{"condition_signature_completed", "condition_delivery_confirmed"}, res.Failed)

	require.ErrorIs(t, a.MarkConditionMet(ctx, "buyer", ConditionInspectionPassed), ErrUnknownCondition)
	require.NoError(t, a.MarkConditionMet(ctx, "buyer", ConditionSignatureCompleted))
	require.NoError(t, a.MarkConditionMet(ctx, "buyer", ConditionDeliveryConfirmed))
	require.True(t, a.ReleaseGate().Enabled())

	require.NoError(t, a.Release(ctx))
	clk.Advance(4499 * time.Millisecond)
	require.Equal(t, StatusFunded, a.Status())
	clk.Advance(time.Millisecond)
	require.Equal(t, StatusReleased, a.Status())
	require.EqualValues(t, 100000, svc.Wallet("seller").Balance("SAR"))
	require.NotNil(t, a.State().SettledAt)
}

func TestAccount_FreezeAndRefund(t *testing.T) {
	svc, _, _ := newTestService(t)
	a := openAccount(t, svc)
	ctx := context.Background()

	require.ErrorIs(t, a.Freeze(ctx, "buyer", "late"), ErrInvalidTransition)
	require.NoError(t, a.Fund(ctx, "buyer", "manual"))
	require.NoError(t, a.Freeze(ctx, "buyer", "late delivery"))
	require.ErrorIs(t, a.Release(ctx), workflow.ErrStepBlocked)

	require.NoError(t, a.Settle(ctx, "mediator", true))
	require.Equal(t, StatusRefunded, a.Status())
	require.EqualValues(t, 100000, svc.Wallet("buyer").Balance("SAR"))
	require.ErrorIs(t, a.Settle(ctx, "mediator", false), ErrInvalidTransition)
}

func TestService_OpenValidates(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Open(ctx, OpenParams{ContractID: "x", PayerID: "b", Amount: 0, Currency: "SAR"})
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.Open(ctx, OpenParams{ContractID: "x", PayerID: "b", Amount: 10, Currency: "GBP"})
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.Open(ctx, OpenParams{ContractID: "x", PayerID: "b", Amount: 10, Currency: "SAR", Conditions: []ConditionKind{"vibes"}})
	require.Error(t, err)

	a := openAccount(t, svc)
	got, err := svc.ForContract("c-1")
	require.NoError(t, err)
	require.Same(t, a, got)
	_, err = svc.Open(ctx, OpenParams{ContractID: "c-1", PayerID: "b", Amount: 10, Currency: "SAR"})
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = ParseStatus("frozen")
	require.Error(t, err)
}
