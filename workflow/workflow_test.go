package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"contractflow/clock"
)

func TestGate_EnabledIffAllConditionsHold(t *testing.T) {
	for n := 0; n <= 4; n++ {
		for mask := 0; mask < 1<<n; mask++ {
			conds := make([]Condition, n)
			all := true
			for i := 0; i < n; i++ {
				met := mask&(1<<i) != 0
				all = all && met
				conds[i] = Require(fmt.Sprintf("c%d", i), met)
			}
			g := NewGate(conds...)
			require.Equal(t, all, g.Enabled(), "n=%d mask=%b", n, mask)
			require.Equal(t, all, g.Check("s") == nil)
		}
	}
}

func TestGate_WarningsOnlyForFailedConditions(t *testing.T) {
	g := NewGate(
		Require("terms_accepted", true),
		RequireWithWarning("balance_sufficient", false, "insufficient wallet balance"),
		Require("method_selected", false),
	)

	require.False(t, g.Enabled())
	require.Equal(t, []string{"balance_sufficient", "method_selected"}, g.Failed())
	require.Equal(t, []string{"insufficient wallet balance"}, g.Warnings())

	err := g.Check("payment")
	var gateErr *GateError
	require.ErrorAs(t, err, &gateErr)
	require.ErrorIs(t, err, ErrStepBlocked)
	require.Equal(t, "payment", gateErr.Step)
}

func TestAction_SucceedsOnlyAfterDelay(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	var completed atomic.Value
	action := NewAction("kyc_verification", 3*time.Second, func(context.Context) (string, error) {
		return "verified", nil
	}, WithClock(clk)).OnSuccess(func(res string) { completed.Store(res) })

	require.Equal(t, ActionIdle, action.Status())
	require.NoError(t, action.Trigger(context.Background()))
	require.Equal(t, ActionPending, action.Status())

	clk.Advance(3*time.Second - time.Millisecond)
	require.Equal(t, ActionPending, action.Status(), "must not settle before the delay")
	require.Nil(t, completed.Load())

	clk.Advance(time.Millisecond)
	require.Equal(t, ActionSuccess, action.Status())
	require.Equal(t, "verified", completed.Load())

	snap := action.Snapshot()
	require.Equal(t, 1, snap.Attempts)
	require.Equal(t, 3*time.Second, snap.CompletedAt.Sub(*snap.StartedAt))
}

func TestAction_RejectsTriggerWhilePendingOrDone(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	action := NewAction("payment", time.Second, func(context.Context) (int, error) { return 1, nil }, WithClock(clk))

	require.NoError(t, action.Trigger(context.Background()))
	require.ErrorIs(t, action.Trigger(context.Background()), ErrActionPending)
	require.ErrorIs(t, action.Retry(context.Background()), ErrActionNotFailed)

	clk.Advance(time.Second)
	require.ErrorIs(t, action.Trigger(context.Background()), ErrActionCompleted)

	require.NoError(t, action.Reset())
	require.Equal(t, ActionIdle, action.Status())
}

func TestAction_RetryAfterFailureClearsError(t *testing.T) {
	var calls atomic.Int32
	action := NewAction("generate", 0, func(context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "", errors.New("upstream unavailable")
		}
		return "contract text", nil
	}, WithFailureMessage("generation failed, please retry"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, action.Trigger(ctx))
	st, err := action.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, ActionError, st.Status)
	require.Equal(t, "generation failed, please retry", st.Error)
	require.EqualError(t, action.Err(), "upstream unavailable")

	require.NoError(t, action.Retry(ctx))
	st, err = action.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, ActionSuccess, st.Status)
	require.Empty(t, st.Error)
	require.NoError(t, action.Err())
	require.Equal(t, "contract text", st.Result)
	require.Equal(t, 2, st.Attempts)
	require.EqualValues(t, 2, calls.Load())
}

func TestSelection_SingleSelect(t *testing.T) {
	sel := MustSelection([]Option{{ID: "wallet"}, {ID: "card"}, {ID: "bank_transfer"}})
	require.False(t, sel.HasSelection())

	require.NoError(t, sel.Select("wallet"))
	require.NoError(t, sel.Select("card"))

	count := 0
	for _, opt := range sel.Options() {
		if sel.IsSelected(opt.ID) {
			count++
		}
	}
	require.Equal(t, 1, count)
	require.Equal(t, "card", sel.SelectedID())

	require.ErrorIs(t, sel.Select("cash"), ErrUnknownOption)
	require.Equal(t, "card", sel.SelectedID(), "unknown id must not clear the selection")
}

func TestSelection_RejectsDuplicateIDs(t *testing.T) {
	_, err := NewSelection([]Option{{ID: "a"}, {ID: "a"}})
	require.ErrorIs(t, err, ErrDuplicateOption)
}

func TestWizard_AdvancesThroughOpenGates(t *testing.T) {
	ready := map[string]bool{}
	w, err := NewWizard([]Step{{ID: "parties"}, {ID: "terms"}}, func(id string) Gate {
		return NewGate(Require(id+"_complete", ready[id]))
	})
	require.NoError(t, err)

	err = w.Next()
	require.ErrorIs(t, err, ErrStepBlocked)
	require.Equal(t, "parties", w.Current().ID)

	ready["parties"] = true
	require.NoError(t, w.Next())
	require.Equal(t, "terms", w.Current().ID)
	require.False(t, w.State().Gate.Enabled)

	ready["terms"] = true
	require.NoError(t, w.Next())
	require.True(t, w.Complete())
	require.ErrorIs(t, w.Next(), ErrWizardComplete)

	require.NoError(t, w.Back())
	require.False(t, w.Complete())
	require.NoError(t, w.Jump("parties"))
	require.ErrorIs(t, w.Back(), ErrNoPreviousStep)
}
