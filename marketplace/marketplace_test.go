package marketplace

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

var start = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *clock.Manual, *journal.Memory) {
	t.Helper()
	var n atomic.Int64
	cat := catalog.MustDefault()
	clk := clock.NewManual(start)
	mem := journal.NewMemory()
	svc := NewService(NewDirectory(cat), cat, mem).
		WithClock(clk).
		WithIDGenerator(func() string { return fmt.Sprintf("mk-%d", n.Add(1)) })
	return svc, clk, mem
}

func TestDirectory_ListAndFilter(t *testing.T) {
	d := NewDirectory(catalog.MustDefault())
	ctx := context.Background()

	all, err := d.List(ctx, ListParams{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, "Daniel Reyes", all[0].Name)

	contracts, err := d.List(ctx, ListParams{Specialty: " Contracts "})
	require.NoError(t, err)
	require.Len(t, contracts, 2)

	limited, err := d.List(ctx, ListParams{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)

	d.Upsert(Profile{ID: "user-9", Name: "Aaron Lee", Specialties: []string{"tax"}})
	p, err := d.GetByID(ctx, "user-9")
	require.NoError(t, err)
	require.Equal(t, "Aaron Lee", p.Name)

	_, err = d.GetByID(ctx, "nobody")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEngagement_AcceptDeclinesSiblings(t *testing.T) {
	svc, _, mem := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateRequest(ctx, CreateParams{CreatorUserID: "client", Specialty: "contracts", BudgetMin: 500, BudgetMax: 100})
	require.ErrorIs(t, err, ErrInvalidRequest)

	req, err := svc.CreateRequest(ctx, CreateParams{
		CreatorUserID: "client",
		Specialty:     "Contracts",
		Description:   "review a supply deal",
		BudgetMin:     10000,
		BudgetMax:     50000,
	})
	require.NoError(t, err)
	require.Equal(t, "contracts", req.Specialty)

	_, err = svc.Offer(ctx, OfferParams{RequestID: req.ID, OwnerUserID: "other", LawyerID: "lw-001", Score: 0.5})
	require.ErrorIs(t, err, ErrRequestNotOwned)
	_, err = svc.Offer(ctx, OfferParams{RequestID: req.ID, OwnerUserID: "client", LawyerID: "lw-001", Score: 2})
	require.ErrorIs(t, err, ErrOfferInvalidScore)

	first, err := svc.Offer(ctx, OfferParams{RequestID: req.ID, OwnerUserID: "client", LawyerID: "lw-001", Score: 0.9})
	require.NoError(t, err)
	second, err := svc.Offer(ctx, OfferParams{RequestID: req.ID, OwnerUserID: "client", LawyerID: "lw-004", Score: 0.7})
	require.NoError(t, err)
	_, err = svc.Offer(ctx, OfferParams{RequestID: req.ID, OwnerUserID: "client", LawyerID: "lw-004", Score: 0.7})
	require.ErrorIs(t, err, ErrOfferDuplicate)

	_, err = svc.RespondOffer(ctx, RespondParams{OfferID: first.ID, LawyerID: "lw-004", NewState: OfferAccepted})
	require.ErrorIs(t, err, ErrOfferForbidden)

	res, err := svc.RespondOffer(ctx, RespondParams{OfferID: first.ID, LawyerID: "lw-001", NewState: OfferAccepted})
	require.NoError(t, err)
	require.Equal(t, OfferAccepted, res.Offer.State)
	require.Equal(t, RequestMatched, res.Request.Status)

	again, err := svc.RespondOffer(ctx, RespondParams{OfferID: first.ID, LawyerID: "lw-001", NewState: OfferAccepted})
	require.NoError(t, err)
	require.Equal(t, OfferAccepted, again.Offer.State)

	offers, err := svc.Offers(ctx, req.ID, "client")
	require.NoError(t, err)
	require.Len(t, offers, 2)
	for _, o := range offers {
		if o.ID == second.ID {
			require.Equal(t, OfferDeclined, o.State)
		}
	}
	_, err = svc.RespondOffer(ctx, RespondParams{OfferID: second.ID, LawyerID: "lw-004", NewState: OfferAccepted})
	require.ErrorIs(t, err, ErrOfferInvalidState)

	require.Len(t, svc.OffersForLawyer(ctx, "lw-004"), 1)
	require.Len(t, mem.Events("engagement", req.ID), 4)
}

func TestEngagement_Cancel(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	req, err := svc.CreateRequest(ctx, CreateParams{CreatorUserID: "client", Specialty: "lease", BudgetMax: 1000})
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, CancelParams{RequestID: req.ID, ActorID: "intruder"})
	require.ErrorIs(t, err, ErrCancelForbidden)

	reason := "  found someone else "
	got, err := svc.Cancel(ctx, CancelParams{RequestID: req.ID, ActorID: "client", Reason: &reason})
	require.NoError(t, err)
	require.Equal(t, RequestCancelled, got.Status)
	require.Equal(t, "found someone else", *got.CancelReason)

	_, err = svc.Cancel(ctx, CancelParams{RequestID: req.ID, ActorID: "client"})
	require.ErrorIs(t, err, ErrCancelInvalidState)

	open := svc.ListRequests(ctx, Filters{CreatorUserID: "client", Status: RequestOpen})
	require.Empty(t, open)
}

func TestConsultation_BooksAfterDelay(t *testing.T) {
	svc, clk, mem := newTestService(t)
	ctx := context.Background()
	at := start.Add(48 * time.Hour)

	_, err := svc.BookConsultation(ctx, "client", "nobody", "quick_call", at)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = svc.BookConsultation(ctx, "client", "lw-002", "quick_call", start.Add(-time.Hour))
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.BookConsultation(ctx, "client", "lw-002", "weekend_retreat", at)
	require.ErrorIs(t, err, workflow.ErrUnknownOption)

	b, err := svc.BookConsultation(ctx, "client", "lw-002", "document_review", at)
	require.NoError(t, err)
	require.Equal(t, workflow.ActionPending, b.Action().Status())
	require.Equal(t, "document_review", b.State().Package.Selected)

	clk.Advance(999 * time.Millisecond)
	require.Equal(t, workflow.ActionPending, b.Action().Status())
	clk.Advance(time.Millisecond)
	require.True(t, b.Action().Succeeded())

	conf, ok := b.Action().Result()
	require.True(t, ok)
	require.EqualValues(t, 60000, conf.Fee)
	require.Equal(t, "lw-002", conf.LawyerID)
	require.Equal(t, at, conf.ScheduledAt)
	require.Len(t, mem.Events("engagement", b.ID()), 1)

	got, err := svc.Booking(b.ID(), "client")
	require.NoError(t, err)
	require.Same(t, b, got)
	_, err = svc.Booking(b.ID(), "someone")
	require.ErrorIs(t, err, ErrBookingNotFound)
}
