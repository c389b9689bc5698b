package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"contractflow/generate"
	"contractflow/journal"
	"contractflow/thread"
)

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("neg-%d", n.Add(1)) }
}

func startSession(t *testing.T, rec journal.Recorder) *Session {
	t.Helper()
	svc := NewService(rec).WithIDGenerator(sequentialIDs())
	sess, err := svc.Start(context.Background(), "contract-1", "owner-1", []ClauseInput{
		{ID: "payment", Title: "Payment", Text: "Payment is due within 30 days."},
		{ID: "termination", Title: "Termination", Text: "Either party may terminate with 60 days notice."},
	})
	require.NoError(t, err)
	return sess
}

func TestSession_AcceptUpdatesOnlyItsClause(t *testing.T) {
	mem := journal.NewMemory()
	sess := startSession(t, mem)
	ctx := context.Background()

	p1, err := sess.Propose(ctx, Proposal{ClauseID: "payment", AuthorID: "owner-1", Text: "Payment is due within 15 days."})
	require.NoError(t, err)
	require.Equal(t, thread.StatusPending, p1.Status)
	require.Equal(t, 2, p1.Payload.EditDistance)

	p2, err := sess.Propose(ctx, Proposal{ClauseID: "termination", AuthorID: "owner-1", Text: "Either party may terminate with 30 days notice."})
	require.NoError(t, err)
	p3, err := sess.Propose(ctx, Proposal{ClauseID: "payment", AuthorID: "user-2", Role: RoleCounterparty, Text: "Payment is due within 45 days."})
	require.NoError(t, err)

	clause, err := sess.Accept(ctx, "user-2", p1.ID)
	require.NoError(t, err)
	require.Equal(t, "Payment is due within 15 days.", clause.Text)
	require.Equal(t, ClauseAgreed, clause.Status)
	require.Equal(t, p1.ID, clause.AcceptedProposalID)

	got, _ := sess.Proposal(p1.ID)
	require.Equal(t, thread.StatusAccepted, got.Status)
	got, _ = sess.Proposal(p2.ID)
	require.Equal(t, thread.StatusPending, got.Status)
	got, _ = sess.Proposal(p3.ID)
	require.Equal(t, thread.StatusPending, got.Status)

	term, err := sess.Clause("termination")
	require.NoError(t, err)
	require.Equal(t, "Either party may terminate with 60 days notice.", term.Text)
	require.Equal(t, ClauseUnderNegotiation, term.Status)

	_, err = sess.Accept(ctx, "user-2", p1.ID)
	require.ErrorIs(t, err, ErrProposalSettled)
	_, err = sess.Reject(ctx, "user-2", p1.ID)
	require.ErrorIs(t, err, ErrProposalSettled)

	outbox := mem.Outbox()
	require.Len(t, outbox, 2)
	require.Equal(t, "negotiation.clause_agreed", outbox[1].Topic)
}

func TestSession_RejectRestoresClauseStatus(t *testing.T) {
	sess := startSession(t, nil)
	ctx := context.Background()

	p, err := sess.Propose(ctx, Proposal{ClauseID: "payment", AuthorID: "owner-1", Text: "Net 10."})
	require.NoError(t, err)
	clause, err := sess.Reject(ctx, "user-2", p.ID)
	require.NoError(t, err)
	require.Equal(t, ClauseOpen, clause.Status)

	a, err := sess.Propose(ctx, Proposal{ClauseID: "payment", AuthorID: "owner-1", Text: "Net 20."})
	require.NoError(t, err)
	_, err = sess.Accept(ctx, "user-2", a.ID)
	require.NoError(t, err)

	b, err := sess.Propose(ctx, Proposal{ClauseID: "payment", AuthorID: "user-2", Text: "Net 25."})
	require.NoError(t, err)
	clause, err = sess.Clause("payment")
	require.NoError(t, err)
	require.Equal(t, ClauseUnderNegotiation, clause.Status)

	clause, err = sess.Reject(ctx, "owner-1", b.ID)
	require.NoError(t, err)
	require.Equal(t, ClauseAgreed, clause.Status)
	require.Equal(t, "Net 20.", clause.Text)
}

func TestSession_ValidatesInput(t *testing.T) {
	sess := startSession(t, nil)
	ctx := context.Background()

	_, err := sess.Propose(ctx, Proposal{ClauseID: "missing", Text: "x"})
	require.ErrorIs(t, err, ErrClauseNotFound)
	_, err = sess.Propose(ctx, Proposal{ClauseID: "payment", Text: "   "})
	require.ErrorIs(t, err, ErrEmptyText)
	_, err = sess.Accept(ctx, "owner-1", "nope")
	require.ErrorIs(t, err, ErrProposalNotFound)

	p, err := sess.Propose(ctx, Proposal{ClauseID: "payment", AuthorID: "owner-1", Text: "Net 5."})
	require.NoError(t, err)
	_, err = sess.Accept(ctx, "owner-1", p.ID)
	require.ErrorIs(t, err, ErrOwnProposal)

	_, err = sess.Post(ctx, Message{AuthorID: "owner-1", Role: "bot", Content: "hi"})
	require.Error(t, err)
	m, err := sess.Post(ctx, Message{AuthorID: "owner-1", Role: RoleUser, Content: " hello "})
	require.NoError(t, err)
	require.Equal(t, thread.StatusSent, m.Status)
	require.Equal(t, "hello", m.Payload.Content)
}

func TestSession_SuggestFilesAIProposal(t *testing.T) {
	sess := startSession(t, nil)
	ctx := context.Background()

	var prompt string
	gen := generate.Func(func(_ context.Context, p string) (string, error) {
		prompt = p
		return "Payment is due within 20 days of invoice.", nil
	})
	p, err := sess.Suggest(ctx, "payment", "favour the supplier", gen)
	require.NoError(t, err)
	require.Equal(t, RoleAI, p.Payload.Role)
	require.Empty(t, p.Payload.AuthorID)
	require.Contains(t, prompt, "Payment is due within 30 days.")
	require.Contains(t, prompt, "# favour the supplier")

	_, err = sess.Accept(ctx, "owner-1", p.ID)
	require.NoError(t, err)

	failing := generate.Func(func(context.Context, string) (string, error) { return "", errors.New("down") })
	_, err = sess.Suggest(ctx, "termination", "", failing)
	require.ErrorIs(t, err, ErrSuggestFailed)
	empty := generate.Func(func(context.Context, string) (string, error) { return " ", nil })
	_, err = sess.Suggest(ctx, "termination", "", empty)
	require.ErrorIs(t, err, generate.ErrEmptyCompletion)
}

func TestSession_GateRequiresEveryClauseAgreed(t *testing.T) {
	sess := startSession(t, nil)
	ctx := context.Background()
	require.False(t, sess.Gate().Enabled())

	for _, id := range []string{"payment", "termination"} {
		p, err := sess.Propose(ctx, Proposal{ClauseID: id, AuthorID: "owner-1", Text: "Agreed text for " + id})
		require.NoError(t, err)
		_, err = sess.Accept(ctx, "user-2", p.ID)
		require.NoError(t, err)
	}
	require.True(t, sess.AllAgreed())

	_, err := sess.Propose(ctx, Proposal{ClauseID: "payment", AuthorID: "owner-1", Text: "Reopen"})
	require.NoError(t, err)
	res := sess.Gate().Result()
	require.False(t, res.Enabled)
	require.Equal(t, []string{"all_clauses_agreed", "no_pending_proposals"}, res.Failed)
}

func TestSession_ClosedRejectsChanges(t *testing.T) {
	mem := journal.NewMemory()
	sess := startSession(t, mem)
	ctx := context.Background()

	p, err := sess.Propose(ctx, Proposal{ClauseID: "payment", AuthorID: "user-2", Text: "Net 5."})
	require.NoError(t, err)
	sess.Close()
	require.True(t, sess.Closed())
	require.True(t, sess.State().Closed)

	_, err = sess.Propose(ctx, Proposal{ClauseID: "payment", AuthorID: "user-2", Text: "Net 1."})
	require.ErrorIs(t, err, ErrSessionClosed)
	_, err = sess.Accept(ctx, "owner-1", p.ID)
	require.ErrorIs(t, err, ErrSessionClosed)
	_, err = sess.Reject(ctx, "owner-1", p.ID)
	require.ErrorIs(t, err, ErrSessionClosed)
	called := false
	gen := generate.Func(func(context.Context, string) (string, error) {
		called = true
		return "Net 2.", nil
	})
	_, err = sess.Suggest(ctx, "payment", "", gen)
	require.ErrorIs(t, err, ErrSessionClosed)
	require.False(t, called)

	clause, err := sess.Clause("payment")
	require.NoError(t, err)
	require.Equal(t, "Payment is due within 30 days.", clause.Text)
	got, _ := sess.Proposal(p.ID)
	require.Equal(t, thread.StatusPending, got.Status)
	require.Len(t, mem.Events("negotiation", sess.ID()), 2)

	sess.Reopen()
	require.False(t, sess.Closed())
	clause, err = sess.Accept(ctx, "owner-1", p.ID)
	require.NoError(t, err)
	require.Equal(t, "Net 5.", clause.Text)
}

func TestSession_ConcurrentAcceptsSettleOnce(t *testing.T) {
	sess := startSession(t, nil)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 8; i++ {
		p, err := sess.Propose(ctx, Proposal{ClauseID: "payment", AuthorID: "owner-1", Text: fmt.Sprintf("Net %d.", i)})
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}

	var wg sync.WaitGroup
	var wins atomic.Int32
	for _, id := range ids {
		for j := 0; j < 3; j++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if _, err := sess.Accept(ctx, "user-2", id); err == nil {
					wins.Add(1)
				}
			}(id)
		}
	}
	wg.Wait()
	require.EqualValues(t, len(ids), wins.Load())

	clause, err := sess.Clause("payment")
	require.NoError(t, err)
	accepted, ok := sess.Proposal(clause.AcceptedProposalID)
	require.True(t, ok)
	require.Equal(t, thread.StatusAccepted, accepted.Status)
	require.Equal(t, accepted.Payload.Text, clause.Text)
}

func TestService_StartOncePerContract(t *testing.T) {
	svc := NewService(nil)
	sess, err := svc.Start(context.Background(), "c-1", "owner-1", []ClauseInput{{ID: "a", Title: "A", Text: "x"}, {ID: "a", Title: "dup", Text: "y"}})
	require.NoError(t, err)
	require.Len(t, sess.Clauses(), 1)

	_, err = svc.Start(context.Background(), "c-1", "owner-1", nil)
	require.ErrorIs(t, err, ErrSessionExists)

	got, err := svc.ForContract("c-1")
	require.NoError(t, err)
	require.Same(t, sess, got)
	_, err = svc.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)
}
