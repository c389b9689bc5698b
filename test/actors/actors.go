// Package actors drives the workflow services concurrently against a shared
// Postgres journal.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"contractflow/negotiation"
	"contractflow/signature"
	"contractflow/thread"
)

func stopped(ctx context.Context, stop <-chan struct{}) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-stop:
		return true, nil
	default:
		return false, nil
	}
}

func pause(min, spread int) {
	time.Sleep(time.Duration(min+rand.Intn(spread)) * time.Millisecond)
}

// Proposer keeps filing counterparty proposals on random clauses.
func Proposer(ctx context.Context, sess *negotiation.Session, authorID string, stop <-chan struct{}) error {
	for n := 0; ; n++ {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		clauses := sess.Clauses()
		c := clauses[rand.Intn(len(clauses))]
		_, err := sess.Propose(ctx, negotiation.Proposal{
			ClauseID: c.ID,
			AuthorID: authorID,
			Role:     negotiation.RoleCounterparty,
			Text:     fmt.Sprintf("%s [rev %s-%d]", c.Title, authorID, n),
		})
		if err != nil {
			return fmt.Errorf("proposer %s: %w", authorID, err)
		}
		pause(10, 20)
	}
}

// Settler races other settlers to accept or reject pending proposals. Losing
// the race is expected; anything else is an error.
func Settler(ctx context.Context, sess *negotiation.Session, actorID string, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		var pending []thread.Entry[negotiation.Proposal]
		for _, p := range sess.Proposals() {
			if p.Status == thread.StatusPending {
				pending = append(pending, p)
			}
		}
		if len(pending) == 0 {
			pause(5, 10)
			continue
		}
		p := pending[rand.Intn(len(pending))]
		var err error
		if rand.Intn(3) == 0 {
			_, err = sess.Reject(ctx, actorID, p.ID)
		} else {
			_, err = sess.Accept(ctx, actorID, p.ID)
		}
		if err != nil && !errors.Is(err, negotiation.ErrProposalSettled) {
			return fmt.Errorf("settler %s: %w", actorID, err)
		}
		pause(5, 15)
	}
}

var fullChecklist = signature.Checklist{ReviewedDocument: true, AcceptedTerms: true, IdentityConfirmed: true}

// Completer signs for every party of a ceremony and then completes it with a
// shared idempotency key. Several completers run per ceremony.
func Completer(ctx context.Context, c *signature.Ceremony, actorID, key string, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		for _, s := range c.State().Signers {
			err := c.Sign(ctx, actorID, s.PartyID, fullChecklist)
			switch {
			case err == nil,
				errors.Is(err, signature.ErrAlreadySigned),
				errors.Is(err, signature.ErrSigningInProgress),
				errors.Is(err, signature.ErrCeremonyClosed):
			default:
				return fmt.Errorf("completer %s: sign %s: %w", actorID, s.PartyID, err)
			}
			if a, ok := c.Action(s.PartyID); ok {
				select {
				case <-a.Done():
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		err := c.Complete(ctx, actorID, key)
		if err != nil && !errors.Is(err, signature.ErrNotAllSigned) {
			return fmt.Errorf("completer %s: complete: %w", actorID, err)
		}
		pause(20, 40)
	}
}

// OutboxWorker drains pending outbox messages with SKIP LOCKED, failing one
// in ten deliveries until its attempts run out.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	const maxAttempts = 3
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			pause(50, 50)
			continue
		}
		rows, err := tx.Query(ctx, `SELECT id, attempts FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			pause(50, 50)
			continue
		}
		type claimed struct {
			id       string
			attempts int
		}
		var batch []claimed
		for rows.Next() {
			var c claimed
			if err := rows.Scan(&c.id, &c.attempts); err == nil {
				batch = append(batch, c)
			}
		}
		rows.Close()
		for _, c := range batch {
			switch {
			case rand.Intn(10) != 0:
				_, _ = tx.Exec(ctx, `UPDATE outbox SET status='sent', attempts=attempts+1 WHERE id=$1`, c.id)
			case c.attempts+1 >= maxAttempts:
				_, _ = tx.Exec(ctx, `UPDATE outbox SET status='failed', attempts=attempts+1 WHERE id=$1`, c.id)
			default:
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1 WHERE id=$1`, c.id)
			}
		}
		_ = tx.Commit(ctx)
		pause(50, 50)
	}
}
