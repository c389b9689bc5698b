package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the writes executed inside one journal transaction.
type Store interface {
	InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error
	AppendTimeline(ctx context.Context, tx pgx.Tx, ev Event) (int, error)
	EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Postgres writes the timeline event and outbox message of an event in the
// same transaction.
type Postgres struct {
	pool  TxBeginner
	store Store
}

func NewPostgres(pool TxBeginner, store Store) *Postgres {
	if store == nil {
		store = NewRepository()
	}
	return &Postgres{pool: pool, store: store}
}

func (p *Postgres) Record(ctx context.Context, ev Event) error {
	if err := validate(ev); err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("journal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if ev.IdempotencyKey != "" {
		if err := p.store.InsertIdempotencyKey(ctx, tx, ev.IdempotencyKey); err != nil {
			if errors.Is(err, ErrDuplicateIdempotencyKey) {
				return nil
			}
			return err
		}
	}

	if _, err := p.store.AppendTimeline(ctx, tx, ev); err != nil {
		return err
	}
	if ev.Topic != "" {
		if err := p.store.EnqueueOutbox(ctx, tx, ev.Topic, outboxPayload(ev)); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("journal: commit tx: %w", err)
	}
	return nil
}

// Repository is the SQL implementation of Store.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// InsertIdempotencyKey reserves key inside the active transaction.
func (r *Repository) InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error {
	if key == "" {
		return fmt.Errorf("journal: empty idempotency key")
	}
	_, err := tx.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1)`, key)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("journal: insert idempotency key: %w", err)
	}
	return nil
}

// AppendTimeline inserts the event with the next per-aggregate seq. The
// advisory lock serialises concurrent appends to the same aggregate.
func (r *Repository) AppendTimeline(ctx context.Context, tx pgx.Tx, ev Event) (int, error) {
	aggregate := ev.AggregateType + "/" + ev.AggregateID
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, aggregate); err != nil {
		return 0, fmt.Errorf("journal: lock aggregate: %w", err)
	}

	payload, err := json.Marshal(timelinePayload(ev))
	if err != nil {
		return 0, fmt.Errorf("journal: marshal timeline payload: %w", err)
	}

	var actorID any
	if ev.ActorID != "" {
		actorID = ev.ActorID
	}

	const insertSQL = `
INSERT INTO timeline_events (aggregate_type, aggregate_id, seq, type, actor_id, payload)
SELECT $1, $2, COALESCE(MAX(seq), 0) + 1, $3, $4, $5
FROM timeline_events
WHERE aggregate_type = $1 AND aggregate_id = $2
RETURNING seq;
`
	var seq int
	if err := tx.QueryRow(ctx, insertSQL, ev.AggregateType, ev.AggregateID, ev.Type, actorID, payload).Scan(&seq); err != nil {
		return 0, fmt.Errorf("journal: insert timeline event: %w", err)
	}
	return seq, nil
}

func (r *Repository) EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("journal: marshal outbox payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2)`, topic, raw); err != nil {
		return fmt.Errorf("journal: insert outbox message: %w", err)
	}
	return nil
}
