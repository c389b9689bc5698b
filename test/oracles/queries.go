package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"contractflow/negotiation"
	"contractflow/thread"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_timeline_seq_gapless",
			SQL: `SELECT aggregate_type, aggregate_id, COUNT(*), MAX(seq) FROM timeline_events
                  GROUP BY aggregate_type, aggregate_id
                  HAVING COUNT(*) <> MAX(seq) OR MIN(seq) <> 1`,
		},
		{
			Name: "O2_single_signature_completion",
			SQL: `SELECT aggregate_id, COUNT(*) FROM timeline_events
                  WHERE aggregate_type = 'signature' AND type = 'SIGNATURE_COMPLETED'
                  GROUP BY aggregate_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_proposal_settled_once",
			SQL: `SELECT payload->>'proposal_id', COUNT(*) FROM timeline_events
                  WHERE aggregate_type = 'negotiation' AND type IN ('PROPOSAL_ACCEPTED','PROPOSAL_REJECTED')
                  GROUP BY payload->>'proposal_id' HAVING COUNT(*) > 1`,
		},
		{
			Name: "O4_agreement_has_outbox",
			SQL: `SELECT 'missing_clause_agreed' AS detail
                  WHERE (SELECT COUNT(*) FROM timeline_events WHERE type = 'PROPOSAL_ACCEPTED')
                      <> (SELECT COUNT(*) FROM outbox WHERE topic = 'negotiation.clause_agreed')`,
		},
		{
			Name: "O5_outbox_stale",
			SQL: `SELECT id::text FROM outbox
                  WHERE status = 'pending' AND now()-created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}

// CheckSession verifies the in-memory negotiation state: every clause carries
// the text of the accepted proposal it points at, and agreed clauses point at one.
func CheckSession(sess *negotiation.Session) error {
	for _, c := range sess.Clauses() {
		if c.AcceptedProposalID == "" {
			if c.Status == negotiation.ClauseAgreed {
				return fmt.Errorf("clause %s agreed without an accepted proposal", c.ID)
			}
			continue
		}
		p, ok := sess.Proposal(c.AcceptedProposalID)
		switch {
		case !ok:
			return fmt.Errorf("clause %s points at unknown proposal %s", c.ID, c.AcceptedProposalID)
		case p.Status != thread.StatusAccepted:
			return fmt.Errorf("clause %s points at %s proposal %s", c.ID, p.Status, p.ID)
		case p.Payload.ClauseID != c.ID:
			return fmt.Errorf("clause %s points at proposal %s of clause %s", c.ID, p.ID, p.Payload.ClauseID)
		}
		if p.Payload.Text != c.Text {
			return fmt.Errorf("clause %s text differs from accepted proposal %s", c.ID, p.ID)
		}
	}
	return nil
}
