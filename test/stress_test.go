package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"contractflow/catalog"
	"contractflow/contract"
	"contractflow/journal"
	"contractflow/negotiation"
	"contractflow/signature"
	"contractflow/test/actors"
	"contractflow/test/chaos"
	"contractflow/test/infra"
	"contractflow/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent actors")
	flCeremonies  = flag.Int("ceremonies", 4, "number of signature ceremonies")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

// stressDocument is a two-party contract with no bound users, so any actor
// may sign for either party.
type stressDocument struct{ id string }

func (d stressDocument) ID() string { return d.id }

func (d stressDocument) Parties() []contract.Party {
	return []contract.Party{
		{ID: d.id + "-first", Name: "First Party", Role: contract.RoleFirstParty, Status: contract.PartyManual},
		{ID: d.id + "-second", Name: "Second Party", Role: contract.RoleSecondParty, Status: contract.PartyManual},
		{ID: d.id + "-witness", Name: "Witness", Role: contract.RoleWitness, Status: contract.PartyManual},
	}
}

func (d stressDocument) Fingerprint() string { return "fp-" + d.id }

func TestJournalConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("stress run skipped in -short mode")
	}
	flag.Parse()
	seed := *flSeed
	rand.Seed(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv(infra.DSNEnv) != "":
		dsn = os.Getenv(infra.DSNEnv)
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx, "contractflow_stress")
			if err != nil {
				t.Skipf("no database available: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	recorder := journal.NewPostgres(pool, nil)
	cat := catalog.MustDefault()
	cat.Delays.Signature = 20 * time.Millisecond

	var clauses []negotiation.ClauseInput
	for _, c := range cat.Clauses("service_agreement") {
		clauses = append(clauses, negotiation.ClauseInput{ID: c.ID, Title: c.Title, Text: c.Text})
	}
	sess, err := negotiation.NewService(recorder).Start(ctx, "stress-contract", "owner", clauses)
	if err != nil {
		t.Fatalf("start negotiation: %v", err)
	}

	signatures := signature.NewService(cat, recorder)
	ceremonies := make([]*signature.Ceremony, *flCeremonies)
	for i := range ceremonies {
		ceremonies[i], err = signatures.Start(ctx, "owner", stressDocument{id: fmt.Sprintf("stress-doc-%d", i)})
		if err != nil {
			t.Fatalf("start ceremony %d: %v", i, err)
		}
	}

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for i := 0; i < *flConcurrency; i++ {
		author := fmt.Sprintf("counterparty-%d", i)
		settler := fmt.Sprintf("owner-%d", i)
		g.Go(func() error { return actors.Proposer(ctx2, sess, author, stop) })
		g.Go(func() error { return actors.Settler(ctx2, sess, settler, stop) })
	}
	for i, c := range ceremonies {
		key := fmt.Sprintf("complete-%d-%d", seed, i)
		for j := 0; j < 3; j++ {
			actor := fmt.Sprintf("signer-%d-%d", i, j)
			g.Go(func() error { return actors.Completer(ctx2, c, actor, key, stop) })
		}
	}
	g.Go(func() error { return actors.OutboxWorker(ctx2, pool, stop) })

	killer := chaos.NewKiller(pool, infra.ApplicationName, 2*time.Second)
	go killer.Run(ctx2, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				// chaos may have killed the oracle's own connection
				t.Logf("oracle error: %v", err)
				continue
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v (seed=%d)", err, seed)
		}
	}
	if err := oracles.CheckSession(sess); err != nil {
		t.Fatalf("negotiation state: %v (seed=%d)", err, seed)
	}
	for i, c := range ceremonies {
		if st := c.Status(); st != signature.StatusCompleted {
			t.Errorf("ceremony %d ended %s (seed=%d)", i, st, seed)
		}
	}
	t.Logf("seed=%d proposals=%d backends_killed=%d", seed, len(sess.Proposals()), killer.Killed())
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"timeline_events", `SELECT id, aggregate_type, aggregate_id, seq, type, created_at FROM timeline_events ORDER BY id DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
		{"idempotency", `SELECT key, created_at FROM idempotency ORDER BY created_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
