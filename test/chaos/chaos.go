// Package chaos disturbs the journal database while actors run.
package chaos

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Killer terminates random backends opened under one application name.
type Killer struct {
	pool    *pgxpool.Pool
	appName string
	every   time.Duration
	killed  atomic.Int64
}

func NewKiller(pool *pgxpool.Pool, appName string, every time.Duration) *Killer {
	if every <= 0 {
		every = 2 * time.Second
	}
	return &Killer{pool: pool, appName: appName, every: every}
}

// Killed reports how many backends were terminated so far.
func (k *Killer) Killed() int64 { return k.killed.Load() }

// Run terminates, with probability one in five per tick, one backend other
// than the caller's until ctx ends or stop closes.
func (k *Killer) Run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(k.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rand.Intn(5) != 0 {
				continue
			}
			var n int64
			err := k.pool.QueryRow(ctx, `
SELECT COUNT(*) FROM (
    SELECT pg_terminate_backend(pid) FROM pg_stat_activity
    WHERE datname = current_database() AND application_name = $1 AND pid <> pg_backend_pid()
    ORDER BY random() LIMIT 1
) t`, k.appName).Scan(&n)
			if err == nil {
				k.killed.Add(n)
			}
		}
	}
}
