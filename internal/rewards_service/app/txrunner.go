package app

import (
	"context"
	"fmt"

	"github.com/Saint-Daniels/Rewards/internal/rewards_service/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRunner executes fn inside a single storage transaction that holds the
// per-user critical section. For one user, every "read balance, check,
// append" sequence runs under this exclusion; requests for different users
// proceed fully in parallel.
type TxRunner interface {
	WithUserLock(ctx context.Context, userID string, fn func(q repository.Querier) error) error
}

type pgxTxRunner struct {
	pool *pgxpool.Pool
}

// NewPgxTxRunner builds the production TxRunner: a pgx transaction taking a
// transaction-scoped advisory lock keyed on the user. The lock releases
// automatically at commit or rollback.
func NewPgxTxRunner(pool *pgxpool.Pool) TxRunner {
	return &pgxTxRunner{pool: pool}
}

func (r *pgxTxRunner) WithUserLock(ctx context.Context, userID string, fn func(q repository.Querier) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
			return fmt.Errorf("failed to acquire user lock: %w", err)
		}
		return fn(tx)
	})
}
