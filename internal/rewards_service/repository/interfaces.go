package repository

import (
	"context"
	"errors"

	"github.com/Saint-Daniels/Rewards/internal/rewards_service/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the common interface over pgxpool.Pool and pgx.Tx so repository
// methods can run inside or outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// ErrDuplicateIdempotencyKey is the storage-level signal that an entry with
// the same (user_id, idempotency_key) already exists. Callers treat it as a
// replay, never as a user-facing failure.
var ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

// ErrRedemptionNotFound is returned when no redemption intent matches.
var ErrRedemptionNotFound = errors.New("redemption intent not found")

// LedgerReader is the read-only view of a user's ledger. Entries come back
// in ascending sequence order unless stated otherwise.
type LedgerReader interface {
	// ReadSequence returns entries with fromSeq <= seq <= toSeq. A toSeq of 0
	// means "to the end".
	ReadSequence(ctx context.Context, q Querier, userID string, fromSeq, toSeq int64) ([]domain.LedgerEntry, error)
	// List returns a page of entries newest-first plus the total count, for
	// transaction-history queries.
	List(ctx context.Context, q Querier, userID string, limit, offset int) ([]domain.LedgerEntry, int, error)
	LastSequence(ctx context.Context, q Querier, userID string) (int64, error)
	FindByIdempotencyKey(ctx context.Context, q Querier, userID, key string) (*domain.LedgerEntry, error)
	GetByID(ctx context.Context, q Querier, id string) (*domain.LedgerEntry, error)
}

// LedgerAppender extends the reader with the single mutation the ledger
// supports. Only the transaction coordinator is handed this interface;
// every other component sees LedgerReader at most. There is no update and
// no delete; corrections are new ADJUSTMENT entries.
type LedgerAppender interface {
	LedgerReader
	// Append assigns the per-user sequence number and persists the entry in
	// one atomic statement within the caller's transaction.
	Append(ctx context.Context, q Querier, draft *domain.EntryDraft) (*domain.LedgerEntry, error)
}

// AuditRepository persists redacted coordinator decisions, append-only.
type AuditRepository interface {
	Append(ctx context.Context, q Querier, record *domain.AuditRecord) (*domain.AuditRecord, error)
}

// RedemptionRepository tracks two-phase redemption intents.
type RedemptionRepository interface {
	Create(ctx context.Context, q Querier, intent *domain.RedemptionIntent) error
	GetByIdempotencyKey(ctx context.Context, q Querier, userID, key string) (*domain.RedemptionIntent, error)
	GetByGatewayRef(ctx context.Context, q Querier, gatewayRef string) (*domain.RedemptionIntent, error)
	// UpdateStatus transitions pending -> settled/released. It refuses to
	// touch an intent that already left pending, which makes webhook replays
	// harmless.
	UpdateStatus(ctx context.Context, q Querier, id string, from, to domain.RedemptionStatus, gatewayRef *string) (bool, error)
}
