package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Saint-Daniels/Rewards/internal/rewards_service/domain"
	"github.com/Saint-Daniels/Rewards/internal/rewards_service/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

type pgLedgerRepository struct {
	logger *slog.Logger
}

// NewPgLedgerRepository creates the PostgreSQL ledger store. The repository
// is stateless; every method takes the Querier (pool or transaction) it must
// run against.
func NewPgLedgerRepository(logger *slog.Logger) repository.LedgerAppender {
	return &pgLedgerRepository{logger: logger.With("component", "ledger_repository")}
}

const entryColumns = `id, user_id, seq, kind, direction, amount, reason, items, merchant_id, partner_ref, idempotency_key, created_at`

// Append persists a draft and assigns its per-user sequence number in a
// single INSERT. created_at is clamped to never decrease within a user's
// sequence. The caller is expected to hold the per-user advisory lock; the
// unique indexes on (user_id, seq) and (user_id, idempotency_key) are the
// storage-level backstop.
func (r *pgLedgerRepository) Append(ctx context.Context, q repository.Querier, draft *domain.EntryDraft) (*domain.LedgerEntry, error) {
	itemsJSON, err := marshalItems(draft.Items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode items: %w", err)
	}

	entry := &domain.LedgerEntry{
		ID:             uuid.NewString(),
		UserID:         draft.UserID,
		Kind:           draft.Kind,
		Direction:      draft.Direction,
		Amount:         draft.Amount,
		Reason:         draft.Reason,
		Items:          draft.Items,
		MerchantID:     draft.MerchantID,
		PartnerRef:     draft.PartnerRef,
		IdempotencyKey: draft.IdempotencyKey,
	}

	query := `
		INSERT INTO ledger_entries (` + entryColumns + `)
		SELECT $1, $2, COALESCE(MAX(seq), 0) + 1, $3, $4, $5, $6, $7, $8, $9, $10,
		       GREATEST(now(), COALESCE(MAX(created_at), now()))
		FROM ledger_entries WHERE user_id = $2
		RETURNING seq, created_at
	`
	err = q.QueryRow(ctx, query,
		entry.ID, entry.UserID, entry.Kind, entry.Direction, entry.Amount,
		entry.Reason, itemsJSON, entry.MerchantID, entry.PartnerRef, entry.IdempotencyKey,
	).Scan(&entry.Seq, &entry.CreatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			if pgErr.ConstraintName == "ledger_entries_user_idem_uq" {
				return nil, repository.ErrDuplicateIdempotencyKey
			}
			// (user_id, seq) collision: another writer slipped past the
			// per-user lock. Retryable by the caller thanks to idempotency.
			return nil, fmt.Errorf("sequence conflict for user: %w", err)
		}
		return nil, err
	}
	return entry, nil
}

func (r *pgLedgerRepository) ReadSequence(ctx context.Context, q repository.Querier, userID string, fromSeq, toSeq int64) ([]domain.LedgerEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE user_id = $1 AND seq >= $2 AND ($3 = 0 OR seq <= $3)
		ORDER BY seq ASC
	`
	rows, err := q.Query(ctx, query, userID, fromSeq, toSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (r *pgLedgerRepository) List(ctx context.Context, q repository.Querier, userID string, limit, offset int) ([]domain.LedgerEntry, int, error) {
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY seq DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := q.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (r *pgLedgerRepository) LastSequence(ctx context.Context, q repository.Querier, userID string) (int64, error) {
	var seq int64
	err := q.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM ledger_entries WHERE user_id = $1`, userID).Scan(&seq)
	return seq, err
}

func (r *pgLedgerRepository) FindByIdempotencyKey(ctx context.Context, q repository.Querier, userID, key string) (*domain.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE user_id = $1 AND idempotency_key = $2`
	entry, err := scanEntry(q.QueryRow(ctx, query, userID, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEntryNotFound
		}
		return nil, err
	}
	return entry, nil
}

func (r *pgLedgerRepository) GetByID(ctx context.Context, q repository.Querier, id string) (*domain.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE id = $1`
	entry, err := scanEntry(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEntryNotFound
		}
		return nil, err
	}
	return entry, nil
}

func marshalItems(items []domain.Item) ([]byte, error) {
	if len(items) == 0 {
		return nil, nil
	}
	return json.Marshal(items)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*domain.LedgerEntry, error) {
	entry := &domain.LedgerEntry{}
	var itemsJSON []byte
	err := row.Scan(
		&entry.ID, &entry.UserID, &entry.Seq, &entry.Kind, &entry.Direction,
		&entry.Amount, &entry.Reason, &itemsJSON, &entry.MerchantID,
		&entry.PartnerRef, &entry.IdempotencyKey, &entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &entry.Items); err != nil {
			return nil, fmt.Errorf("failed to decode items: %w", err)
		}
	}
	return entry, nil
}

func scanEntries(rows pgx.Rows) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
