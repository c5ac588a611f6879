package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Saint-Daniels/Rewards/internal/rewards_service/domain"
	"github.com/Saint-Daniels/Rewards/internal/rewards_service/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type pgRedemptionRepository struct {
	logger *slog.Logger
}

// NewPgRedemptionRepository creates the PostgreSQL redemption intent store.
func NewPgRedemptionRepository(logger *slog.Logger) repository.RedemptionRepository {
	return &pgRedemptionRepository{logger: logger.With("component", "redemption_repository")}
}

const redemptionColumns = `id, user_id, amount, partner_ref, idempotency_key, status, gateway_ref, hold_entry_id, created_at, updated_at`

func (r *pgRedemptionRepository) Create(ctx context.Context, q repository.Querier, intent *domain.RedemptionIntent) error {
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	intent.CreatedAt = now
	intent.UpdatedAt = now

	query := `
		INSERT INTO redemption_intents (` + redemptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := q.Exec(ctx, query,
		intent.ID, intent.UserID, intent.Amount, intent.PartnerRef, intent.IdempotencyKey,
		intent.Status, intent.GatewayRef, intent.HoldEntryID, intent.CreatedAt, intent.UpdatedAt,
	)
	return err
}

func (r *pgRedemptionRepository) GetByIdempotencyKey(ctx context.Context, q repository.Querier, userID, key string) (*domain.RedemptionIntent, error) {
	query := `SELECT ` + redemptionColumns + ` FROM redemption_intents WHERE user_id = $1 AND idempotency_key = $2`
	return r.scanIntent(q.QueryRow(ctx, query, userID, key))
}

func (r *pgRedemptionRepository) GetByGatewayRef(ctx context.Context, q repository.Querier, gatewayRef string) (*domain.RedemptionIntent, error) {
	query := `SELECT ` + redemptionColumns + ` FROM redemption_intents WHERE gateway_ref = $1`
	return r.scanIntent(q.QueryRow(ctx, query, gatewayRef))
}

// UpdateStatus performs a guarded transition. The WHERE clause on the
// current status makes duplicate settlement webhooks no-ops.
func (r *pgRedemptionRepository) UpdateStatus(ctx context.Context, q repository.Querier, id string, from, to domain.RedemptionStatus, gatewayRef *string) (bool, error) {
	query := `
		UPDATE redemption_intents
		SET status = $1, gateway_ref = COALESCE($2, gateway_ref), updated_at = now()
		WHERE id = $3 AND status = $4
	`
	tag, err := q.Exec(ctx, query, to, gatewayRef, id, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgRedemptionRepository) scanIntent(row rowScanner) (*domain.RedemptionIntent, error) {
	intent := &domain.RedemptionIntent{}
	err := row.Scan(
		&intent.ID, &intent.UserID, &intent.Amount, &intent.PartnerRef, &intent.IdempotencyKey,
		&intent.Status, &intent.GatewayRef, &intent.HoldEntryID, &intent.CreatedAt, &intent.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrRedemptionNotFound
		}
		return nil, err
	}
	return intent, nil
}
