package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Saint-Daniels/Rewards/internal/rewards_service/domain"
	"github.com/Saint-Daniels/Rewards/internal/rewards_service/repository"
	"github.com/google/uuid"
)

type pgAuditRepository struct {
	logger *slog.Logger
}

// NewPgAuditRepository creates the PostgreSQL audit store. Like the ledger,
// the audit collection is append-only; there is no update or delete path.
func NewPgAuditRepository(logger *slog.Logger) repository.AuditRepository {
	return &pgAuditRepository{logger: logger.With("component", "audit_repository")}
}

func (r *pgAuditRepository) Append(ctx context.Context, q repository.Querier, record *domain.AuditRecord) (*domain.AuditRecord, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	var categoriesJSON []byte
	if len(record.Categories) > 0 {
		var err error
		categoriesJSON, err = json.Marshal(record.Categories)
		if err != nil {
			return nil, fmt.Errorf("failed to encode category decisions: %w", err)
		}
	}

	query := `
		INSERT INTO audit_records (id, hashed_user_id, action, outcome, reject_reason, reference_entry_id, categories, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := q.Exec(ctx, query,
		record.ID, record.HashedUserID, record.Action, string(record.Outcome),
		record.RejectReason, record.ReferenceEntryID, categoriesJSON, record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return record, nil
}
