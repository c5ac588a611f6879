package domain

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RedemptionStatus tracks the two-phase settlement of a redemption. This is
// workflow state, not balance state: the balance effect lives entirely in
// the ledger entries (hold, confirm, release).
type RedemptionStatus string

const (
	RedemptionStatusPending  RedemptionStatus = "pending"
	RedemptionStatusSettled  RedemptionStatus = "settled"
	RedemptionStatusReleased RedemptionStatus = "released"
)

// Value implements the driver.Valuer interface for RedemptionStatus.
func (s RedemptionStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// Scan implements the sql.Scanner interface for RedemptionStatus.
func (s *RedemptionStatus) Scan(value interface{}) error {
	strVal, ok := value.(string)
	if !ok {
		bytesVal, ok := value.([]byte)
		if !ok {
			return fmt.Errorf("failed to scan RedemptionStatus: value is not string or []byte, it is %T", value)
		}
		strVal = string(bytesVal)
	}
	*s = RedemptionStatus(strVal)
	switch *s {
	case RedemptionStatusPending, RedemptionStatusSettled, RedemptionStatusReleased:
		return nil
	default:
		return fmt.Errorf("unknown RedemptionStatus value: %s", strVal)
	}
}

// RedemptionIntent records one redemption's progress through the payment
// settlement collaborator: a pending intent holds funds via a debit
// ADJUSTMENT, settlement success confirms the REDEEM entry, and settlement
// failure releases the hold with a compensating credit.
type RedemptionIntent struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	Amount         decimal.Decimal  `json:"amount"`
	PartnerRef     string           `json:"partner_ref"`
	IdempotencyKey string           `json:"idempotency_key"`
	Status         RedemptionStatus `json:"status"`
	GatewayRef     *string          `json:"gateway_ref,omitempty"`
	HoldEntryID    string           `json:"hold_entry_id"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}
