package domain

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind defines the nature of a ledger entry.
type EntryKind string

const (
	EntryKindEarn       EntryKind = "earn"
	EntryKindSpend      EntryKind = "spend"
	EntryKindRedeem     EntryKind = "redeem"
	EntryKindAdjustment EntryKind = "adjustment"
)

// Value implements the driver.Valuer interface for EntryKind.
func (k EntryKind) Value() (driver.Value, error) {
	return string(k), nil
}

// Scan implements the sql.Scanner interface for EntryKind.
func (k *EntryKind) Scan(value interface{}) error {
	strVal, ok := value.(string)
	if !ok {
		bytesVal, ok := value.([]byte)
		if !ok {
			return fmt.Errorf("failed to scan EntryKind: value is not string or []byte, it is %T", value)
		}
		strVal = string(bytesVal)
	}
	*k = EntryKind(strVal)
	switch *k {
	case EntryKindEarn, EntryKindSpend, EntryKindRedeem, EntryKindAdjustment:
		return nil
	default:
		return fmt.Errorf("unknown EntryKind value: %s", strVal)
	}
}

// Direction determines how an entry's amount affects the balance. EARN is
// always a credit, SPEND and REDEEM are always debits; ADJUSTMENT carries an
// explicit direction so compensating entries can go either way.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Value implements the driver.Valuer interface for Direction.
func (d Direction) Value() (driver.Value, error) {
	return string(d), nil
}

// Scan implements the sql.Scanner interface for Direction.
func (d *Direction) Scan(value interface{}) error {
	strVal, ok := value.(string)
	if !ok {
		bytesVal, ok := value.([]byte)
		if !ok {
			return fmt.Errorf("failed to scan Direction: value is not string or []byte, it is %T", value)
		}
		strVal = string(bytesVal)
	}
	*d = Direction(strVal)
	switch *d {
	case DirectionCredit, DirectionDebit:
		return nil
	default:
		return fmt.Errorf("unknown Direction value: %s", strVal)
	}
}

// DirectionForKind returns the fixed direction of a kind. ADJUSTMENT has no
// fixed direction and must be set on the draft.
func DirectionForKind(kind EntryKind) (Direction, bool) {
	switch kind {
	case EntryKindEarn:
		return DirectionCredit, true
	case EntryKindSpend, EntryKindRedeem:
		return DirectionDebit, true
	default:
		return "", false
	}
}

// LedgerEntry is one immutable record of a balance-affecting event. Once
// persisted, no field ever changes; corrections are new ADJUSTMENT entries
// referencing the original through Reason.
type LedgerEntry struct {
	ID             string          `json:"entry_id"`
	UserID         string          `json:"user_id"`
	Seq            int64           `json:"seq"`
	Kind           EntryKind       `json:"kind"`
	Direction      Direction       `json:"direction"`
	Amount         decimal.Decimal `json:"amount"` // non-negative magnitude
	Reason         string          `json:"reason"`
	Items          []Item          `json:"items,omitempty"`
	MerchantID     *string         `json:"merchant_id,omitempty"`
	PartnerRef     *string         `json:"partner_ref,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Effect returns the signed contribution of the entry to the balance.
func (e *LedgerEntry) Effect() decimal.Decimal {
	if e.Direction == DirectionDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// EntryDraft is the coordinator's request to append a ledger entry. The
// ledger store assigns ID, Seq and CreatedAt atomically at append time.
type EntryDraft struct {
	UserID         string
	Kind           EntryKind
	Direction      Direction
	Amount         decimal.Decimal
	Reason         string
	Items          []Item
	MerchantID     *string
	PartnerRef     *string
	IdempotencyKey string
}

// Validate checks structural invariants before the draft reaches storage.
func (d *EntryDraft) Validate() error {
	if d.UserID == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidAmount)
	}
	if d.IdempotencyKey == "" {
		return fmt.Errorf("%w: missing idempotency key", ErrInvalidAmount)
	}
	if !d.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidAmount, d.Amount)
	}
	if fixed, ok := DirectionForKind(d.Kind); ok {
		if d.Direction == "" {
			d.Direction = fixed
		} else if d.Direction != fixed {
			return fmt.Errorf("direction %s not valid for kind %s", d.Direction, d.Kind)
		}
		return nil
	}
	if d.Kind != EntryKindAdjustment {
		return fmt.Errorf("unknown entry kind: %s", d.Kind)
	}
	if d.Direction != DirectionCredit && d.Direction != DirectionDebit {
		return fmt.Errorf("adjustment entries require an explicit direction")
	}
	return nil
}

// NormalizeAmount fixes every monetary input to two decimal places using
// banker's rounding. All amounts pass through here exactly once, on entry to
// the coordinator, so the ledger fold itself stays exact decimal addition.
func NormalizeAmount(amount decimal.Decimal) decimal.Decimal {
	return amount.RoundBank(2)
}
