package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// AuditOutcome is the coordinator's decision for one request.
type AuditOutcome string

const (
	AuditOutcomeApplied  AuditOutcome = "applied"
	AuditOutcomeRejected AuditOutcome = "rejected"
)

// AuditRecord is one append-only, redacted record of a coordinator decision.
// It carries only a hashed user identity and category-level detail; raw user
// identifiers and item names never appear here.
type AuditRecord struct {
	ID               string       `json:"audit_id"`
	HashedUserID     string       `json:"hashed_user_id"`
	Action           string       `json:"action"` // earn, spend, redeem, settlement_webhook
	Outcome          AuditOutcome `json:"outcome"`
	RejectReason     *string      `json:"reject_reason,omitempty"`
	ReferenceEntryID *string      `json:"reference_entry_id,omitempty"`
	// Categories summarizes the policy decision for spend requests:
	// category code and whether it was allowed. Nothing item-identifying.
	Categories []CategoryDecision `json:"categories,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

// CategoryDecision is the persisted summary of one item's policy decision.
type CategoryDecision struct {
	Category    string `json:"category"`
	Allowed     bool   `json:"allowed"`
	MatchedRule string `json:"matched_rule"`
}

// HashUserID redacts a user identifier for audit storage (SHA-256 hex).
func HashUserID(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:])
}
