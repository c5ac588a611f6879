package paymentgateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SettlementStatus is the gateway-reported state of a settlement attempt.
type SettlementStatus string

const (
	SettlementStatusPending   SettlementStatus = "pending"
	SettlementStatusSucceeded SettlementStatus = "succeeded"
	SettlementStatusFailed    SettlementStatus = "failed"
)

// SettlementRequest asks the payment provider to move redeemed value
// off-platform.
type SettlementRequest struct {
	IntentID   string
	UserID     string
	Amount     decimal.Decimal
	Currency   string
	PartnerRef string
}

// SettlementResult is the gateway's synchronous answer. A pending status
// means the gateway will confirm later via webhook.
type SettlementResult struct {
	GatewayRef    string
	Status        SettlementStatus
	FailureReason *string
}

// WebhookEvent is a verified, parsed settlement webhook.
type WebhookEvent struct {
	GatewayRef string
	Status     SettlementStatus
	OccurredAt time.Time
}

// Adapter is the payment-settlement collaborator boundary. The coordinator
// only needs success/failure to decide between the confirmed REDEEM entry
// and the compensating release adjustment.
type Adapter interface {
	Settle(ctx context.Context, req SettlementRequest) (*SettlementResult, error)
	// HandleWebhookEvent verifies the signature and parses the payload.
	// An invalid signature is an error; the event is never trusted unverified.
	HandleWebhookEvent(ctx context.Context, rawPayload []byte, signature string) (*WebhookEvent, error)
}
