package paymentgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// MockAdapter simulates the payment provider for tests and local runs.
// Toggles select the failure mode; the default zero value settles
// synchronously and successfully.
type MockAdapter struct {
	logger *slog.Logger

	// Secret, when set, is the shared webhook signing secret; events whose
	// signature does not match are rejected.
	Secret string

	SimulateSettleError       bool // transport-level failure
	SimulateSettleDecline     bool // gateway declines the settlement
	SimulateAsyncSettlement   bool // return pending; confirmation arrives by webhook
	SimulateBadWebhookPayload bool
}

// NewMockAdapter creates a mock gateway.
func NewMockAdapter(logger *slog.Logger) *MockAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockAdapter{logger: logger.With("adapter", "mock_payment_gateway")}
}

func (m *MockAdapter) Settle(ctx context.Context, req SettlementRequest) (*SettlementResult, error) {
	m.logger.InfoContext(ctx, "mock gateway: Settle called",
		"intent_id", req.IntentID, "amount", req.Amount.String(), "partner_ref", req.PartnerRef)

	if m.SimulateSettleError {
		return nil, fmt.Errorf("mock gateway: simulated transport failure")
	}

	gatewayRef := "mock_settle_" + uuid.NewString()

	if m.SimulateSettleDecline {
		reason := "mock_settlement_declined"
		return &SettlementResult{
			GatewayRef:    gatewayRef,
			Status:        SettlementStatusFailed,
			FailureReason: &reason,
		}, nil
	}

	if m.SimulateAsyncSettlement {
		return &SettlementResult{GatewayRef: gatewayRef, Status: SettlementStatusPending}, nil
	}

	return &SettlementResult{GatewayRef: gatewayRef, Status: SettlementStatusSucceeded}, nil
}

// mockWebhookPayload is the JSON body the mock gateway posts back.
type mockWebhookPayload struct {
	GatewayRef string `json:"gateway_ref"`
	Status     string `json:"status"`
}

func (m *MockAdapter) HandleWebhookEvent(ctx context.Context, rawPayload []byte, signature string) (*WebhookEvent, error) {
	m.logger.InfoContext(ctx, "mock gateway: HandleWebhookEvent called",
		"payload_len", len(rawPayload), "signature_present", signature != "")

	if signature == "invalid_signature" || (m.Secret != "" && signature != m.Secret) {
		return nil, fmt.Errorf("webhook signature verification failed")
	}
	if m.SimulateBadWebhookPayload {
		return nil, fmt.Errorf("webhook payload parse failure (simulated)")
	}

	var payload mockWebhookPayload
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}
	if payload.GatewayRef == "" {
		return nil, fmt.Errorf("webhook payload missing gateway_ref")
	}

	status := SettlementStatusFailed
	if payload.Status == string(SettlementStatusSucceeded) {
		status = SettlementStatusSucceeded
	}

	return &WebhookEvent{
		GatewayRef: payload.GatewayRef,
		Status:     status,
		OccurredAt: time.Now().UTC(),
	}, nil
}
