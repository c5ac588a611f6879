package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Saint-Daniels/Rewards/internal/rewards_service/repository"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
)

const MaxRequestBodySize = 1 << 20 // 1 MB

// SettlementWebhookProcessor is the coordinator surface the webhook handler
// needs; an interface so tests can mock the processing.
type SettlementWebhookProcessor interface {
	HandleSettlementWebhook(ctx context.Context, rawPayload []byte, signature string) error
}

// WebhookHandler receives settlement confirmations from the payment
// provider.
type WebhookHandler struct {
	processor SettlementWebhookProcessor
	logger    *slog.Logger
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(processor SettlementWebhookProcessor, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		processor: processor,
		logger:    logger.With("component", "webhook_handler"),
	}
}

// HandleSettlementWebhook handles POST /webhooks/settlement.
func (h *WebhookHandler) HandleSettlementWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := chi_middleware.GetReqID(ctx)
	logger := h.logger.With("request_id", requestID)

	signature := r.Header.Get("X-Settlement-Signature")

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	rawPayload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to read webhook request body", "error", err)
		if err.Error() == "http: request body too large" {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		} else {
			http.Error(w, "Error reading request body", http.StatusBadRequest)
		}
		return
	}

	logger.InfoContext(ctx, "Received settlement webhook",
		"remote_addr", r.RemoteAddr,
		"payload_size", len(rawPayload),
		"signature_present", signature != "")

	if err := h.processor.HandleSettlementWebhook(ctx, rawPayload, signature); err != nil {
		logger.ErrorContext(ctx, "Error processing settlement webhook", "error", err)

		switch {
		case strings.Contains(err.Error(), "signature verification failed"):
			http.Error(w, "Webhook signature verification failed", http.StatusBadRequest)
		case errors.Is(err, repository.ErrRedemptionNotFound):
			http.Error(w, "Redemption intent not found", http.StatusNotFound)
		default:
			http.Error(w, "Internal server error processing webhook", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"processed"}`))
}
