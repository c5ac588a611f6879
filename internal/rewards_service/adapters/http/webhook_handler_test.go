package http

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Saint-Daniels/Rewards/internal/rewards_service/repository"
	"github.com/stretchr/testify/assert"
)

type stubProcessor struct {
	fn func(ctx context.Context, rawPayload []byte, signature string) error
}

func (s *stubProcessor) HandleSettlementWebhook(ctx context.Context, rawPayload []byte, signature string) error {
	return s.fn(ctx, rawPayload, signature)
}

func postWebhook(t *testing.T, processor SettlementWebhookProcessor, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	handler := NewWebhookHandler(processor, testLogger())
	req := httptest.NewRequest(http.MethodPost, "/webhooks/settlement", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Settlement-Signature", signature)
	}
	rr := httptest.NewRecorder()
	handler.HandleSettlementWebhook(rr, req)
	return rr
}

func TestWebhookHandler_Success(t *testing.T) {
	var gotSignature string
	processor := &stubProcessor{fn: func(ctx context.Context, rawPayload []byte, signature string) error {
		gotSignature = signature
		return nil
	}}

	rr := postWebhook(t, processor, []byte(`{"gateway_ref":"gw1","status":"succeeded"}`), "sig-abc")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "sig-abc", gotSignature)
	assert.JSONEq(t, `{"status":"processed"}`, rr.Body.String())
}

func TestWebhookHandler_SignatureFailure(t *testing.T) {
	processor := &stubProcessor{fn: func(ctx context.Context, rawPayload []byte, signature string) error {
		return errors.New("webhook signature verification failed")
	}}

	rr := postWebhook(t, processor, []byte(`{}`), "bad")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestWebhookHandler_UnknownIntent(t *testing.T) {
	processor := &stubProcessor{fn: func(ctx context.Context, rawPayload []byte, signature string) error {
		return repository.ErrRedemptionNotFound
	}}

	rr := postWebhook(t, processor, []byte(`{"gateway_ref":"gw-unknown"}`), "sig")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestWebhookHandler_ProcessingError(t *testing.T) {
	processor := &stubProcessor{fn: func(ctx context.Context, rawPayload []byte, signature string) error {
		return errors.New("storage unavailable")
	}}

	rr := postWebhook(t, processor, []byte(`{}`), "sig")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
