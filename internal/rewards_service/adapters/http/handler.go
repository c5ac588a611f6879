package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Saint-Daniels/Rewards/internal/rewards_service/app"
	"github.com/Saint-Daniels/Rewards/internal/rewards_service/domain"
	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
)

// RewardsService is the coordinator surface the HTTP adapter needs. Keeping
// it an interface makes handler tests independent of storage.
type RewardsService interface {
	Earn(ctx context.Context, userID string, amount decimal.Decimal, reason, idempotencyKey string) (*domain.LedgerEntry, error)
	Spend(ctx context.Context, userID string, items []domain.Item, amount decimal.Decimal, merchantID *string, idempotencyKey string) (*domain.LedgerEntry, error)
	Redeem(ctx context.Context, userID string, amount decimal.Decimal, partnerRef, idempotencyKey string) (*app.RedeemResult, error)
	GetBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	GetTransactions(ctx context.Context, userID string, limit, offset int) ([]domain.LedgerEntry, int, error)
}

// Handler exposes the rewards operations over HTTP.
type Handler struct {
	service RewardsService
	logger  *slog.Logger
}

// NewHandler creates the HTTP handler.
func NewHandler(service RewardsService, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger.With("component", "http_handler"),
	}
}

// RegisterRoutes mounts the authenticated rewards routes on the router.
// The health and webhook endpoints are registered separately since they
// carry no caller identity.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/balance", h.GetBalance)
	r.Get("/transactions", h.GetTransactions)
	r.Post("/earn", h.Earn)
	r.Post("/spend", h.Spend)
	r.Post("/redeem", h.Redeem)
}

type earnRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Reason         string          `json:"reason,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type itemRequest struct {
	ProductName string          `json:"product_name,omitempty"`
	Category    string          `json:"category,omitempty"`
	UPC         string          `json:"upc,omitempty"`
	SKU         string          `json:"sku,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
}

type spendRequest struct {
	Items          []itemRequest   `json:"items"`
	Amount         decimal.Decimal `json:"amount"`
	MerchantID     *string         `json:"merchant_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type redeemRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	PartnerRef     string          `json:"partner_ref"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type balanceResponse struct {
	UserID   string          `json:"user_id"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}

type transactionsResponse struct {
	Transactions []domain.LedgerEntry `json:"transactions"`
	Total        int                  `json:"total"`
	Limit        int                  `json:"limit"`
	Offset       int                  `json:"offset"`
}

type redeemResponse struct {
	Status string                   `json:"status"` // settled or pending
	Intent *domain.RedemptionIntent `json:"intent"`
	Entry  *domain.LedgerEntry      `json:"entry,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// GetBalance handles GET /balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, balanceResponse{UserID: user.ID, Balance: balance, Currency: "USD"})
}

// GetTransactions handles GET /transactions?limit=&offset=.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	entries, total, err := h.service.GetTransactions(r.Context(), user.ID, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	h.writeJSON(w, http.StatusOK, transactionsResponse{
		Transactions: entries, Total: total, Limit: limit, Offset: offset,
	})
}

// Earn handles POST /earn.
func (h *Handler) Earn(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req earnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "invalid JSON body"})
		return
	}

	entry, err := h.service.Earn(r.Context(), user.ID, req.Amount, req.Reason, req.IdempotencyKey)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, entry)
}

// Spend handles POST /spend.
func (h *Handler) Spend(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req spendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "invalid JSON body"})
		return
	}

	items := make([]domain.Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, domain.Item{
			ProductName: it.ProductName,
			Category:    it.Category,
			UPC:         it.UPC,
			SKU:         it.SKU,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
		})
	}

	entry, err := h.service.Spend(r.Context(), user.ID, items, req.Amount, req.MerchantID, req.IdempotencyKey)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, entry)
}

// Redeem handles POST /redeem.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "invalid JSON body"})
		return
	}

	result, err := h.service.Redeem(r.Context(), user.ID, req.Amount, req.PartnerRef, req.IdempotencyKey)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := "pending"
	code := http.StatusAccepted
	if result.Entry != nil {
		status = "settled"
		code = http.StatusCreated
	}
	h.writeJSON(w, code, redeemResponse{Status: status, Intent: result.Intent, Entry: result.Entry})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError maps the failure taxonomy onto HTTP statuses with
// non-revealing reason codes.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := chi_middleware.GetReqID(r.Context())

	var status int
	var code string
	switch {
	case errors.Is(err, domain.ErrInvalidAmount):
		status, code = http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, domain.ErrAmountMismatch):
		status, code = http.StatusBadRequest, "amount_mismatch"
	case errors.Is(err, domain.ErrPolicyViolation):
		status, code = http.StatusForbidden, "denied_items"
	case errors.Is(err, domain.ErrInsufficientBalance):
		status, code = http.StatusPaymentRequired, "insufficient_balance"
	case errors.Is(err, domain.ErrSettlementFailed):
		status, code = http.StatusBadGateway, "settlement_failed"
	case errors.Is(err, domain.ErrIntegrityFault):
		status, code = http.StatusInternalServerError, "integrity_fault"
	default:
		h.logger.ErrorContext(r.Context(), "request failed",
			"error", err, "request_id", requestID)
		status, code = http.StatusServiceUnavailable, "temporarily_unavailable"
	}
	h.writeJSON(w, status, errorResponse{Error: code, Message: err.Error()})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
