package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Saint-Daniels/Rewards/internal/rewards_service/adapters/paymentgateway"
	"github.com/Saint-Daniels/Rewards/internal/rewards_service/domain"
	"github.com/Saint-Daniels/Rewards/internal/rewards_service/policy"
	"github.com/Saint-Daniels/Rewards/internal/rewards_service/repository"
	"github.com/shopspring/decimal"
)

const defaultCurrency = "USD"

// Ledger entry reasons written by the coordinator.
const (
	ReasonEarn              = "earn"
	ReasonSpend             = "spend"
	ReasonRedeem            = "redeem"
	ReasonRedeemHold        = "redeem_hold"
	ReasonRedeemHoldRelease = "redeem_hold_release"
	ReasonRedeemRelease     = "redeem_release"
)

// Audit action names.
const (
	actionEarn    = "earn"
	actionSpend   = "spend"
	actionRedeem  = "redeem"
	actionWebhook = "settlement_webhook"
)

// RedeemResult reports a redemption's state to the caller. Entry is the
// confirmed REDEEM ledger entry; it stays nil while the settlement is still
// pending at the payment provider.
type RedeemResult struct {
	Intent *domain.RedemptionIntent
	Entry  *domain.LedgerEntry
}

// Coordinator orchestrates earn, spend and redeem requests. It is the only
// component holding a LedgerAppender: every balance check, policy gate and
// conditional append runs inside the per-user critical section provided by
// the TxRunner, and every decision, applied or rejected, emits a redacted
// audit record.
type Coordinator struct {
	runner      TxRunner
	db          repository.Querier // pool, for reads outside the critical section
	ledger      repository.LedgerAppender
	redemptions repository.RedemptionRepository
	calculator  *Calculator
	policy      *policy.Engine
	gateway     paymentgateway.Adapter
	audit       AuditSink
	logger      *slog.Logger

	haltedMu sync.RWMutex
	halted   map[string]struct{}
}

// NewCoordinator wires the transaction coordinator.
func NewCoordinator(
	runner TxRunner,
	db repository.Querier,
	ledger repository.LedgerAppender,
	redemptions repository.RedemptionRepository,
	calculator *Calculator,
	policyEngine *policy.Engine,
	gateway paymentgateway.Adapter,
	audit AuditSink,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		runner:      runner,
		db:          db,
		ledger:      ledger,
		redemptions: redemptions,
		calculator:  calculator,
		policy:      policyEngine,
		gateway:     gateway,
		audit:       audit,
		logger:      logger.With("component", "coordinator"),
		halted:      make(map[string]struct{}),
	}
}

// replayedEntry returns the previously applied entry for the key, if any.
// The lookup runs before validation and policy evaluation so a replay always
// returns its original outcome, even when the retried payload differs or the
// category table has changed since. Callers re-confirm under the user lock
// before appending.
func (s *Coordinator) replayedEntry(ctx context.Context, userID, idempotencyKey string) (*domain.LedgerEntry, error) {
	if idempotencyKey == "" {
		return nil, nil
	}
	entry, err := s.ledger.FindByIdempotencyKey(ctx, s.db, userID, idempotencyKey)
	if err == nil {
		return entry, nil
	}
	if errors.Is(err, domain.ErrEntryNotFound) {
		return nil, nil
	}
	return nil, err
}

// Earn credits the user's balance. Replaying the idempotency key returns the
// original entry without re-evaluating anything.
func (s *Coordinator) Earn(ctx context.Context, userID string, amount decimal.Decimal, reason, idempotencyKey string) (*domain.LedgerEntry, error) {
	if err := s.checkHalted(userID); err != nil {
		return nil, err
	}
	if existing, err := s.replayedEntry(ctx, userID, idempotencyKey); err != nil {
		return nil, s.operationFailed(ctx, userID, actionEarn, err)
	} else if existing != nil {
		return existing, nil
	}
	if reason == "" {
		reason = ReasonEarn
	}
	draft := &domain.EntryDraft{
		UserID:         userID,
		Kind:           domain.EntryKindEarn,
		Amount:         domain.NormalizeAmount(amount),
		Reason:         reason,
		IdempotencyKey: idempotencyKey,
	}
	if err := draft.Validate(); err != nil {
		s.rejected(ctx, userID, actionEarn, err, nil, nil)
		return nil, err
	}

	var entry *domain.LedgerEntry
	var replayed bool
	err := s.runner.WithUserLock(ctx, userID, func(q repository.Querier) error {
		existing, err := s.ledger.FindByIdempotencyKey(ctx, q, userID, idempotencyKey)
		if err == nil {
			entry, replayed = existing, true
			return nil
		}
		if !errors.Is(err, domain.ErrEntryNotFound) {
			return err
		}
		entry, err = s.ledger.Append(ctx, q, draft)
		return err
	})
	if err != nil {
		return nil, s.operationFailed(ctx, userID, actionEarn, err)
	}
	if !replayed {
		s.applied(ctx, userID, actionEarn, entry.ID, nil)
	}
	return entry, nil
}

// Spend debits the user's balance for a basket of items. The whole basket
// must be policy-eligible and the derived balance must cover the amount;
// otherwise nothing is appended. Classification is pure and runs before the
// critical section; the accept/reject decision and the append are atomic
// with respect to other writers for the same user.
func (s *Coordinator) Spend(ctx context.Context, userID string, items []domain.Item, amount decimal.Decimal, merchantID *string, idempotencyKey string) (*domain.LedgerEntry, error) {
	if err := s.checkHalted(userID); err != nil {
		return nil, err
	}
	if existing, err := s.replayedEntry(ctx, userID, idempotencyKey); err != nil {
		return nil, s.operationFailed(ctx, userID, actionSpend, err)
	} else if existing != nil {
		return existing, nil
	}

	draft := &domain.EntryDraft{
		UserID:         userID,
		Kind:           domain.EntryKindSpend,
		Amount:         domain.NormalizeAmount(amount),
		Reason:         ReasonSpend,
		Items:          items,
		MerchantID:     merchantID,
		IdempotencyKey: idempotencyKey,
	}
	if err := draft.Validate(); err != nil {
		s.rejected(ctx, userID, actionSpend, err, nil, nil)
		return nil, err
	}
	if len(items) == 0 {
		err := fmt.Errorf("%w: spend requires a non-empty item list", domain.ErrInvalidAmount)
		s.rejected(ctx, userID, actionSpend, err, nil, nil)
		return nil, err
	}
	if basketTotal := domain.BasketTotal(items); !basketTotal.Equal(draft.Amount) {
		err := fmt.Errorf("%w: amount %s, basket total %s", domain.ErrAmountMismatch, draft.Amount, basketTotal)
		s.rejected(ctx, userID, actionSpend, err, nil, nil)
		return nil, err
	}

	allowed, decisions := s.policy.ClassifyBasket(items)
	categories := categoryDecisions(decisions)
	if !allowed {
		err := fmt.Errorf("%w: %d of %d items denied", domain.ErrPolicyViolation, deniedCount(decisions), len(decisions))
		s.rejected(ctx, userID, actionSpend, err, categories, nil)
		return nil, err
	}

	var entry *domain.LedgerEntry
	var replayed bool
	err := s.runner.WithUserLock(ctx, userID, func(q repository.Querier) error {
		existing, err := s.ledger.FindByIdempotencyKey(ctx, q, userID, idempotencyKey)
		if err == nil {
			entry, replayed = existing, true
			return nil
		}
		if !errors.Is(err, domain.ErrEntryNotFound) {
			return err
		}

		balance, err := s.calculator.Balance(ctx, q, userID)
		if err != nil {
			return err
		}
		if balance.LessThan(draft.Amount) {
			return fmt.Errorf("%w: balance %s, requested %s", domain.ErrInsufficientBalance, balance, draft.Amount)
		}

		entry, err = s.ledger.Append(ctx, q, draft)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			s.rejected(ctx, userID, actionSpend, err, categories, nil)
			return nil, err
		}
		return nil, s.operationFailed(ctx, userID, actionSpend, err)
	}
	if !replayed {
		s.applied(ctx, userID, actionSpend, entry.ID, categories)
	}
	return entry, nil
}

// Redeem converts balance into an off-platform settlement using a two-phase
// pattern: a debit ADJUSTMENT holds the funds, the payment provider settles
// outside the critical section, and the confirmed REDEEM entry (plus hold
// release) or a compensating release lands afterwards. Redemption is
// balance-gated only; eligibility was enforced when the balance was spent.
func (s *Coordinator) Redeem(ctx context.Context, userID string, amount decimal.Decimal, partnerRef, idempotencyKey string) (*RedeemResult, error) {
	if err := s.checkHalted(userID); err != nil {
		return nil, err
	}

	holdDraft := &domain.EntryDraft{
		UserID:         userID,
		Kind:           domain.EntryKindAdjustment,
		Direction:      domain.DirectionDebit,
		Amount:         domain.NormalizeAmount(amount),
		Reason:         ReasonRedeemHold,
		PartnerRef:     &partnerRef,
		IdempotencyKey: idempotencyKey,
	}
	if err := holdDraft.Validate(); err != nil {
		s.rejected(ctx, userID, actionRedeem, err, nil, nil)
		return nil, err
	}

	// Phase 1: replay detection and funds hold, atomic per user.
	var (
		result       RedeemResult
		needSettle   bool
		settledReply bool
	)
	err := s.runner.WithUserLock(ctx, userID, func(q repository.Querier) error {
		// A confirmed REDEEM entry means a completed replay.
		if settle, err := s.ledger.FindByIdempotencyKey(ctx, q, userID, settleKey(idempotencyKey)); err == nil {
			intent, err := s.redemptions.GetByIdempotencyKey(ctx, q, userID, idempotencyKey)
			if err != nil {
				return err
			}
			result = RedeemResult{Intent: intent, Entry: settle}
			settledReply = true
			return nil
		} else if !errors.Is(err, domain.ErrEntryNotFound) {
			return err
		}

		intent, err := s.redemptions.GetByIdempotencyKey(ctx, q, userID, idempotencyKey)
		if err == nil {
			switch intent.Status {
			case domain.RedemptionStatusReleased:
				// Original outcome was a settlement failure; replay it.
				return domain.ErrSettlementFailed
			default:
				// Still pending: resume the settlement phase.
				result.Intent = intent
				needSettle = true
				return nil
			}
		}
		if !errors.Is(err, repository.ErrRedemptionNotFound) {
			return err
		}

		balance, err := s.calculator.Balance(ctx, q, userID)
		if err != nil {
			return err
		}
		if balance.LessThan(holdDraft.Amount) {
			return fmt.Errorf("%w: balance %s, requested %s", domain.ErrInsufficientBalance, balance, holdDraft.Amount)
		}

		hold, err := s.ledger.Append(ctx, q, holdDraft)
		if err != nil {
			return err
		}
		intent = &domain.RedemptionIntent{
			UserID:         userID,
			Amount:         holdDraft.Amount,
			PartnerRef:     partnerRef,
			IdempotencyKey: idempotencyKey,
			Status:         domain.RedemptionStatusPending,
			HoldEntryID:    hold.ID,
		}
		if err := s.redemptions.Create(ctx, q, intent); err != nil {
			return err
		}
		result.Intent = intent
		needSettle = true
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			s.rejected(ctx, userID, actionRedeem, err, nil, nil)
			return nil, err
		}
		if errors.Is(err, domain.ErrSettlementFailed) {
			// Replay of a released redemption; already audited the first time.
			return nil, err
		}
		return nil, s.operationFailed(ctx, userID, actionRedeem, err)
	}
	if settledReply || !needSettle {
		return &result, nil
	}

	// Phase 2: settle with the payment provider, outside the user lock.
	settleRes, err := s.gateway.Settle(ctx, paymentgateway.SettlementRequest{
		IntentID:   result.Intent.ID,
		UserID:     userID,
		Amount:     result.Intent.Amount,
		Currency:   defaultCurrency,
		PartnerRef: partnerRef,
	})
	if err != nil {
		// The hold stays in place and the intent stays pending; the caller
		// may retry with the same key, or a webhook may complete it.
		s.logger.ErrorContext(ctx, "settlement call failed; intent left pending",
			"error", err, "intent_id", result.Intent.ID)
		return nil, fmt.Errorf("settlement unavailable: %w", err)
	}

	switch settleRes.Status {
	case paymentgateway.SettlementStatusPending:
		// Confirmation arrives via webhook. Record the gateway reference so
		// the webhook can find the intent.
		if err := s.runner.WithUserLock(ctx, userID, func(q repository.Querier) error {
			_, err := s.redemptions.UpdateStatus(ctx, q, result.Intent.ID,
				domain.RedemptionStatusPending, domain.RedemptionStatusPending, &settleRes.GatewayRef)
			return err
		}); err != nil {
			return nil, s.operationFailed(ctx, userID, actionRedeem, err)
		}
		result.Intent.GatewayRef = &settleRes.GatewayRef
		return &result, nil

	case paymentgateway.SettlementStatusSucceeded:
		entry, err := s.completeRedemption(ctx, result.Intent, true, &settleRes.GatewayRef)
		if err != nil {
			return nil, s.operationFailed(ctx, userID, actionRedeem, err)
		}
		result.Entry = entry
		s.applied(ctx, userID, actionRedeem, entry.ID, nil)
		return &result, nil

	default:
		if _, err := s.completeRedemption(ctx, result.Intent, false, &settleRes.GatewayRef); err != nil {
			return nil, s.operationFailed(ctx, userID, actionRedeem, err)
		}
		rejectErr := domain.ErrSettlementFailed
		if settleRes.FailureReason != nil {
			rejectErr = fmt.Errorf("%w: %s", domain.ErrSettlementFailed, *settleRes.FailureReason)
		}
		s.rejected(ctx, userID, actionRedeem, rejectErr, nil, &result.Intent.HoldEntryID)
		return nil, rejectErr
	}
}

// completeRedemption finishes a pending redemption under the user lock. On
// success it appends the confirmed REDEEM debit plus a credit ADJUSTMENT
// releasing the hold (net effect: one debit); on failure it appends only the
// compensating release. The guarded status transition makes duplicate
// completions, such as a synchronous result racing a webhook, no-ops.
func (s *Coordinator) completeRedemption(ctx context.Context, intent *domain.RedemptionIntent, succeeded bool, gatewayRef *string) (*domain.LedgerEntry, error) {
	target := domain.RedemptionStatusReleased
	if succeeded {
		target = domain.RedemptionStatusSettled
	}

	var entry *domain.LedgerEntry
	var transitioned bool
	err := s.runner.WithUserLock(ctx, intent.UserID, func(q repository.Querier) error {
		var err error
		transitioned, err = s.redemptions.UpdateStatus(ctx, q, intent.ID,
			domain.RedemptionStatusPending, target, gatewayRef)
		if err != nil {
			return err
		}
		if !transitioned {
			// Someone else completed it first; surface their outcome.
			if succeeded {
				existing, err := s.ledger.FindByIdempotencyKey(ctx, q, intent.UserID, settleKey(intent.IdempotencyKey))
				if err != nil {
					return err
				}
				entry = existing
			}
			return nil
		}

		if succeeded {
			entry, err = s.ledger.Append(ctx, q, &domain.EntryDraft{
				UserID:         intent.UserID,
				Kind:           domain.EntryKindRedeem,
				Amount:         intent.Amount,
				Reason:         ReasonRedeem,
				PartnerRef:     &intent.PartnerRef,
				IdempotencyKey: settleKey(intent.IdempotencyKey),
			})
			if err != nil {
				return err
			}
			_, err = s.ledger.Append(ctx, q, &domain.EntryDraft{
				UserID:         intent.UserID,
				Kind:           domain.EntryKindAdjustment,
				Direction:      domain.DirectionCredit,
				Amount:         intent.Amount,
				Reason:         ReasonRedeemHoldRelease,
				PartnerRef:     &intent.PartnerRef,
				IdempotencyKey: releaseKey(intent.IdempotencyKey),
			})
			return err
		}

		_, err = s.ledger.Append(ctx, q, &domain.EntryDraft{
			UserID:         intent.UserID,
			Kind:           domain.EntryKindAdjustment,
			Direction:      domain.DirectionCredit,
			Amount:         intent.Amount,
			Reason:         ReasonRedeemRelease,
			PartnerRef:     &intent.PartnerRef,
			IdempotencyKey: releaseKey(intent.IdempotencyKey),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	// Reflect the committed transition on the caller's copy so the returned
	// intent never reads pending after its row has left pending.
	if transitioned {
		intent.Status = target
		if gatewayRef != nil {
			intent.GatewayRef = gatewayRef
		}
	}
	return entry, nil
}

// HandleSettlementWebhook completes a pending redemption from an
// asynchronous gateway confirmation. Duplicate events are harmless: the
// guarded status transition refuses to complete twice.
func (s *Coordinator) HandleSettlementWebhook(ctx context.Context, rawPayload []byte, signature string) error {
	event, err := s.gateway.HandleWebhookEvent(ctx, rawPayload, signature)
	if err != nil {
		return err
	}

	intent, err := s.redemptions.GetByGatewayRef(ctx, s.db, event.GatewayRef)
	if err != nil {
		return err
	}
	if intent.Status != domain.RedemptionStatusPending {
		s.logger.InfoContext(ctx, "settlement webhook for completed intent ignored",
			"intent_id", intent.ID, "status", intent.Status)
		return nil
	}

	succeeded := event.Status == paymentgateway.SettlementStatusSucceeded
	entry, err := s.completeRedemption(ctx, intent, succeeded, &event.GatewayRef)
	if err != nil {
		return s.operationFailed(ctx, intent.UserID, actionWebhook, err)
	}
	if succeeded {
		refID := intent.HoldEntryID
		if entry != nil {
			refID = entry.ID
		}
		s.applied(ctx, intent.UserID, actionWebhook, refID, nil)
	} else {
		s.rejected(ctx, intent.UserID, actionWebhook, domain.ErrSettlementFailed, nil, &intent.HoldEntryID)
	}
	return nil
}

// GetBalance derives the user's current balance from the ledger.
func (s *Coordinator) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	if err := s.checkHalted(userID); err != nil {
		return decimal.Zero, err
	}
	balance, err := s.calculator.Balance(ctx, s.db, userID)
	if err != nil {
		if errors.Is(err, domain.ErrIntegrityFault) {
			s.markHalted(ctx, userID, err)
		}
		return decimal.Zero, err
	}
	return balance, nil
}

// GetTransactions returns a page of the user's ledger, newest first, plus
// the total entry count.
func (s *Coordinator) GetTransactions(ctx context.Context, userID string, limit, offset int) ([]domain.LedgerEntry, int, error) {
	if err := s.checkHalted(userID); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return s.ledger.List(ctx, s.db, userID, limit, offset)
}

// VerifyIntegrity cross-checks the cached balance checkpoint against a full
// fold. A mismatch halts processing for the user.
func (s *Coordinator) VerifyIntegrity(ctx context.Context, userID string) error {
	err := s.calculator.VerifyCheckpoint(ctx, s.db, userID)
	if err != nil && errors.Is(err, domain.ErrIntegrityFault) {
		s.markHalted(ctx, userID, err)
	}
	return err
}

func (s *Coordinator) checkHalted(userID string) error {
	s.haltedMu.RLock()
	defer s.haltedMu.RUnlock()
	if _, ok := s.halted[userID]; ok {
		return fmt.Errorf("%w: processing halted for user pending operator review", domain.ErrIntegrityFault)
	}
	return nil
}

func (s *Coordinator) markHalted(ctx context.Context, userID string, cause error) {
	s.haltedMu.Lock()
	s.halted[userID] = struct{}{}
	s.haltedMu.Unlock()
	integrityFaultsTotal.Inc()
	s.logger.ErrorContext(ctx, "ledger integrity fault; user halted",
		"hashed_user_id", domain.HashUserID(userID), "error", cause)
}

// operationFailed routes a critical-section error: integrity faults halt the
// user, everything else surfaces as a retryable storage failure.
func (s *Coordinator) operationFailed(ctx context.Context, userID, action string, err error) error {
	if errors.Is(err, domain.ErrIntegrityFault) {
		s.markHalted(ctx, userID, err)
		return err
	}
	s.logger.ErrorContext(ctx, "ledger operation failed",
		"action", action, "hashed_user_id", domain.HashUserID(userID), "error", err)
	return err
}

func (s *Coordinator) applied(ctx context.Context, userID, action, entryID string, categories []domain.CategoryDecision) {
	coordinatorDecisionsTotal.WithLabelValues(action, string(domain.AuditOutcomeApplied)).Inc()
	s.audit.Record(&domain.AuditRecord{
		HashedUserID:     domain.HashUserID(userID),
		Action:           action,
		Outcome:          domain.AuditOutcomeApplied,
		ReferenceEntryID: &entryID,
		Categories:       categories,
	})
}

func (s *Coordinator) rejected(ctx context.Context, userID, action string, cause error, categories []domain.CategoryDecision, refEntryID *string) {
	reason := rejectReasonCode(cause)
	coordinatorDecisionsTotal.WithLabelValues(action, string(domain.AuditOutcomeRejected)).Inc()
	coordinatorRejectionsTotal.WithLabelValues(action, reason).Inc()
	s.audit.Record(&domain.AuditRecord{
		HashedUserID:     domain.HashUserID(userID),
		Action:           action,
		Outcome:          domain.AuditOutcomeRejected,
		RejectReason:     &reason,
		ReferenceEntryID: refEntryID,
		Categories:       categories,
	})
}

// rejectReasonCode maps failures to non-revealing reason codes for audit
// records and caller responses.
func rejectReasonCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, domain.ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, domain.ErrPolicyViolation):
		return "denied_items"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, domain.ErrSettlementFailed):
		return "settlement_failed"
	case errors.Is(err, domain.ErrIntegrityFault):
		return "integrity_fault"
	default:
		return "internal_error"
	}
}

func categoryDecisions(decisions []policy.Decision) []domain.CategoryDecision {
	out := make([]domain.CategoryDecision, 0, len(decisions))
	for _, d := range decisions {
		out = append(out, d.CategoryDecision())
	}
	return out
}

func deniedCount(decisions []policy.Decision) int {
	n := 0
	for _, d := range decisions {
		if !d.Allowed {
			n++
		}
	}
	return n
}

func settleKey(key string) string  { return key + ":settle" }
func releaseKey(key string) string { return key + ":release" }
