package app

import (
	"context"
	"fmt"
	"testing"

	"github.com/Saint-Daniels/Rewards/internal/rewards_service/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func appendEntry(t *testing.T, ledger *memoryLedger, userID string, kind domain.EntryKind, direction domain.Direction, amount, key string) *domain.LedgerEntry {
	t.Helper()
	entry, err := ledger.Append(context.Background(), nil, &domain.EntryDraft{
		UserID:         userID,
		Kind:           kind,
		Direction:      direction,
		Amount:         dec(amount),
		Reason:         string(kind),
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	return entry
}

func TestBalance_FoldsLedgerInOrder(t *testing.T) {
	ledger := newMemoryLedger()
	calc := NewCalculator(ledger, 0, testLogger())
	ctx := context.Background()

	appendEntry(t, ledger, "user-1", domain.EntryKindEarn, "", "10.00", "k1")
	appendEntry(t, ledger, "user-1", domain.EntryKindSpend, "", "3.50", "k2")
	appendEntry(t, ledger, "user-1", domain.EntryKindEarn, "", "1.25", "k3")

	balance, err := calc.Balance(ctx, nil, "user-1")
	require.NoError(t, err)
	assert.True(t, dec("7.75").Equal(balance), "got %s", balance)
}

func TestBalance_EmptyLedgerIsZero(t *testing.T) {
	calc := NewCalculator(newMemoryLedger(), 0, testLogger())

	balance, err := calc.Balance(context.Background(), nil, "nobody")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestBalance_SequenceGapIsIntegrityFault(t *testing.T) {
	ledger := newMemoryLedger()
	calc := NewCalculator(ledger, 0, testLogger())

	appendEntry(t, ledger, "user-1", domain.EntryKindEarn, "", "10.00", "k1")
	appendEntry(t, ledger, "user-1", domain.EntryKindEarn, "", "5.00", "k2")
	ledger.corrupt("user-1", 1, func(e *domain.LedgerEntry) { e.Seq = 5 })

	_, err := calc.Balance(context.Background(), nil, "user-1")
	assert.ErrorIs(t, err, domain.ErrIntegrityFault)
}

func TestBalance_NegativeFoldIsIntegrityFault(t *testing.T) {
	ledger := newMemoryLedger()
	calc := NewCalculator(ledger, 0, testLogger())

	appendEntry(t, ledger, "user-1", domain.EntryKindEarn, "", "5.00", "k1")
	appendEntry(t, ledger, "user-1", domain.EntryKindSpend, "", "3.00", "k2")
	ledger.corrupt("user-1", 1, func(e *domain.LedgerEntry) { e.Amount = dec("8.00") })

	_, err := calc.Balance(context.Background(), nil, "user-1")
	assert.ErrorIs(t, err, domain.ErrIntegrityFault)
}

func TestBalanceAsOf_PointInTime(t *testing.T) {
	ledger := newMemoryLedger()
	calc := NewCalculator(ledger, 0, testLogger())
	ctx := context.Background()

	appendEntry(t, ledger, "user-1", domain.EntryKindEarn, "", "10.00", "k1")
	appendEntry(t, ledger, "user-1", domain.EntryKindSpend, "", "3.50", "k2")
	appendEntry(t, ledger, "user-1", domain.EntryKindEarn, "", "2.00", "k3")

	balance, err := calc.BalanceAsOf(ctx, nil, "user-1", 1)
	require.NoError(t, err)
	assert.True(t, dec("10.00").Equal(balance))

	balance, err = calc.BalanceAsOf(ctx, nil, "user-1", 2)
	require.NoError(t, err)
	assert.True(t, dec("6.50").Equal(balance))

	balance, err = calc.BalanceAsOf(ctx, nil, "user-1", 0)
	require.NoError(t, err)
	assert.True(t, dec("8.50").Equal(balance))

	last, err := ledger.LastSequence(ctx, nil, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)
}

func TestBalance_CheckpointMatchesFullFold(t *testing.T) {
	ledger := newMemoryLedger()
	calc := NewCalculator(ledger, 3, testLogger())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		appendEntry(t, ledger, "user-1", domain.EntryKindEarn, "", "1.00", fmt.Sprintf("k%d", i))
	}

	// First call folds all ten entries and stores a checkpoint.
	balance, err := calc.Balance(ctx, nil, "user-1")
	require.NoError(t, err)
	require.True(t, dec("10.00").Equal(balance))

	// Subsequent calls fold incrementally from the checkpoint; the result
	// must be identical to a full fold.
	appendEntry(t, ledger, "user-1", domain.EntryKindSpend, "", "4.00", "k10")
	balance, err = calc.Balance(ctx, nil, "user-1")
	require.NoError(t, err)

	full, err := calc.BalanceAsOf(ctx, nil, "user-1", 0)
	require.NoError(t, err)
	assert.True(t, full.Equal(balance), "checkpointed %s, full fold %s", balance, full)

	require.NoError(t, calc.VerifyCheckpoint(ctx, nil, "user-1"))
}

func TestVerifyCheckpoint_MismatchEscalatesAndDrops(t *testing.T) {
	ledger := newMemoryLedger()
	calc := NewCalculator(ledger, 2, testLogger())
	ctx := context.Background()

	appendEntry(t, ledger, "user-1", domain.EntryKindEarn, "", "5.00", "k1")
	appendEntry(t, ledger, "user-1", domain.EntryKindEarn, "", "5.00", "k2")

	_, err := calc.Balance(ctx, nil, "user-1")
	require.NoError(t, err)

	// Rewriting history invalidates the cached fold. The ledger is the
	// source of truth; the checkpoint must be discarded, never the reverse.
	ledger.corrupt("user-1", 0, func(e *domain.LedgerEntry) { e.Amount = dec("1.00") })

	err = calc.VerifyCheckpoint(ctx, nil, "user-1")
	assert.ErrorIs(t, err, domain.ErrIntegrityFault)

	// The dropped checkpoint means the next balance is a clean full fold.
	balance, err := calc.Balance(ctx, nil, "user-1")
	require.NoError(t, err)
	assert.True(t, dec("6.00").Equal(balance))
}

func TestVerifyCheckpoint_NoCheckpointIsNoop(t *testing.T) {
	calc := NewCalculator(newMemoryLedger(), 0, testLogger())
	assert.NoError(t, calc.VerifyCheckpoint(context.Background(), nil, "user-1"))
}
