package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Saint-Daniels/Rewards/internal/rewards_service/domain"
	"github.com/Saint-Daniels/Rewards/internal/rewards_service/repository"
	"github.com/shopspring/decimal"
)

// checkpoint is a cached partial fold: the balance after applying entries up
// to and including seq. It is a pure optimization, always re-derivable from
// the ledger and never authoritative.
type checkpoint struct {
	seq     int64
	balance decimal.Decimal
}

// Calculator derives balances by folding ledger entries in ascending
// sequence order. It never mutates ledger state. Amounts are exact decimals;
// rounding happened once at input normalization, so the fold adds exactly.
type Calculator struct {
	ledger repository.LedgerReader
	logger *slog.Logger

	// checkpointEvery controls how many entries may accumulate past a
	// checkpoint before it is advanced. Zero disables checkpointing.
	checkpointEvery int

	mu          sync.RWMutex
	checkpoints map[string]checkpoint
}

// NewCalculator creates a balance calculator over a ledger reader.
func NewCalculator(ledger repository.LedgerReader, checkpointEvery int, logger *slog.Logger) *Calculator {
	return &Calculator{
		ledger:          ledger,
		logger:          logger.With("component", "balance_calculator"),
		checkpointEvery: checkpointEvery,
		checkpoints:     make(map[string]checkpoint),
	}
}

// Balance computes the user's current balance, folding incrementally from
// the cached checkpoint when one exists. Sequence gaps and negative folds
// surface as ErrIntegrityFault.
func (c *Calculator) Balance(ctx context.Context, q repository.Querier, userID string) (decimal.Decimal, error) {
	cp := c.checkpointFor(userID)

	entries, err := c.ledger.ReadSequence(ctx, q, userID, cp.seq+1, 0)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read ledger for balance: %w", err)
	}

	balance, lastSeq, err := fold(cp.balance, cp.seq, entries)
	if err != nil {
		return decimal.Zero, fmt.Errorf("user %s: %w", userID, err)
	}

	if c.checkpointEvery > 0 && len(entries) >= c.checkpointEvery {
		c.storeCheckpoint(userID, checkpoint{seq: lastSeq, balance: balance})
	}
	return balance, nil
}

// BalanceAsOf computes the balance after applying entries up to asOfSeq.
// A zero asOfSeq means the full ledger. Point-in-time queries always fold
// from the start; the checkpoint cache is not consulted.
func (c *Calculator) BalanceAsOf(ctx context.Context, q repository.Querier, userID string, asOfSeq int64) (decimal.Decimal, error) {
	entries, err := c.ledger.ReadSequence(ctx, q, userID, 1, asOfSeq)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read ledger for balance: %w", err)
	}
	balance, _, err := fold(decimal.Zero, 0, entries)
	if err != nil {
		return decimal.Zero, fmt.Errorf("user %s: %w", userID, err)
	}
	return balance, nil
}

// VerifyCheckpoint recomputes the full fold up to the cached checkpoint's
// sequence and compares. Disagreement is a data-integrity fault: the
// checkpoint is discarded and the error escalates; the ledger is never
// "corrected" to match the cache.
func (c *Calculator) VerifyCheckpoint(ctx context.Context, q repository.Querier, userID string) error {
	cp, ok := c.lookupCheckpoint(userID)
	if !ok {
		return nil
	}
	derived, err := c.BalanceAsOf(ctx, q, userID, cp.seq)
	if err != nil {
		return err
	}
	if !derived.Equal(cp.balance) {
		c.DropCheckpoint(userID)
		return fmt.Errorf("%w: checkpoint at seq %d holds %s, full fold yields %s",
			domain.ErrIntegrityFault, cp.seq, cp.balance, derived)
	}
	return nil
}

// DropCheckpoint discards the cached fold for a user.
func (c *Calculator) DropCheckpoint(userID string) {
	c.mu.Lock()
	delete(c.checkpoints, userID)
	c.mu.Unlock()
}

func (c *Calculator) checkpointFor(userID string) checkpoint {
	cp, ok := c.lookupCheckpoint(userID)
	if !ok {
		return checkpoint{seq: 0, balance: decimal.Zero}
	}
	return cp
}

func (c *Calculator) lookupCheckpoint(userID string) (checkpoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp, ok := c.checkpoints[userID]
	return cp, ok
}

func (c *Calculator) storeCheckpoint(userID string, cp checkpoint) {
	c.mu.Lock()
	c.checkpoints[userID] = cp
	c.mu.Unlock()
}

// fold applies entries in order on top of a starting balance, enforcing a
// gap-free sequence and a never-negative running balance.
func fold(start decimal.Decimal, startSeq int64, entries []domain.LedgerEntry) (decimal.Decimal, int64, error) {
	balance := start
	prev := startSeq
	for i := range entries {
		e := &entries[i]
		if e.Seq != prev+1 {
			return decimal.Zero, 0, fmt.Errorf("%w: sequence gap between %d and %d", domain.ErrIntegrityFault, prev, e.Seq)
		}
		prev = e.Seq
		balance = balance.Add(e.Effect())
		if balance.IsNegative() {
			return decimal.Zero, 0, fmt.Errorf("%w: balance negative (%s) after seq %d", domain.ErrIntegrityFault, balance, e.Seq)
		}
	}
	return balance, prev, nil
}
