package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Saint-Daniels/Rewards/internal/rewards_service/domain"
	"github.com/Saint-Daniels/Rewards/internal/rewards_service/repository"
	"github.com/google/uuid"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryLedger is an in-memory LedgerAppender honoring the same contract as
// the PostgreSQL store: per-user dense sequences, unique idempotency keys,
// append-only.
type memoryLedger struct {
	mu      sync.Mutex
	entries map[string][]domain.LedgerEntry
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{entries: make(map[string][]domain.LedgerEntry)}
}

func (m *memoryLedger) Append(ctx context.Context, q repository.Querier, draft *domain.EntryDraft) (*domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries[draft.UserID] {
		if e.IdempotencyKey == draft.IdempotencyKey {
			return nil, repository.ErrDuplicateIdempotencyKey
		}
	}

	direction := draft.Direction
	if fixed, ok := domain.DirectionForKind(draft.Kind); ok {
		direction = fixed
	}
	entry := domain.LedgerEntry{
		ID:             uuid.NewString(),
		UserID:         draft.UserID,
		Seq:            int64(len(m.entries[draft.UserID]) + 1),
		Kind:           draft.Kind,
		Direction:      direction,
		Amount:         draft.Amount,
		Reason:         draft.Reason,
		Items:          draft.Items,
		MerchantID:     draft.MerchantID,
		PartnerRef:     draft.PartnerRef,
		IdempotencyKey: draft.IdempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}
	m.entries[draft.UserID] = append(m.entries[draft.UserID], entry)
	return &entry, nil
}

func (m *memoryLedger) ReadSequence(ctx context.Context, q repository.Querier, userID string, fromSeq, toSeq int64) ([]domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.LedgerEntry
	for _, e := range m.entries[userID] {
		if e.Seq < fromSeq {
			continue
		}
		if toSeq > 0 && e.Seq > toSeq {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *memoryLedger) List(ctx context.Context, q repository.Querier, userID string, limit, offset int) ([]domain.LedgerEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.entries[userID]
	total := len(all)

	var out []domain.LedgerEntry
	for i := total - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, total, nil
}

func (m *memoryLedger) LastSequence(ctx context.Context, q repository.Querier, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.entries[userID]
	if len(all) == 0 {
		return 0, nil
	}
	return all[len(all)-1].Seq, nil
}

func (m *memoryLedger) FindByIdempotencyKey(ctx context.Context, q repository.Querier, userID, key string) (*domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries[userID] {
		if e.IdempotencyKey == key {
			entry := e
			return &entry, nil
		}
	}
	return nil, domain.ErrEntryNotFound
}

func (m *memoryLedger) GetByID(ctx context.Context, q repository.Querier, id string) (*domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entries := range m.entries {
		for _, e := range entries {
			if e.ID == id {
				entry := e
				return &entry, nil
			}
		}
	}
	return nil, domain.ErrEntryNotFound
}

// corrupt overwrites a stored entry in place, bypassing the append-only
// contract, to provoke integrity faults in tests.
func (m *memoryLedger) corrupt(userID string, idx int, mutate func(*domain.LedgerEntry)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mutate(&m.entries[userID][idx])
}

// memoryRedemptions is an in-memory RedemptionRepository.
type memoryRedemptions struct {
	mu      sync.Mutex
	intents map[string]*domain.RedemptionIntent // by id
}

func newMemoryRedemptions() *memoryRedemptions {
	return &memoryRedemptions{intents: make(map[string]*domain.RedemptionIntent)}
}

func (m *memoryRedemptions) Create(ctx context.Context, q repository.Querier, intent *domain.RedemptionIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	intent.CreatedAt = now
	intent.UpdatedAt = now

	cp := *intent
	m.intents[intent.ID] = &cp
	return nil
}

func (m *memoryRedemptions) GetByIdempotencyKey(ctx context.Context, q repository.Querier, userID, key string) (*domain.RedemptionIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, intent := range m.intents {
		if intent.UserID == userID && intent.IdempotencyKey == key {
			cp := *intent
			return &cp, nil
		}
	}
	return nil, repository.ErrRedemptionNotFound
}

func (m *memoryRedemptions) GetByGatewayRef(ctx context.Context, q repository.Querier, gatewayRef string) (*domain.RedemptionIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, intent := range m.intents {
		if intent.GatewayRef != nil && *intent.GatewayRef == gatewayRef {
			cp := *intent
			return &cp, nil
		}
	}
	return nil, repository.ErrRedemptionNotFound
}

func (m *memoryRedemptions) UpdateStatus(ctx context.Context, q repository.Querier, id string, from, to domain.RedemptionStatus, gatewayRef *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, ok := m.intents[id]
	if !ok || intent.Status != from {
		return false, nil
	}
	intent.Status = to
	if gatewayRef != nil {
		intent.GatewayRef = gatewayRef
	}
	intent.UpdatedAt = time.Now().UTC()
	return true, nil
}

// lockingRunner serializes critical sections per user with plain mutexes,
// standing in for the transactional advisory lock.
type lockingRunner struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockingRunner() *lockingRunner {
	return &lockingRunner{locks: make(map[string]*sync.Mutex)}
}

func (r *lockingRunner) WithUserLock(ctx context.Context, userID string, fn func(q repository.Querier) error) error {
	r.mu.Lock()
	lock, ok := r.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[userID] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn(nil)
}

// captureAudit records audit records synchronously for assertions.
type captureAudit struct {
	mu      sync.Mutex
	records []domain.AuditRecord
}

func (c *captureAudit) Record(record *domain.AuditRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, *record)
}

func (c *captureAudit) all() []domain.AuditRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.AuditRecord(nil), c.records...)
}

func (c *captureAudit) last() *domain.AuditRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.records) == 0 {
		return nil
	}
	cp := c.records[len(c.records)-1]
	return &cp
}
