package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Saint-Daniels/Rewards/internal/rewards_service/domain"
	"github.com/Saint-Daniels/Rewards/internal/rewards_service/repository"
	"github.com/nats-io/nats.go"
	"github.com/sethvargo/go-retry"
)

// AuditSubject is the NATS subject carrying redacted audit events.
const AuditSubject = "rewards.audit.v1"

// AuditSink receives one record per coordinator decision. Implementations
// must not block the caller; audit durability is best-effort-with-retry and
// never gates the ledger operation.
type AuditSink interface {
	Record(record *domain.AuditRecord)
}

// AuditLogger persists audit records asynchronously: records queue on a
// buffered channel, a worker writes them to the audit store with exponential
// backoff, and each persisted record is additionally published to NATS as an
// observability feed. Persistent failure surfaces only through metrics and
// error logs.
type AuditLogger struct {
	repo   repository.AuditRepository
	db     repository.Querier
	nc     *nats.Conn // optional
	logger *slog.Logger

	queue chan *domain.AuditRecord
	wg    sync.WaitGroup
	once  sync.Once
}

// NewAuditLogger creates an audit logger. nc may be nil when no broker is
// configured.
func NewAuditLogger(repo repository.AuditRepository, db repository.Querier, nc *nats.Conn, queueSize int, logger *slog.Logger) *AuditLogger {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &AuditLogger{
		repo:   repo,
		db:     db,
		nc:     nc,
		logger: logger.With("component", "audit_logger"),
		queue:  make(chan *domain.AuditRecord, queueSize),
	}
}

// Start launches the persistence worker. The worker runs until Close, which
// waits for the queue to drain.
func (a *AuditLogger) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for record := range a.queue {
			a.persist(record)
		}
	}()
}

// Record enqueues without blocking. A full queue drops the record and
// increments the drop counter; the primary operation has already completed
// and must not be failed retroactively.
func (a *AuditLogger) Record(record *domain.AuditRecord) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	select {
	case a.queue <- record:
	default:
		auditQueueDroppedTotal.Inc()
		a.logger.Error("audit queue full; record dropped",
			"action", record.Action, "outcome", record.Outcome)
	}
}

// Close stops intake and waits for queued records to be persisted.
func (a *AuditLogger) Close() {
	a.once.Do(func() { close(a.queue) })
	a.wg.Wait()
}

// persistTimeout bounds one record's retry loop.
const persistTimeout = 15 * time.Second

func (a *AuditLogger) persist(record *domain.AuditRecord) {
	// Persistence runs on its own context, not the service's run context:
	// records queued when shutdown begins must still drain to storage.
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	backoff := retry.WithMaxRetries(5, retry.NewExponential(100*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if _, err := a.repo.Append(ctx, a.db, record); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		auditPersistFailuresTotal.Inc()
		a.logger.ErrorContext(ctx, "audit record lost after retries",
			"error", err, "action", record.Action, "outcome", record.Outcome,
			"hashed_user_id", record.HashedUserID)
		return
	}

	if a.nc != nil {
		payload, err := json.Marshal(record)
		if err == nil {
			if err := a.nc.Publish(AuditSubject, payload); err != nil {
				a.logger.WarnContext(ctx, "audit event publish failed", "error", err)
			}
		}
	}
}
