package catalog

import (
	"context"
	"log/slog"
	"time"

	"github.com/Saint-Daniels/Rewards/internal/rewards_service/policy"
)

// Source is the catalog collaborator boundary: it supplies the category/UPC
// table the policy engine classifies against. The table is refreshed
// out-of-band; a load failure keeps the previous table in place, so a stale
// catalog can only narrow towards default-deny, never fail open.
type Source interface {
	Load(ctx context.Context) (*policy.CategoryTable, error)
}

// StaticSource serves the built-in baseline table plus an optional UPC/SKU
// mapping loaded at construction. It stands in for the external catalog feed.
type StaticSource struct {
	codeCategory map[string]string
}

// NewStaticSource creates a source over a fixed UPC/SKU -> category map.
func NewStaticSource(codeCategory map[string]string) *StaticSource {
	return &StaticSource{codeCategory: codeCategory}
}

func (s *StaticSource) Load(ctx context.Context) (*policy.CategoryTable, error) {
	if len(s.codeCategory) == 0 {
		return policy.DefaultTable(), nil
	}
	return policy.DefaultTableWithCodes(s.codeCategory), nil
}

// Refresher periodically reloads the engine's table from a source.
type Refresher struct {
	source   Source
	engine   *policy.Engine
	interval time.Duration
	logger   *slog.Logger
}

// NewRefresher wires a source to an engine.
func NewRefresher(source Source, engine *policy.Engine, interval time.Duration, logger *slog.Logger) *Refresher {
	return &Refresher{
		source:   source,
		engine:   engine,
		interval: interval,
		logger:   logger.With("component", "catalog_refresher"),
	}
}

// Run refreshes until ctx is cancelled. Failures are logged and the engine
// keeps classifying against its current table.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			table, err := r.source.Load(ctx)
			if err != nil {
				r.logger.WarnContext(ctx, "catalog refresh failed; keeping current table", "error", err)
				continue
			}
			r.engine.Refresh(table)
			r.logger.DebugContext(ctx, "catalog table refreshed")
		}
	}
}
