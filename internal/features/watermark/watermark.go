// Package watermark holds the last fully processed ledger position.
package watermark

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"nft-sales-monitor/internal/infra/log"
	"nft-sales-monitor/internal/infra/metrics"
)

// Reader is the read-only view handed to the command handler.
// Load returns 0 when nothing usable is stored; it never fails.
type Reader interface {
	Load(ctx context.Context) uint64
}

// Store is owned by the poll scheduler, its only writer.
type Store interface {
	Reader
	Save(ctx context.Context, position uint64) error
}

// Guard resets a stored watermark that no longer matches the ledger, e.g.
// after the indexer renumbered positions.
type Guard struct {
	store   Store
	slack   uint64
	metrics *metrics.Metrics
}

func NewGuard(store Store, slack uint64, m *metrics.Metrics) *Guard {
	return &Guard{store: store, slack: slack, metrics: m}
}

// Check compares stored against the largest position the indexer currently
// returns. When stored > observedMax+slack the store is reset to observedMax
// and (observedMax, true) is returned; otherwise (stored, false).
func (g *Guard) Check(ctx context.Context, stored, observedMax uint64) (uint64, bool, error) {
	if observedMax == 0 || stored <= observedMax || stored-observedMax <= g.slack {
		return stored, false, nil
	}

	log.LogWarn("Stored watermark is ahead of the ledger, resetting",
		zap.Uint64("stored", stored),
		zap.Uint64("observed_max", observedMax),
		zap.Uint64("slack", g.slack))
	g.metrics.RecordWatermarkReset()

	if err := g.store.Save(ctx, observedMax); err != nil {
		return stored, false, err
	}
	return observedMax, true, nil
}

// Memory is a process-local Store, used for dry runs.
type Memory struct {
	mu       sync.Mutex
	position uint64
}

func NewMemory(position uint64) *Memory {
	return &Memory{position: position}
}

func (m *Memory) Load(ctx context.Context) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

func (m *Memory) Save(ctx context.Context, position uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position = position
	return nil
}
