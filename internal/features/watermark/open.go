package watermark

import (
	"context"
	"fmt"
	"path/filepath"

	"nft-sales-monitor/internal/infra/config"
	"nft-sales-monitor/internal/infra/fs"
	"nft-sales-monitor/internal/infra/kv"
)

// Stores bundles the two persisted counters: the ledger watermark and the
// last handled chat update id.
type Stores struct {
	Positions Store
	UpdateIDs Store
	close     func() error
}

func (s *Stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// Open builds the stores for the configured backend.
func Open(ctx context.Context, cfg *config.StateConfig) (*Stores, error) {
	switch cfg.Backend {
	case "", "file":
		return &Stores{
			Positions: fs.NewPositionFile(filepath.Join(cfg.Dir, fs.PositionFileName)),
			UpdateIDs: fs.NewPositionFile(filepath.Join(cfg.Dir, fs.UpdateIDFileName)),
		}, nil
	case "redis":
		client, err := kv.NewClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Positions: kv.NewPositionKey(client, kv.Key(cfg.KeyPrefix, kv.PositionKeySuffix)),
			UpdateIDs: kv.NewPositionKey(client, kv.Key(cfg.KeyPrefix, kv.UpdateIDKeySuffix)),
			close:     client.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}
