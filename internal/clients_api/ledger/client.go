package ledger

import (
	"fmt"

	"nft-sales-monitor/internal/infra/config"
	"nft-sales-monitor/internal/infra/metrics"
)

// New returns the Client for cfg.Provider.
func New(cfg *config.LedgerConfig, m *metrics.Metrics) (Client, error) {
	switch cfg.Provider {
	case "tonapi":
		return NewTonAPIClient(cfg, m), nil
	case "toncenter":
		return NewTonCenterClient(cfg, m), nil
	case "indexer":
		return NewIndexerClient(cfg, m), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}
