package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"nft-sales-monitor/internal/infra/config"
	"nft-sales-monitor/internal/infra/metrics"
)

// IndexerClient speaks the minimal self-hosted indexer format:
//
//	GET {base}/transactions?account=&limit=&before_position=
//	{"transactions":[{"hash","position","timestamp","in_msg":{...},"out_msgs":[...]}]}
type IndexerClient struct {
	http    *httpClient
	account string
}

func NewIndexerClient(cfg *config.LedgerConfig, m *metrics.Metrics) *IndexerClient {
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	return &IndexerClient{
		http:    newHTTPClient("indexer", cfg, headers, m),
		account: cfg.Collection,
	}
}

func (c *IndexerClient) Provider() string { return "indexer" }

type indexerMessage struct {
	Source      string   `json:"source"`
	Destination string   `json:"destination"`
	Value       flexUint `json:"value"`
}

type indexerTransaction struct {
	Hash      string           `json:"hash"`
	Position  flexUint         `json:"position"`
	Timestamp flexInt          `json:"timestamp"`
	InMsg     *indexerMessage  `json:"in_msg"`
	OutMsgs   []indexerMessage `json:"out_msgs"`
}

func (c *IndexerClient) Fetch(ctx context.Context, opts FetchOptions) ([]Transaction, error) {
	params := url.Values{}
	params.Set("account", c.account)
	params.Set("limit", strconv.Itoa(clampLimit(opts.Limit)))
	if opts.BeforePosition > 0 {
		params.Set("before_position", strconv.FormatUint(opts.BeforePosition, 10))
	}

	body, err := c.http.get(ctx, "/transactions", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Transactions []indexerTransaction `json:"transactions"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode indexer transactions: %w", err)
	}

	txs := make([]Transaction, 0, len(resp.Transactions))
	for _, raw := range resp.Transactions {
		tx := Transaction{
			Hash:      raw.Hash,
			Position:  uint64(raw.Position),
			Timestamp: int64(raw.Timestamp),
		}
		if raw.InMsg != nil {
			tx.In = &Message{Source: raw.InMsg.Source, Destination: raw.InMsg.Destination, Value: uint64(raw.InMsg.Value)}
		}
		for _, out := range raw.OutMsgs {
			tx.Out = append(tx.Out, Message{Source: out.Source, Destination: out.Destination, Value: uint64(out.Value)})
		}
		txs = append(txs, tx)
	}
	return txs, nil
}
