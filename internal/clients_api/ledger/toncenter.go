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

// TonCenterClient reads the toncenter v3 indexer.
type TonCenterClient struct {
	http    *httpClient
	account string
}

func NewTonCenterClient(cfg *config.LedgerConfig, m *metrics.Metrics) *TonCenterClient {
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["X-API-Key"] = cfg.APIKey
	}
	return &TonCenterClient{
		http:    newHTTPClient("toncenter", cfg, headers, m),
		account: cfg.Collection,
	}
}

func (c *TonCenterClient) Provider() string { return "toncenter" }

type toncenterMessage struct {
	Source      string   `json:"source"`
	Destination string   `json:"destination"`
	Value       flexUint `json:"value"`
}

type toncenterTransaction struct {
	Hash    string             `json:"hash"`
	Lt      flexUint           `json:"lt"`
	Now     flexInt            `json:"now"`
	InMsg   *toncenterMessage  `json:"in_msg"`
	OutMsgs []toncenterMessage `json:"out_msgs"`
}

type toncenterTransactionsResponse struct {
	Transactions []toncenterTransaction `json:"transactions"`
}

func (c *TonCenterClient) Fetch(ctx context.Context, opts FetchOptions) ([]Transaction, error) {
	params := url.Values{}
	params.Set("account", c.account)
	params.Set("limit", strconv.Itoa(clampLimit(opts.Limit)))
	params.Set("offset", "0")
	params.Set("sort", "desc")
	// end_lt is inclusive
	if opts.BeforePosition > 1 {
		params.Set("end_lt", strconv.FormatUint(opts.BeforePosition-1, 10))
	}

	body, err := c.http.get(ctx, "/api/v3/transactions", params)
	if err != nil {
		return nil, err
	}
	return decodeTonCenterTransactions(body)
}

func decodeTonCenterTransactions(body []byte) ([]Transaction, error) {
	var resp toncenterTransactionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode toncenter transactions: %w", err)
	}

	txs := make([]Transaction, 0, len(resp.Transactions))
	for _, raw := range resp.Transactions {
		tx := Transaction{
			Hash:      raw.Hash,
			Position:  uint64(raw.Lt),
			Timestamp: int64(raw.Now),
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
