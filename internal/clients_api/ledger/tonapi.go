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

// TonAPIClient reads tonapi.io v2 blockchain endpoints.
type TonAPIClient struct {
	http    *httpClient
	account string
}

func NewTonAPIClient(cfg *config.LedgerConfig, m *metrics.Metrics) *TonAPIClient {
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	return &TonAPIClient{
		http:    newHTTPClient("tonapi", cfg, headers, m),
		account: cfg.Collection,
	}
}

func (c *TonAPIClient) Provider() string { return "tonapi" }

type tonapiAccountRef struct {
	Address string `json:"address"`
}

type tonapiMessage struct {
	Value       flexUint          `json:"value"`
	Source      *tonapiAccountRef `json:"source"`
	Destination *tonapiAccountRef `json:"destination"`
}

type tonapiTransaction struct {
	Hash    string          `json:"hash"`
	Lt      flexUint        `json:"lt"`
	Utime   flexInt         `json:"utime"`
	InMsg   *tonapiMessage  `json:"in_msg"`
	OutMsgs []tonapiMessage `json:"out_msgs"`
}

type tonapiTransactionsResponse struct {
	Transactions []tonapiTransaction `json:"transactions"`
}

func (m *tonapiMessage) toMessage() Message {
	msg := Message{Value: uint64(m.Value)}
	if m.Source != nil {
		msg.Source = m.Source.Address
	}
	if m.Destination != nil {
		msg.Destination = m.Destination.Address
	}
	return msg
}

func (c *TonAPIClient) Fetch(ctx context.Context, opts FetchOptions) ([]Transaction, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(clampLimit(opts.Limit)))
	params.Set("sort_order", "desc")
	if opts.BeforePosition > 0 {
		params.Set("before_lt", strconv.FormatUint(opts.BeforePosition, 10))
	}

	body, err := c.http.get(ctx, "/v2/blockchain/accounts/"+url.PathEscape(c.account)+"/transactions", params)
	if err != nil {
		return nil, err
	}
	return decodeTonAPITransactions(body)
}

func decodeTonAPITransactions(body []byte) ([]Transaction, error) {
	var resp tonapiTransactionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode tonapi transactions: %w", err)
	}

	txs := make([]Transaction, 0, len(resp.Transactions))
	for _, raw := range resp.Transactions {
		tx := Transaction{
			Hash:      raw.Hash,
			Position:  uint64(raw.Lt),
			Timestamp: int64(raw.Utime),
		}
		if raw.InMsg != nil {
			in := raw.InMsg.toMessage()
			tx.In = &in
		}
		for i := range raw.OutMsgs {
			tx.Out = append(tx.Out, raw.OutMsgs[i].toMessage())
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

type tonapiNFTItem struct {
	Address  string `json:"address"`
	Metadata struct {
		Name string `json:"name"`
	} `json:"metadata"`
}

// LookupItem fetches the NFT item's display name.
func (c *TonAPIClient) LookupItem(ctx context.Context, address string) (NFTItem, error) {
	body, err := c.http.get(ctx, "/v2/nfts/"+url.PathEscape(address), nil)
	if err != nil {
		return NFTItem{}, err
	}
	var item tonapiNFTItem
	if err := json.Unmarshal(body, &item); err != nil {
		return NFTItem{}, fmt.Errorf("failed to decode tonapi nft item: %w", err)
	}
	if item.Address == "" {
		item.Address = address
	}
	return NFTItem{Address: item.Address, Name: item.Metadata.Name}, nil
}
