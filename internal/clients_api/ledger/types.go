// Package ledger reads an account's transaction history from a TON indexer.
// Each indexer API gets its own Client implementation; the poller only sees the interface.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// MaxLimit is the largest page any supported indexer accepts.
const MaxLimit = 100

var ErrUnknownProvider = errors.New("unknown ledger provider")

// Transaction is one account-level ledger event. Position is the account's
// logical time and strictly increases with every transaction.
type Transaction struct {
	Hash      string
	Position  uint64
	Timestamp int64 // unix seconds
	In        *Message
	Out       []Message
}

// Message is an inbound or outbound internal message. Value is in nanotons;
// missing or unparsable values decode as 0.
type Message struct {
	Source      string
	Destination string
	Value       uint64
}

// FetchOptions selects a page. BeforePosition 0 means the most recent page,
// otherwise only transactions with Position < BeforePosition are returned.
type FetchOptions struct {
	Limit          int
	BeforePosition uint64
}

// Client fetches the watched account's transactions, newest first where the API allows.
type Client interface {
	Fetch(ctx context.Context, opts FetchOptions) ([]Transaction, error)
	Provider() string
}

// NFTItem is the optional enrichment for a notification.
type NFTItem struct {
	Address string
	Name    string
}

// ItemLookup is implemented by clients whose API can describe an NFT item.
type ItemLookup interface {
	LookupItem(ctx context.Context, address string) (NFTItem, error)
}

// MaxPosition returns the largest position in txs, 0 for an empty slice.
func MaxPosition(txs []Transaction) uint64 {
	var max uint64
	for _, tx := range txs {
		if tx.Position > max {
			max = tx.Position
		}
	}
	return max
}

// MinPosition returns the smallest position in txs, 0 for an empty slice.
func MinPosition(txs []Transaction) uint64 {
	if len(txs) == 0 {
		return 0
	}
	min := txs[0].Position
	for _, tx := range txs[1:] {
		if tx.Position < min {
			min = tx.Position
		}
	}
	return min
}

func clampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// flexUint decodes a JSON number or a decimal string. Anything else,
// including negative or overflowing values, decodes as 0 without failing
// the surrounding document.
type flexUint uint64

func (f *flexUint) UnmarshalJSON(data []byte) error {
	*f = 0
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	s := string(data)
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return nil
		}
		s = str
	}
	if v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64); err == nil {
		*f = flexUint(v)
	}
	return nil
}

// flexInt is flexUint for signed values such as unix timestamps.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	*f = 0
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	s := string(data)
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return nil
		}
		s = str
	}
	if v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
		*f = flexInt(v)
	}
	return nil
}
