package bots_monitor

import (
	"context"
	"errors"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"nft-sales-monitor/internal/clients_api/ledger"
	"nft-sales-monitor/internal/infra/config"
)

const collection = "EQCollection"

// fakeLedger serves txs in stored order, honouring Limit and BeforePosition.
type fakeLedger struct {
	mu    sync.Mutex
	txs   []ledger.Transaction
	err   error
	calls []ledger.FetchOptions
}

func (f *fakeLedger) Provider() string { return "fake" }

func (f *fakeLedger) Fetch(ctx context.Context, opts ledger.FetchOptions) ([]ledger.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	if f.err != nil {
		return nil, f.err
	}
	var out []ledger.Transaction
	for _, tx := range f.txs {
		if opts.BeforePosition > 0 && tx.Position >= opts.BeforePosition {
			continue
		}
		if len(out) == opts.Limit {
			break
		}
		out = append(out, tx)
	}
	return out, nil
}

func (f *fakeLedger) set(txs ...ledger.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs = txs
}

type enrichingLedger struct {
	*fakeLedger
	names map[string]string
}

func (e *enrichingLedger) LookupItem(ctx context.Context, address string) (ledger.NFTItem, error) {
	name, ok := e.names[address]
	if !ok {
		return ledger.NFTItem{}, errors.New("item not found")
	}
	return ledger.NFTItem{Address: address, Name: name}, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (n *fakeNotifier) Notify(ctx context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.texts = append(n.texts, text)
	return nil
}

func (n *fakeNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.texts...)
}

// fakeBot records sends and serves queued update batches.
type fakeBot struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	sendErr  error
	batches  [][]tgbotapi.Update
	requests []tgbotapi.UpdateConfig
	onEmpty  func()
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, c)
	return tgbotapi.Message{}, b.sendErr
}

func (b *fakeBot) GetUpdates(cfg tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	b.mu.Lock()
	b.requests = append(b.requests, cfg)
	if len(b.batches) == 0 {
		onEmpty := b.onEmpty
		b.mu.Unlock()
		if onEmpty != nil {
			onEmpty()
		}
		return nil, nil
	}
	batch := b.batches[0]
	b.batches = b.batches[1:]
	b.mu.Unlock()
	return batch, nil
}

func (b *fakeBot) messages() []tgbotapi.MessageConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []tgbotapi.MessageConfig
	for _, c := range b.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m)
		}
	}
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		Ledger: config.LedgerConfig{
			Provider:         "fake",
			Collection:       collection,
			PageLimit:        50,
			CalibrationLimit: 5,
			MaxPages:         3,
		},
		Monitor: config.MonitorConfig{
			PollInterval:     10,
			ErrorBackoff:     5,
			CalibrationGrace: 120,
			DriftSlack:       1_000_000,
			Title:            "Precious Peach",
			TokenSymbol:      "TON",
		},
	}
}

// purchase builds a transaction the extractor accepts.
func purchase(pos uint64, buyer, nft string, price uint64) ledger.Transaction {
	return ledger.Transaction{
		Hash:      "h",
		Position:  pos,
		Timestamp: 1_700_000_000 + int64(pos),
		In:        &ledger.Message{Source: buyer, Destination: collection, Value: price},
		Out:       []ledger.Message{{Source: collection, Destination: nft, Value: 1}},
	}
}

// plain builds a transaction that is not a purchase.
func plain(pos uint64) ledger.Transaction {
	return ledger.Transaction{
		Hash:      "h",
		Position:  pos,
		Timestamp: 1_700_000_000 + int64(pos),
		In:        &ledger.Message{Source: "someone", Destination: collection, Value: 0},
	}
}
