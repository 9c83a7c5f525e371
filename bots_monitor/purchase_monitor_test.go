package bots_monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft-sales-monitor/internal/clients_api/ledger"
	"nft-sales-monitor/internal/features/watermark"
	"nft-sales-monitor/internal/infra/config"
)

func newTestMonitor(cfg *config.Config, client ledger.Client, store watermark.Store) (*PurchaseMonitor, *fakeNotifier) {
	n := &fakeNotifier{}
	return NewPurchaseMonitor(cfg, client, store, n, nil), n
}

func TestPurchaseMonitor_Scenario(t *testing.T) {
	ctx := context.Background()
	client := &fakeLedger{}
	client.set(
		plain(120),
		purchase(110, "B1", "N1", 2_000_000_000),
		purchase(90, "B0", "N0", 1_000_000_000),
	)
	store := watermark.NewMemory(100)
	pm, n := newTestMonitor(testConfig(), client, store)

	require.NoError(t, pm.tick(ctx))

	sent := n.sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "https://getgems.io/nft/N1")
	assert.Contains(t, sent[0], "https://tonviewer.com/B1")
	assert.Contains(t, sent[0], "2.0000 TON")
	assert.Equal(t, uint64(120), store.Load(ctx))
	assert.Equal(t, uint64(120), pm.watermark)
}

func TestPurchaseMonitor_ProcessesInPositionOrder(t *testing.T) {
	ctx := context.Background()
	client := &fakeLedger{}
	client.set(
		purchase(50, "B", "N50", 1),
		purchase(10, "B", "N10", 1),
		purchase(30, "B", "N30", 1),
	)
	store := watermark.NewMemory(5)
	pm, n := newTestMonitor(testConfig(), client, store)

	require.NoError(t, pm.tick(ctx))

	sent := n.sent()
	require.Len(t, sent, 3)
	assert.Contains(t, sent[0], "nft/N10")
	assert.Contains(t, sent[1], "nft/N30")
	assert.Contains(t, sent[2], "nft/N50")
	assert.Equal(t, uint64(50), store.Load(ctx))
}

func TestPurchaseMonitor_SkipsAlreadyProcessed(t *testing.T) {
	ctx := context.Background()
	client := &fakeLedger{}
	client.set(purchase(20, "B", "N20", 1), purchase(10, "B", "N10", 1))
	store := watermark.NewMemory(5)
	pm, n := newTestMonitor(testConfig(), client, store)

	require.NoError(t, pm.tick(ctx))
	require.NoError(t, pm.tick(ctx))
	assert.Len(t, n.sent(), 2)

	// A new transaction on top is the only one notified.
	client.set(purchase(30, "B", "N30", 1), purchase(20, "B", "N20", 1), purchase(10, "B", "N10", 1))
	require.NoError(t, pm.tick(ctx))
	sent := n.sent()
	require.Len(t, sent, 3)
	assert.Contains(t, sent[2], "nft/N30")
	assert.Equal(t, uint64(30), store.Load(ctx))
}

func TestPurchaseMonitor_WatermarkNeverMovesBack(t *testing.T) {
	ctx := context.Background()
	client := &fakeLedger{}
	client.set(plain(120))
	store := watermark.NewMemory(100)
	pm, _ := newTestMonitor(testConfig(), client, store)

	require.NoError(t, pm.tick(ctx))
	assert.Equal(t, uint64(120), store.Load(ctx))

	client.set(plain(110), plain(90))
	require.NoError(t, pm.tick(ctx))
	assert.Equal(t, uint64(120), store.Load(ctx))
	assert.Equal(t, uint64(120), pm.watermark)
}

func TestPurchaseMonitor_CalibrationDoesNotReplayHistory(t *testing.T) {
	ctx := context.Background()
	client := &fakeLedger{}
	client.set(purchase(300, "B", "N3", 1), purchase(200, "B", "N2", 1), purchase(100, "B", "N1", 1))
	store := watermark.NewMemory(0)
	pm, n := newTestMonitor(testConfig(), client, store)
	require.Equal(t, stateUncalibrated, pm.state)

	require.NoError(t, pm.tick(ctx))
	assert.Empty(t, n.sent())
	assert.Equal(t, stateSteady, pm.state)
	assert.Equal(t, uint64(300), store.Load(ctx))
	assert.Equal(t, 5, client.calls[0].Limit)

	require.NoError(t, pm.tick(ctx))
	assert.Empty(t, n.sent())
}

func TestPurchaseMonitor_TimeFloorAfterCalibrationGrace(t *testing.T) {
	ctx := context.Background()
	client := &fakeLedger{err: errors.New("indexer down")}
	store := watermark.NewMemory(0)
	pm, n := newTestMonitor(testConfig(), client, store)

	clock := time.Unix(1_700_000_500, 0)
	pm.now = func() time.Time { return clock }
	pm.start()

	require.Error(t, pm.tick(ctx))
	assert.Equal(t, stateUncalibrated, pm.state, "grace period not over")

	clock = clock.Add(2 * time.Minute)
	require.Error(t, pm.tick(ctx))
	assert.Equal(t, stateSteady, pm.state)
	assert.Equal(t, int64(1_700_000_500), pm.timeFloor)

	// Positions map to timestamps 1_700_000_000+pos: 400 is before the floor, 600 after.
	client.err = nil
	client.set(purchase(600, "B", "N600", 1), purchase(400, "B", "N400", 1))
	require.NoError(t, pm.tick(ctx))

	sent := n.sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "nft/N600")
	assert.Equal(t, uint64(600), store.Load(ctx))
	assert.Zero(t, pm.timeFloor, "floor is dropped once a watermark exists")
}

func TestPurchaseMonitor_EmptyCalibrationStaysUncalibrated(t *testing.T) {
	client := &fakeLedger{}
	pm, _ := newTestMonitor(testConfig(), client, watermark.NewMemory(0))

	require.NoError(t, pm.tick(context.Background()))
	assert.Equal(t, stateUncalibrated, pm.state)
}

func TestPurchaseMonitor_ResetsDriftedWatermark(t *testing.T) {
	ctx := context.Background()
	client := &fakeLedger{}
	client.set(plain(200), purchase(150, "B", "N150", 1))
	store := watermark.NewMemory(10_000_000)
	pm, n := newTestMonitor(testConfig(), client, store)

	require.NoError(t, pm.tick(ctx))
	assert.Empty(t, n.sent())
	assert.Equal(t, uint64(200), store.Load(ctx))

	client.set(purchase(250, "B", "N250", 1), plain(200))
	require.NoError(t, pm.tick(ctx))
	sent := n.sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "nft/N250")
}

func TestPurchaseMonitor_PagesBackWhenPageIsAllNew(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Ledger.PageLimit = 2
	cfg.Ledger.MaxPages = 3

	client := &fakeLedger{}
	var history []ledger.Transaction
	for pos := uint64(107); pos >= 100; pos-- {
		history = append(history, purchase(pos, "B", "N", 1))
	}
	client.set(history...)
	store := watermark.NewMemory(100)
	pm, n := newTestMonitor(cfg, client, store)

	require.NoError(t, pm.tick(ctx))

	require.Len(t, client.calls, 3)
	assert.Zero(t, client.calls[0].BeforePosition)
	assert.Equal(t, uint64(106), client.calls[1].BeforePosition)
	assert.Equal(t, uint64(104), client.calls[2].BeforePosition)
	assert.Len(t, n.sent(), 6)
	assert.Equal(t, uint64(107), store.Load(ctx))
}

func TestPurchaseMonitor_StopsPagingAtWatermark(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Ledger.PageLimit = 2

	client := &fakeLedger{}
	client.set(plain(103), plain(102), plain(101), plain(100))
	store := watermark.NewMemory(102)
	pm, _ := newTestMonitor(cfg, client, store)

	require.NoError(t, pm.tick(ctx))
	assert.Len(t, client.calls, 1)
	assert.Equal(t, uint64(103), store.Load(ctx))
}

func TestPurchaseMonitor_FetchErrorKeepsWatermark(t *testing.T) {
	ctx := context.Background()
	client := &fakeLedger{err: errors.New("timeout")}
	store := watermark.NewMemory(100)
	pm, n := newTestMonitor(testConfig(), client, store)

	require.Error(t, pm.tick(ctx))
	assert.Empty(t, n.sent())
	assert.Equal(t, uint64(100), store.Load(ctx))
}

func TestPurchaseMonitor_NotifyFailureStillAdvances(t *testing.T) {
	ctx := context.Background()
	client := &fakeLedger{}
	client.set(purchase(110, "B", "N", 1))
	store := watermark.NewMemory(100)
	pm, n := newTestMonitor(testConfig(), client, store)
	n.err = errors.New("forbidden")

	require.Error(t, pm.tick(ctx))
	assert.Equal(t, uint64(110), store.Load(ctx))
}

// cancellingNotifier delivers, then cancels the poll context.
type cancellingNotifier struct {
	*fakeNotifier
	cancel context.CancelFunc
}

func (c *cancellingNotifier) Notify(ctx context.Context, text string) error {
	err := c.fakeNotifier.Notify(ctx, text)
	c.cancel()
	return err
}

func TestPurchaseMonitor_ShutdownSavesDeliveredPrefix(t *testing.T) {
	client := &fakeLedger{}
	client.set(purchase(130, "B", "N130", 1), purchase(120, "B", "N120", 1), purchase(110, "B", "N110", 1))
	store := watermark.NewMemory(100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n := &cancellingNotifier{fakeNotifier: &fakeNotifier{}, cancel: cancel}
	pm := NewPurchaseMonitor(testConfig(), client, store, n, nil)

	require.NoError(t, pm.tick(ctx))

	sent := n.sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "nft/N110")
	assert.Equal(t, uint64(110), store.Load(context.Background()))
}

// saveFailingStore reads like Memory but never persists.
type saveFailingStore struct {
	*watermark.Memory
}

func (s saveFailingStore) Save(ctx context.Context, position uint64) error {
	return errors.New("disk full")
}

func TestPurchaseMonitor_SaveFailureDoesNotRenotify(t *testing.T) {
	ctx := context.Background()
	client := &fakeLedger{}
	client.set(purchase(110, "B", "N", 1))
	store := saveFailingStore{Memory: watermark.NewMemory(100)}
	pm, n := newTestMonitor(testConfig(), client, store)

	require.Error(t, pm.tick(ctx))
	require.NoError(t, pm.tick(ctx))

	assert.Len(t, n.sent(), 1)
	assert.Equal(t, uint64(100), store.Load(ctx))
}

func TestPurchaseMonitor_DuplicatePositionsNotifiedOnce(t *testing.T) {
	ctx := context.Background()
	client := &fakeLedger{}
	client.set(
		purchase(120, "B", "N120", 1),
		plain(115),
		purchase(110, "B", "N110", 1),
		purchase(110, "B", "N110", 1),
	)
	store := watermark.NewMemory(100)
	pm, n := newTestMonitor(testConfig(), client, store)

	require.NoError(t, pm.tick(ctx))

	sent := n.sent()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0], "nft/N110")
	assert.Contains(t, sent[1], "nft/N120")
	assert.Equal(t, uint64(120), store.Load(ctx))
}

func TestPurchaseMonitor_Enrichment(t *testing.T) {
	ctx := context.Background()
	base := &fakeLedger{}
	base.set(purchase(120, "B", "N2", 1), purchase(110, "B", "N1", 1))
	client := &enrichingLedger{fakeLedger: base, names: map[string]string{"N1": "Peach #1"}}
	cfg := testConfig()
	cfg.Monitor.Enrich = true
	pm, n := newTestMonitor(cfg, client, watermark.NewMemory(100))

	require.NoError(t, pm.tick(ctx))
	sent := n.sent()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0], ">Peach #1</a>")
	assert.Contains(t, sent[1], ">Precious Peach</a>")
}

func TestPurchaseMonitor_RunStopsOnCancel(t *testing.T) {
	client := &fakeLedger{}
	client.set(purchase(110, "B", "N", 1))
	store := watermark.NewMemory(100)
	pm, n := newTestMonitor(testConfig(), client, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pm.Run(ctx) }()

	require.Eventually(t, func() bool { return len(n.sent()) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, uint64(110), store.Load(context.Background()))
}
