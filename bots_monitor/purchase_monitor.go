package bots_monitor

// Collection purchase monitor: polls the ledger, notifies new purchases and
// advances the persisted watermark once per batch.

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"nft-sales-monitor/internal/clients_api/ledger"
	"nft-sales-monitor/internal/features/purchases"
	"nft-sales-monitor/internal/features/watermark"
	"nft-sales-monitor/internal/infra/config"
	log "nft-sales-monitor/internal/infra/log"
	"nft-sales-monitor/internal/infra/metrics"
)

type monitorState string

const (
	stateUncalibrated monitorState = "uncalibrated"
	stateSteady       monitorState = "steady"
)

// PurchaseMonitor is the single writer of the watermark. Run drives one
// iteration per tick; iterations never overlap.
type PurchaseMonitor struct {
	client   ledger.Client
	lookup   ledger.ItemLookup // nil disables enrichment
	store    watermark.Store
	guard    *watermark.Guard
	notifier Notifier
	metrics  *metrics.Metrics

	collection       string
	format           purchases.FormatOptions
	pageLimit        int
	calibrationLimit int
	maxPages         int
	pollInterval     time.Duration
	errorBackoff     time.Duration
	grace            time.Duration

	now       func() time.Time
	startedAt time.Time
	state     monitorState
	watermark uint64
	timeFloor int64 // unix seconds, 0 when unset
}

func NewPurchaseMonitor(cfg *config.Config, client ledger.Client, store watermark.Store, notifier Notifier, m *metrics.Metrics) *PurchaseMonitor {
	pm := &PurchaseMonitor{
		client:           client,
		store:            store,
		guard:            watermark.NewGuard(store, cfg.Monitor.DriftSlack, m),
		notifier:         notifier,
		metrics:          m,
		collection:       cfg.Ledger.Collection,
		format:           FormatOptionsFromConfig(cfg),
		pageLimit:        cfg.Ledger.PageLimit,
		calibrationLimit: cfg.Ledger.CalibrationLimit,
		maxPages:         cfg.Ledger.MaxPages,
		pollInterval:     cfg.Monitor.PollEvery(),
		errorBackoff:     cfg.Monitor.BackoffEvery(),
		grace:            cfg.Monitor.Grace(),
		now:              time.Now,
	}
	if cfg.Monitor.Enrich {
		if lookup, ok := client.(ledger.ItemLookup); ok {
			pm.lookup = lookup
		}
	}
	if pm.maxPages < 1 {
		pm.maxPages = 1
	}
	pm.start()
	return pm
}

// FormatOptionsFromConfig maps the display settings.
func FormatOptionsFromConfig(cfg *config.Config) purchases.FormatOptions {
	return purchases.FormatOptions{
		Title:       cfg.Monitor.Title,
		TokenSymbol: cfg.Monitor.TokenSymbol,
		ExplorerURL: cfg.Monitor.ExplorerURL,
		MarketURL:   cfg.Monitor.MarketURL,
	}
}

func (pm *PurchaseMonitor) start() {
	pm.startedAt = pm.now()
	pm.watermark = pm.store.Load(context.Background())
	pm.state = stateSteady
	if pm.watermark == 0 {
		pm.state = stateUncalibrated
	}
	pm.metrics.SetWatermark(pm.watermark)
}

// Run polls until ctx is cancelled. A failed iteration is logged and
// followed by the error back-off.
func (pm *PurchaseMonitor) Run(ctx context.Context) error {
	log.LogInfo("Starting purchase monitor...",
		zap.String("collection", pm.collection),
		zap.String("provider", pm.client.Provider()),
		zap.String("state", string(pm.state)),
		zap.Uint64("watermark", pm.watermark),
		zap.Duration("interval", pm.pollInterval))

	ticker := time.NewTicker(pm.pollInterval)
	defer ticker.Stop()

	for {
		if err := pm.tick(ctx); err != nil && ctx.Err() == nil {
			log.LogError("Poll iteration failed", zap.String("state", string(pm.state)), zap.Error(err))
			if !sleepCtx(ctx, pm.errorBackoff) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			log.LogInfo("Purchase monitor stopped", zap.Uint64("watermark", pm.watermark))
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single iteration without the ticker or back-off.
func (pm *PurchaseMonitor) RunOnce(ctx context.Context) error {
	return pm.tick(ctx)
}

func (pm *PurchaseMonitor) tick(ctx context.Context) error {
	start := time.Now()
	state := pm.state

	var err error
	if state == stateUncalibrated {
		err = pm.calibrate(ctx)
	} else {
		err = pm.poll(ctx)
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	pm.metrics.RecordTick(string(state), status, time.Since(start).Seconds())
	return err
}

// calibrate adopts the newest ledger position as the starting watermark
// without notifying anything already on the ledger.
func (pm *PurchaseMonitor) calibrate(ctx context.Context) error {
	txs, err := pm.client.Fetch(ctx, ledger.FetchOptions{Limit: pm.calibrationLimit})
	if err != nil {
		pm.fallBackToTimeFloor()
		return err
	}
	if len(txs) == 0 {
		log.LogWarn("Calibration found no transactions")
		pm.fallBackToTimeFloor()
		return nil
	}

	max := ledger.MaxPosition(txs)
	if err := pm.store.Save(ctx, max); err != nil {
		return err
	}
	pm.watermark = max
	pm.state = stateSteady
	pm.metrics.SetWatermark(max)
	log.LogSuccess("Calibrated watermark", zap.Uint64("watermark", max), zap.Int("transactions", len(txs)))
	return nil
}

// fallBackToTimeFloor leaves calibration once the grace period is over and
// suppresses notifications for anything older than process start instead.
func (pm *PurchaseMonitor) fallBackToTimeFloor() {
	if pm.now().Sub(pm.startedAt) < pm.grace {
		return
	}
	pm.state = stateSteady
	pm.timeFloor = pm.startedAt.Unix()
	log.LogWarn("Calibration did not succeed in time, using start time as floor",
		zap.Time("floor", pm.startedAt.UTC()),
		zap.Duration("grace", pm.grace))
}

func (pm *PurchaseMonitor) poll(ctx context.Context) error {
	page, err := pm.client.Fetch(ctx, ledger.FetchOptions{Limit: pm.pageLimit})
	if err != nil {
		return err
	}

	wm, reset, err := pm.guard.Check(ctx, pm.watermark, ledger.MaxPosition(page))
	if err != nil {
		return err
	}
	if reset {
		pm.watermark = wm
		pm.metrics.SetWatermark(wm)
	}

	batch := pm.newerThanWatermark(page)
	fetched := len(page)
	for pages := 1; pages < pm.maxPages && pm.needsOlderPage(page, batch); pages++ {
		page, err = pm.client.Fetch(ctx, ledger.FetchOptions{
			Limit:          pm.pageLimit,
			BeforePosition: ledger.MinPosition(page),
		})
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}
		fetched += len(page)
		batch = append(batch, pm.newerThanWatermark(page)...)
	}
	pm.metrics.RecordTransactions(len(batch), fetched-len(batch))

	if len(batch) == 0 {
		return nil
	}
	return pm.processBatch(ctx, batch)
}

func (pm *PurchaseMonitor) newerThanWatermark(txs []ledger.Transaction) []ledger.Transaction {
	var out []ledger.Transaction
	for _, tx := range txs {
		if tx.Position > pm.watermark {
			out = append(out, tx)
		}
	}
	return out
}

// needsOlderPage reports whether the last page was full and entirely new,
// i.e. there may be unseen transactions behind it.
func (pm *PurchaseMonitor) needsOlderPage(page, batch []ledger.Transaction) bool {
	if len(page) < pm.pageLimit {
		return false
	}
	min := ledger.MinPosition(page)
	if min <= pm.watermark {
		return false
	}
	if pm.timeFloor > 0 {
		for _, tx := range page {
			if tx.Timestamp < pm.timeFloor {
				return false
			}
		}
	}
	return len(batch) > 0
}

// processBatch handles txs oldest first and saves the watermark once, at
// the last fully processed position.
func (pm *PurchaseMonitor) processBatch(ctx context.Context, batch []ledger.Transaction) error {
	batch = sortUnique(batch)
	records := purchases.ExtractAll(batch, pm.collection)

	var processed uint64
	var found, failed, next int
	for _, tx := range batch {
		if ctx.Err() != nil {
			break
		}

		if next < len(records) && records[next].Position == tx.Position {
			rec := records[next]
			next++
			if !pm.belowTimeFloor(tx) {
				found++
				log.LogInfo("New purchase detected",
					zap.String("nft", rec.NFTAddress),
					zap.String("buyer", rec.Buyer),
					zap.String("price", purchases.FormatPrice(rec.Price)),
					zap.Uint64("position", rec.Position))

				text := purchases.FormatMessage(rec, pm.enrich(ctx, rec), pm.format)
				if err := pm.notifier.Notify(ctx, text); err != nil {
					if ctx.Err() != nil {
						break
					}
					failed++
				}
			}
		}
		processed = tx.Position
	}
	pm.metrics.RecordPurchases(found)

	if processed <= pm.watermark {
		return ctx.Err()
	}
	// The prefix was delivered even if shutdown interrupted the rest.
	if err := pm.store.Save(context.WithoutCancel(ctx), processed); err != nil {
		// Keep the in-memory value so this process does not notify the batch twice.
		pm.watermark = processed
		pm.metrics.SetWatermark(processed)
		return err
	}
	pm.watermark = processed
	pm.timeFloor = 0
	pm.metrics.SetWatermark(processed)

	log.LogInfo("Processed batch",
		zap.Int("transactions", len(batch)),
		zap.Int("purchases", found),
		zap.Int("failedNotifications", failed),
		zap.Uint64("watermark", processed))

	if failed > 0 {
		return errors.New("some notifications were not delivered")
	}
	return nil
}

// sortUnique orders txs by position and drops repeated positions, which
// overlapping pages can produce.
func sortUnique(txs []ledger.Transaction) []ledger.Transaction {
	sort.Slice(txs, func(i, j int) bool { return txs[i].Position < txs[j].Position })
	out := txs[:0]
	for i, tx := range txs {
		if i > 0 && tx.Position == txs[i-1].Position {
			continue
		}
		out = append(out, tx)
	}
	return out
}

func (pm *PurchaseMonitor) belowTimeFloor(tx ledger.Transaction) bool {
	return pm.timeFloor > 0 && tx.Timestamp < pm.timeFloor
}

func (pm *PurchaseMonitor) enrich(ctx context.Context, rec purchases.Record) *ledger.NFTItem {
	if pm.lookup == nil {
		return nil
	}
	item, err := pm.lookup.LookupItem(ctx, rec.NFTAddress)
	if err != nil {
		log.LogWarn("NFT lookup failed, sending without name", zap.String("nft", rec.NFTAddress), zap.Error(err))
		return nil
	}
	return &item
}

// sleepCtx waits d or until ctx is done; it reports whether the full wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
