package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors. It is passed explicitly to the
// components that record; every method is safe on a nil receiver.
type Metrics struct {
	ledgerCallsTotal     *prometheus.CounterVec
	ledgerCallDuration   *prometheus.HistogramVec
	ledgerRetriesTotal   *prometheus.CounterVec
	transactionsFetched  *prometheus.CounterVec
	purchasesDetected    prometheus.Counter
	notificationsTotal   *prometheus.CounterVec
	watermark            prometheus.Gauge
	watermarkResetsTotal prometheus.Counter
	tickDuration         *prometheus.HistogramVec
	commandsTotal        *prometheus.CounterVec
}

// NewMetrics registers all collectors. If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		ledgerCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_calls_total",
				Help: "Indexer API calls by provider and status",
			},
			[]string{"provider", "status"},
		),
		ledgerCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_call_duration_seconds",
				Help:    "Duration of indexer API calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"provider"},
		),
		ledgerRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_retries_total",
				Help: "Indexer API retry attempts by provider",
			},
			[]string{"provider"},
		),
		transactionsFetched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_fetched_total",
				Help: "Transactions returned by the indexer, split into new and already seen",
			},
			[]string{"kind"},
		),
		purchasesDetected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "purchases_detected_total",
				Help: "Purchases extracted from new transactions",
			},
		),
		notificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_total",
				Help: "Notification deliveries by outcome",
			},
			[]string{"outcome"},
		),
		watermark: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "watermark_position",
				Help: "Last fully processed ledger position",
			},
		),
		watermarkResetsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "watermark_resets_total",
				Help: "Times a drifted watermark was reset to the observed maximum",
			},
		),
		tickDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "poll_tick_duration_seconds",
				Help:    "Duration of poll iterations by state and status",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"state", "status"},
		),
		commandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_commands_total",
				Help: "Chat commands handled by name",
			},
			[]string{"command"},
		),
	}
}

func (m *Metrics) RecordLedgerCall(provider, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ledgerCallsTotal.WithLabelValues(provider, status).Inc()
	m.ledgerCallDuration.WithLabelValues(provider).Observe(durationSeconds)
}

func (m *Metrics) RecordLedgerRetry(provider string) {
	if m == nil {
		return
	}
	m.ledgerRetriesTotal.WithLabelValues(provider).Inc()
}

func (m *Metrics) RecordTransactions(newCount, seenCount int) {
	if m == nil {
		return
	}
	m.transactionsFetched.WithLabelValues("new").Add(float64(newCount))
	m.transactionsFetched.WithLabelValues("seen").Add(float64(seenCount))
}

func (m *Metrics) RecordPurchases(n int) {
	if m == nil {
		return
	}
	m.purchasesDetected.Add(float64(n))
}

// RecordNotification counts a delivery; outcome is "sent" or a failure class.
func (m *Metrics) RecordNotification(outcome string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetWatermark(position uint64) {
	if m == nil {
		return
	}
	m.watermark.Set(float64(position))
}

func (m *Metrics) RecordWatermarkReset() {
	if m == nil {
		return
	}
	m.watermarkResetsTotal.Inc()
}

func (m *Metrics) RecordTick(state, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.tickDuration.WithLabelValues(state, status).Observe(durationSeconds)
}

func (m *Metrics) RecordCommand(command string) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(command).Inc()
}
