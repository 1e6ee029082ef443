package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rl1809/tablesync/internal/core/domain"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	syncOutcomes       *prometheus.CounterVec
	concurrentEdits    prometheus.Counter
	mergeDuration      prometheus.Histogram
	amendmentResponses *prometheus.CounterVec
	stockMovements     *prometheus.CounterVec
	notifications      *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		syncOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tablesync_sync_outcomes_total",
			Help: "Per-order outcomes of sync batches.",
		}, []string{"outcome"}),
		concurrentEdits: f.NewCounter(prometheus.CounterOpts{
			Name: "tablesync_concurrent_edits_total",
			Help: "Syncs discarded because the device clock was concurrent with the server clock.",
		}),
		mergeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tablesync_merge_duration_seconds",
			Help:    "Time to lock, merge and persist one order.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		amendmentResponses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tablesync_amendment_responses_total",
			Help: "Kitchen responses to proposed amendments.",
		}, []string{"decision"}),
		stockMovements: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tablesync_stock_units_total",
			Help: "Stock units consumed or restored by order changes.",
		}, []string{"direction"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tablesync_notifications_total",
			Help: "Notification deliveries by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) observeSync(status SyncStatus, started time.Time) {
	if m == nil {
		return
	}
	m.syncOutcomes.WithLabelValues(string(status)).Inc()
	m.mergeDuration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) observeConcurrent() {
	if m == nil {
		return
	}
	m.concurrentEdits.Inc()
}

func (m *Metrics) observeAmendment(decision string) {
	if m == nil {
		return
	}
	m.amendmentResponses.WithLabelValues(decision).Inc()
}

func (m *Metrics) observeStock(deltas []domain.StockDelta) {
	if m == nil {
		return
	}
	for _, d := range deltas {
		if d.Consumed > 0 {
			m.stockMovements.WithLabelValues("consumed").Add(float64(d.Consumed))
		} else {
			m.stockMovements.WithLabelValues("restored").Add(float64(-d.Consumed))
		}
	}
}

func (m *Metrics) observeNotification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}
