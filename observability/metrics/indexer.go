package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// IndexerMetrics tracks the accounting engine and the syncer.
type IndexerMetrics struct {
	eventsApplied  *prometheus.CounterVec
	eventFailures  *prometheus.CounterVec
	eventsSkipped  *prometheus.CounterVec
	queryReverts   *prometheus.CounterVec
	applyLatency   *prometheus.HistogramVec
	reorgs         prometheus.Counter
	reorgDepth     prometheus.Histogram
	lastBlock      prometheus.Gauge
	headLag        prometheus.Gauge
	settlementDust *prometheus.CounterVec
}

var (
	indexerOnce     sync.Once
	indexerRegistry *IndexerMetrics
)

// Indexer returns the process-wide indexer collectors, registering them on first
// use.
func Indexer() *IndexerMetrics {
	indexerOnce.Do(func() {
		indexerRegistry = &IndexerMetrics{
			eventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditindexer",
				Subsystem: "engine",
				Name:      "events_applied_total",
				Help:      "Count of events applied to the entity store by event name.",
			}, []string{"event"}),
			eventFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditindexer",
				Subsystem: "engine",
				Name:      "event_failures_total",
				Help:      "Count of events whose application was aborted, by reason.",
			}, []string{"event", "reason"}),
			eventsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditindexer",
				Subsystem: "engine",
				Name:      "events_skipped_total",
				Help:      "Count of stream items ignored by the engine, by reason.",
			}, []string{"reason"}),
			queryReverts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditindexer",
				Subsystem: "engine",
				Name:      "query_reverts_total",
				Help:      "Count of reverted read-only contract queries by method.",
			}, []string{"method"}),
			applyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "creditindexer",
				Subsystem: "engine",
				Name:      "apply_duration_seconds",
				Help:      "Latency distribution for applying one event.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"event"}),
			reorgs: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "creditindexer",
				Subsystem: "syncer",
				Name:      "reorgs_total",
				Help:      "Count of chain reorganisations rewound.",
			}),
			reorgDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "creditindexer",
				Subsystem: "syncer",
				Name:      "reorg_depth_blocks",
				Help:      "Depth in blocks of rewound reorganisations.",
				Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
			}),
			lastBlock: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "creditindexer",
				Subsystem: "syncer",
				Name:      "last_applied_block",
				Help:      "Height of the last fully applied block.",
			}),
			headLag: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "creditindexer",
				Subsystem: "syncer",
				Name:      "head_lag_blocks",
				Help:      "Distance between the confirmed head and the cursor.",
			}),
			settlementDust: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditindexer",
				Subsystem: "withdrawals",
				Name:      "dust_absorbed_total",
				Help:      "Count of withdrawal requests whose residual was absorbed at settlement.",
			}, []string{"epoch"}),
		}
		prometheus.MustRegister(
			indexerRegistry.eventsApplied,
			indexerRegistry.eventFailures,
			indexerRegistry.eventsSkipped,
			indexerRegistry.queryReverts,
			indexerRegistry.applyLatency,
			indexerRegistry.reorgs,
			indexerRegistry.reorgDepth,
			indexerRegistry.lastBlock,
			indexerRegistry.headLag,
			indexerRegistry.settlementDust,
		)
	})
	return indexerRegistry
}

func label(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func (m *IndexerMetrics) ObserveApplied(event string, seconds float64) {
	if m == nil {
		return
	}
	event = label(event, "unknown")
	m.eventsApplied.WithLabelValues(event).Inc()
	m.applyLatency.WithLabelValues(event).Observe(seconds)
}

func (m *IndexerMetrics) ObserveFailure(event, reason string) {
	if m == nil {
		return
	}
	m.eventFailures.WithLabelValues(label(event, "unknown"), label(reason, "unspecified")).Inc()
}

func (m *IndexerMetrics) ObserveSkipped(reason string) {
	if m == nil {
		return
	}
	m.eventsSkipped.WithLabelValues(label(reason, "unspecified")).Inc()
}

func (m *IndexerMetrics) ObserveRevert(method string) {
	if m == nil {
		return
	}
	m.queryReverts.WithLabelValues(label(method, "unknown")).Inc()
}

func (m *IndexerMetrics) ObserveReorg(depth uint64) {
	if m == nil {
		return
	}
	m.reorgs.Inc()
	m.reorgDepth.Observe(float64(depth))
}

func (m *IndexerMetrics) SetLastBlock(n uint64) {
	if m == nil {
		return
	}
	m.lastBlock.Set(float64(n))
}

func (m *IndexerMetrics) SetHeadLag(blocks uint64) {
	if m == nil {
		return
	}
	m.headLag.Set(float64(blocks))
}

func (m *IndexerMetrics) ObserveDustAbsorbed(epoch string) {
	if m == nil {
		return
	}
	m.settlementDust.WithLabelValues(label(epoch, "unknown")).Inc()
}
