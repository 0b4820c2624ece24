package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	received *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the registry counting raw contract events pulled from the chain.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			received: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditindexer",
				Subsystem: "source",
				Name:      "events_received_total",
				Help:      "Count of contract events received from the chain segmented by event name.",
			}, []string{"event"}),
		}
		prometheus.MustRegister(eventRegistry.received)
	})
	return eventRegistry
}

// RecordReceived increments the counter for the supplied event name.
func (m *eventMetrics) RecordReceived(name string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(name)
	if normalized == "" {
		normalized = "unknown"
	}
	m.received.WithLabelValues(normalized).Inc()
}
