package assess

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

var (
	metricsOnce   sync.Once
	sharedMetrics *runMetrics
)

type runMetrics struct {
	attempts metric.Int64Counter
}

func assessMetrics() *runMetrics {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("creditindexer/assess")
		counter, err := meter.Int64Counter("creditindexer.assess.attempts",
			metric.WithDescription("assess() transactions by outcome"))
		if err != nil {
			fallback := noop.NewMeterProvider().Meter("creditindexer/assess")
			counter, _ = fallback.Int64Counter("creditindexer.assess.attempts")
		}
		sharedMetrics = &runMetrics{attempts: counter}
	})
	return sharedMetrics
}

func (m *runMetrics) record(outcome string) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
