package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestIndexerCollectors(t *testing.T) {
	m := Indexer()
	require.Same(t, m, Indexer())

	m.ObserveApplied("DepositMade", 0.01)
	m.ObserveApplied("DepositMade", 0.02)
	require.Equal(t, float64(2), testutil.ToFloat64(m.eventsApplied.WithLabelValues("DepositMade")))

	m.ObserveFailure("", "")
	require.Equal(t, float64(1), testutil.ToFloat64(m.eventFailures.WithLabelValues("unknown", "unspecified")))

	m.SetLastBlock(120)
	require.Equal(t, float64(120), testutil.ToFloat64(m.lastBlock))

	var nilMetrics *IndexerMetrics
	nilMetrics.ObserveReorg(3)
}
