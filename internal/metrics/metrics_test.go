package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewMetricsOnIsolatedRegistries(t *testing.T) {
	a := NewMetrics(prometheus.NewRegistry())
	b := NewMetrics(prometheus.NewRegistry())

	a.FetchCycles.WithLabelValues("manual").Inc()
	a.MessagesProcessed.WithLabelValues("created").Add(2)

	assert.Equal(t, float64(1), testutil.ToFloat64(a.FetchCycles.WithLabelValues("manual")))
	assert.Equal(t, float64(2), testutil.ToFloat64(a.MessagesProcessed.WithLabelValues("created")))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.FetchCycles.WithLabelValues("manual")))
}
