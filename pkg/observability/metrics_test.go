package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.Published("drag", "magic_drag_move")
	m.Published("drag", "magic_drag_move")
	m.Dropped(DropSelfEcho)
	m.OnlinePeers(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.published.WithLabelValues("drag", "magic_drag_move")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped.WithLabelValues(DropSelfEcho)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.onlinePeers))

	n, err := testutil.GatherAndCount(reg)
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Published("a", "b")
		m.Received("a", "b")
		m.Dropped(DropInvalid)
		m.PublishError("a")
		m.Preview("created")
		m.OnlinePeers(1)
	})
}
