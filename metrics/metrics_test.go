package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterAndGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	SetRegisterer(reg)
	defer SetRegisterer(prometheus.DefaultRegisterer)

	IncrCounter("net", "connection_open_total")
	IncrCounter("net", "connection_open_total")
	UpdateGauge("net", "current_connections", 3)

	families, err := reg.Gather()
	require.NoError(t, err)

	found := map[string]bool{}
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	assert.True(t, found["net_connection_open_total"])
	assert.True(t, found["net_current_connections"])

	c := testutil.ToFloat64(func() prometheus.Collector {
		_store.mu.Lock()
		defer _store.mu.Unlock()
		return _store.counters["net_connection_open_total"]
	}())
	assert.Equal(t, float64(2), c)
}

func TestCounterWithDimensions(t *testing.T) {
	reg := prometheus.NewRegistry()
	SetRegisterer(reg)
	defer SetRegisterer(prometheus.DefaultRegisterer)

	IncrCounterWithDim("net", "close_total", Dimension{"reason": "heartbeat-timeout"})
	IncrCounterWithDim("net", "close_total", Dimension{"reason": "shutdown"})
	IncrCounterWithDim("net", "close_total", Dimension{"reason": "shutdown"})

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "net_close_total", families[0].GetName())
	assert.Len(t, families[0].GetMetric(), 2)
}

func TestStopwatchObserves(t *testing.T) {
	reg := prometheus.NewRegistry()
	SetRegisterer(reg)
	defer SetRegisterer(prometheus.DefaultRegisterer)

	RecordStopwatch("session", "turn_process_time", time.Now().Add(-time.Millisecond))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	require.Equal(t, uint64(1), families[0].GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestGroupNameMangling(t *testing.T) {
	assert.Equal(t, "net_stateful_queue_length", fqName("net.stateful", "queue_length"))
}
