package runtime

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordSubmitted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NoError(t, m.Register())

	m.recordSubmitted("app", 3, 300)
	m.recordSubmitted("app", 2, 200)

	sm := m.Stream("app")
	require.NotNil(t, sm)
	assert.Equal(t, uint64(5), sm.EventsSubmitted)
	assert.Equal(t, uint64(2), sm.BatchesSubmitted)
	assert.False(t, sm.LastSubmittedAt.IsZero())
}

func TestMetrics_RetriesAndFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NoError(t, m.Register())

	m.recordRetry("app", "not_found")
	m.recordRetry("app", "error")
	m.recordFailure("app")

	sm := m.Stream("app")
	require.NotNil(t, sm)
	assert.Equal(t, uint64(2), sm.Retries)
	assert.Equal(t, uint64(1), sm.FailedBatches)
}

func TestMetrics_DroppedTruncatedRejected(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NoError(t, m.Register())

	m.recordDropped("app", "after_shutdown")
	m.recordTruncated("app")
	m.recordRejected("app", 4)
	m.recordRejected("app", 0)

	sm := m.Stream("app")
	require.NotNil(t, sm)
	assert.Equal(t, uint64(1), sm.EventsDropped)
	assert.Equal(t, uint64(1), sm.EventsTruncated)
	assert.Equal(t, uint64(4), sm.EventsRejected)
}

func TestMetrics_QueueDepth(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NoError(t, m.Register())

	m.setQueueDepth("app", 7)

	assert.Equal(t, 7, m.Stream("app").QueueDepth)
}

func TestMetrics_Snapshot(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NoError(t, m.Register())

	m.recordSubmitted("a", 2, 100)
	m.recordSubmitted("b", 3, 100)
	m.recordFailure("b")
	m.recordDropped("a", "queue_full")

	snapshot := m.Snapshot()
	assert.Equal(t, uint64(5), snapshot.TotalEventsSubmitted)
	assert.Equal(t, uint64(1), snapshot.TotalFailedBatches)
	assert.Equal(t, uint64(1), snapshot.TotalEventsDropped)
	assert.Len(t, snapshot.Streams, 2)
	assert.False(t, snapshot.CollectedAt.IsZero())

	// The snapshot is a copy.
	snapshot.Streams["a"].EventsSubmitted = 100
	assert.Equal(t, uint64(2), m.Stream("a").EventsSubmitted)
}

func TestMetrics_RegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NoError(t, m.Register())
	require.NoError(t, m.Register())

	other := NewMetrics(reg)
	require.NoError(t, other.Register())
}

func TestMetrics_SecondRegistrationSharesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewMetrics(reg)
	require.NoError(t, first.Register())
	second := NewMetrics(reg)
	require.NoError(t, second.Register())

	first.recordSubmitted("app", 2, 100)
	second.recordSubmitted("app", 3, 100)
	second.recordDropped("app", "queue_full")

	assert.Equal(t, 5.0, gatheredCounter(t, reg, "logtower_delivery_events_submitted_total"))
	assert.Equal(t, 1.0, gatheredCounter(t, reg, "logtower_delivery_events_dropped_total"))
}

func TestMetrics_RegisterRejectsConflictingCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logtower",
		Subsystem: "delivery",
		Name:      "queue_depth",
		Help:      "Items waiting in a stream queue",
	}, []string{"stream"})))

	m := NewMetrics(reg)
	assert.Error(t, m.Register())
}

// gatheredCounter sums every series of a counter family in reg.
func gatheredCounter(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		var total float64
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
		return total
	}
	t.Fatalf("metric family %s not gathered", name)
	return 0
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics

	m.recordSubmitted("app", 1, 10)
	m.recordRetry("app", "error")
	m.recordFailure("app")
	m.recordDropped("app", "queue_full")
	m.recordTruncated("app")
	m.setQueueDepth("app", 1)

	assert.Nil(t, m.Stream("app"))
	assert.Empty(t, m.Snapshot().Streams)
}

func TestMetrics_UnknownStream(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	assert.Nil(t, m.Stream("missing"))
}
