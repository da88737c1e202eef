package runtime

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks delivery statistics per stream. A nil *Metrics records
// nothing.
type Metrics struct {
	mu sync.RWMutex

	streams map[string]*StreamMetrics

	eventsSubmitted  *prometheus.CounterVec
	batchesSubmitted *prometheus.CounterVec
	retries          *prometheus.CounterVec
	failures         *prometheus.CounterVec
	rejected         *prometheus.CounterVec
	dropped          *prometheus.CounterVec
	truncated        *prometheus.CounterVec
	queueDepth       *prometheus.GaugeVec
	batchBytes       *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

// StreamMetrics holds the counters of one stream.
type StreamMetrics struct {
	EventsSubmitted  uint64    `json:"events_submitted"`
	BatchesSubmitted uint64    `json:"batches_submitted"`
	Retries          uint64    `json:"retries"`
	FailedBatches    uint64    `json:"failed_batches"`
	EventsRejected   uint64    `json:"events_rejected"`
	EventsDropped    uint64    `json:"events_dropped"`
	EventsTruncated  uint64    `json:"events_truncated"`
	QueueDepth       int       `json:"queue_depth"`
	LastSubmittedAt  time.Time `json:"last_submitted_at,omitempty"`
	LastUpdatedAt    time.Time `json:"last_updated_at"`
}

// MetricsSnapshot is a point-in-time view of all streams.
type MetricsSnapshot struct {
	TotalEventsSubmitted uint64                    `json:"total_events_submitted"`
	TotalFailedBatches   uint64                    `json:"total_failed_batches"`
	TotalEventsDropped   uint64                    `json:"total_events_dropped"`
	Streams              map[string]*StreamMetrics `json:"streams"`
	CollectedAt          time.Time                 `json:"collected_at"`
}

func newDeliveryCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logtower",
			Subsystem: "delivery",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics creates the collectors. They are not registered until Register
// is called.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		streams:          make(map[string]*StreamMetrics),
		registerer:       registerer,
		eventsSubmitted:  newDeliveryCounterVec("events_submitted_total", "Log events accepted by CloudWatch Logs", []string{"stream"}),
		batchesSubmitted: newDeliveryCounterVec("batches_submitted_total", "PutLogEvents batches accepted by CloudWatch Logs", []string{"stream"}),
		retries:          newDeliveryCounterVec("retries_total", "PutLogEvents attempts that were retried", []string{"stream", "reason"}),
		failures:         newDeliveryCounterVec("failures_total", "Batches abandoned after exhausting retries", []string{"stream"}),
		rejected:         newDeliveryCounterVec("events_rejected_total", "Log events refused by the service in an accepted batch", []string{"stream"}),
		dropped:          newDeliveryCounterVec("events_dropped_total", "Log events dropped before reaching a queue", []string{"stream", "reason"}),
		truncated:        newDeliveryCounterVec("events_truncated_total", "Log events truncated to the maximum message size", []string{"stream"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "logtower",
			Subsystem: "delivery",
			Name:      "queue_depth",
			Help:      "Items waiting in a stream queue",
		}, []string{"stream"}),
		batchBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "logtower",
			Subsystem: "delivery",
			Name:      "batch_size_bytes",
			Help:      "Size of submitted batches including per-event overhead",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		}, []string{"stream"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
// When another Metrics already registered the same collectors, they are
// adopted so both record into what the registry exports.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}
	if err := errors.Join(
		register(m.registerer, &m.eventsSubmitted),
		register(m.registerer, &m.batchesSubmitted),
		register(m.registerer, &m.retries),
		register(m.registerer, &m.failures),
		register(m.registerer, &m.rejected),
		register(m.registerer, &m.dropped),
		register(m.registerer, &m.truncated),
		register(m.registerer, &m.queueDepth),
		register(m.registerer, &m.batchBytes),
	); err != nil {
		return err
	}
	m.registered = true
	return nil
}

func register[C prometheus.Collector](registerer prometheus.Registerer, c *C) error {
	err := registerer.Register(*c)
	if err == nil {
		return nil
	}
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return err
	}
	existing, ok := are.ExistingCollector.(C)
	if !ok {
		return fmt.Errorf("metrics: collector registered with a different type: %w", err)
	}
	*c = existing
	return nil
}

func (m *Metrics) recordSubmitted(stream string, events, bytes int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sm := m.streamLocked(stream)
	sm.EventsSubmitted += uint64(events)
	sm.BatchesSubmitted++
	sm.LastSubmittedAt = time.Now()
	sm.LastUpdatedAt = sm.LastSubmittedAt

	m.eventsSubmitted.WithLabelValues(stream).Add(float64(events))
	m.batchesSubmitted.WithLabelValues(stream).Inc()
	m.batchBytes.WithLabelValues(stream).Observe(float64(bytes))
}

func (m *Metrics) recordRetry(stream, reason string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sm := m.streamLocked(stream)
	sm.Retries++
	sm.LastUpdatedAt = time.Now()
	m.retries.WithLabelValues(stream, reason).Inc()
}

func (m *Metrics) recordFailure(stream string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sm := m.streamLocked(stream)
	sm.FailedBatches++
	sm.LastUpdatedAt = time.Now()
	m.failures.WithLabelValues(stream).Inc()
}

func (m *Metrics) recordRejected(stream string, events int) {
	if m == nil || events <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sm := m.streamLocked(stream)
	sm.EventsRejected += uint64(events)
	sm.LastUpdatedAt = time.Now()
	m.rejected.WithLabelValues(stream).Add(float64(events))
}

func (m *Metrics) recordDropped(stream, reason string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sm := m.streamLocked(stream)
	sm.EventsDropped++
	sm.LastUpdatedAt = time.Now()
	m.dropped.WithLabelValues(stream, reason).Inc()
}

func (m *Metrics) recordTruncated(stream string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sm := m.streamLocked(stream)
	sm.EventsTruncated++
	sm.LastUpdatedAt = time.Now()
	m.truncated.WithLabelValues(stream).Inc()
}

func (m *Metrics) setQueueDepth(stream string, depth int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.streamLocked(stream).QueueDepth = depth
	m.queueDepth.WithLabelValues(stream).Set(float64(depth))
}

// Snapshot returns a copy of the per-stream counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snapshot := MetricsSnapshot{
		Streams:     make(map[string]*StreamMetrics),
		CollectedAt: time.Now(),
	}
	if m == nil {
		return snapshot
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, sm := range m.streams {
		c := *sm
		snapshot.Streams[name] = &c
		snapshot.TotalEventsSubmitted += sm.EventsSubmitted
		snapshot.TotalFailedBatches += sm.FailedBatches
		snapshot.TotalEventsDropped += sm.EventsDropped
	}
	return snapshot
}

// Stream returns a copy of the counters of one stream, or nil.
func (m *Metrics) Stream(name string) *StreamMetrics {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if sm, ok := m.streams[name]; ok {
		c := *sm
		return &c
	}
	return nil
}

func (m *Metrics) streamLocked(name string) *StreamMetrics {
	if sm, ok := m.streams[name]; ok {
		return sm
	}
	sm := &StreamMetrics{}
	m.streams[name] = sm
	return sm
}
