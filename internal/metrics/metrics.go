// Package metrics exposes Prometheus collectors for the staging queue and
// the forwarder. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bft-labs/logship/internal/queue"
)

const namespace = "logship"

// QueueStats is satisfied by *queue.MessageQueue.
type QueueStats interface {
	Stats() queue.Stats
}

// Metrics holds the collectors of one logship instance on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	enqueued     prometheus.Counter
	rejected     *prometheus.CounterVec
	batches      *prometheus.CounterVec
	sendFailures prometheus.Counter
	messagesSent prometheus.Counter
	bytesSent    prometheus.Counter
	dropped      prometheus.Counter
	sendDuration prometheus.Histogram
}

// New creates the collectors and registers them, together with the Go
// runtime collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_enqueued_total",
			Help:      "Messages accepted into the staging queue.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_rejected_total",
			Help:      "Messages refused by the staging queue, by reason.",
		}, []string{"reason"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Batch assembly attempts, by outcome.",
		}, []string{"status"}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Batches the sender failed to deliver.",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages delivered downstream.",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Framed batch bytes delivered downstream.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Queued messages retired without delivery because they can never be batched.",
		}),
		sendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_duration_seconds",
			Help:      "Latency of batch sends.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.enqueued,
		m.rejected,
		m.batches,
		m.sendFailures,
		m.messagesSent,
		m.bytesSent,
		m.dropped,
		m.sendDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RegisterQueue exports occupancy gauges read from q on every scrape.
func (m *Metrics) RegisterQueue(q QueueStats) {
	if m == nil {
		return
	}
	gauge := func(name, help string, read func(queue.Stats) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(q.Stats())) })
	}
	m.registry.MustRegister(
		gauge("queue_length", "Messages currently staged.", func(s queue.Stats) int { return s.Length }),
		gauge("queue_capacity", "Maximum number of staged messages.", func(s queue.Stats) int { return s.Capacity }),
		gauge("pool_buffers_in_use", "Pooled buffers referenced by staged messages.", func(s queue.Stats) int { return s.BuffersInUse }),
		gauge("pool_chunks", "Chunks currently allocated by the buffer pool.", func(s queue.Stats) int { return s.PoolChunks }),
	)
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) MessageEnqueued() {
	if m == nil {
		return
	}
	m.enqueued.Inc()
}

func (m *Metrics) MessageRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) BatchAssembled(status string) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(status).Inc()
}

func (m *Metrics) BatchSent(messages, bytes int, took time.Duration) {
	if m == nil {
		return
	}
	m.messagesSent.Add(float64(messages))
	m.bytesSent.Add(float64(bytes))
	m.sendDuration.Observe(took.Seconds())
}

func (m *Metrics) SendFailed(took time.Duration) {
	if m == nil {
		return
	}
	m.sendFailures.Inc()
	m.sendDuration.Observe(took.Seconds())
}

func (m *Metrics) MessagesDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.dropped.Add(float64(n))
}
