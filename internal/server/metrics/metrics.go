// Package metrics exposes Prometheus metrics for chunk I/O and the
// upload, download and sync pipelines.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chunkvault"

var (
	defaultOnce     sync.Once
	defaultInstance *Metrics
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ChunkOps        *prometheus.CounterVec   // chunkvault_chunk_ops_total{op,result}
	ChunkOpDuration *prometheus.HistogramVec // chunkvault_chunk_op_duration_seconds{op}
	ChunkBytes      *prometheus.CounterVec   // chunkvault_chunk_bytes_total{direction}
	Retries         *prometheus.CounterVec   // chunkvault_retries_total{op}

	Uploads   *prometheus.CounterVec // chunkvault_uploads_total{result}
	Downloads *prometheus.CounterVec // chunkvault_downloads_total{result}

	SyncEvents     *prometheus.CounterVec // chunkvault_sync_events_total{type,outcome}
	SyncQueueDepth prometheus.Gauge       // chunkvault_sync_queue_depth
}

// New registers a fresh set of collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ChunkOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_ops_total",
			Help:      "Chunk store operations by operation and result",
		}, []string{"op", "result"}),

		ChunkOpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_op_duration_seconds",
			Help:      "Chunk store operation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),

		ChunkBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_bytes_total",
			Help:      "Bytes written to (in) and read from (out) the chunk store",
		}, []string{"direction"}),

		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retried chunk and manifest calls",
		}, []string{"op"}),

		Uploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Finished uploads by result",
		}, []string{"result"}),

		Downloads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Finished downloads by result",
		}, []string{"result"}),

		SyncEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_events_total",
			Help:      "Processed sync events by type and outcome",
		}, []string{"type", "outcome"}),

		SyncQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_queue_depth",
			Help:      "Sync events waiting for a worker",
		}),
	}
}

// Default returns the process-wide instance registered with the default
// registerer. It is created on first use.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultInstance = New(prometheus.DefaultRegisterer)
	})
	return defaultInstance
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveChunkOp records one chunk store call.
func (m *Metrics) ObserveChunkOp(op string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.ChunkOps.WithLabelValues(op, result(err)).Inc()
	m.ChunkOpDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func (m *Metrics) AddBytesIn(n int) {
	if m == nil {
		return
	}
	m.ChunkBytes.WithLabelValues("in").Add(float64(n))
}

func (m *Metrics) AddBytesOut(n int) {
	if m == nil {
		return
	}
	m.ChunkBytes.WithLabelValues("out").Add(float64(n))
}

func (m *Metrics) IncRetry(op string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(op).Inc()
}

func (m *Metrics) Upload(err error) {
	if m == nil {
		return
	}
	m.Uploads.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) Download(err error) {
	if m == nil {
		return
	}
	m.Downloads.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) SyncEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.SyncEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.SyncQueueDepth.Set(float64(n))
}
