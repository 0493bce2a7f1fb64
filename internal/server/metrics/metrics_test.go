package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue finds a sample by metric name and label values in reg.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			matched := 0
			for _, lp := range m.GetLabel() {
				if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
					matched++
				}
			}
			if matched == len(labels) {
				if c := m.GetCounter(); c != nil {
					return c.GetValue()
				}
				return m.GetGauge().GetValue()
			}
		}
	}
	return 0
}

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveChunkOp("put", time.Now(), nil)
	m.ObserveChunkOp("put", time.Now(), errors.New("x"))
	m.AddBytesIn(10)
	m.AddBytesOut(4)
	m.IncRetry("get")
	m.Upload(nil)
	m.Download(errors.New("x"))
	m.SyncEvent("upload", "incomplete")
	m.SetQueueDepth(7)

	assert.Equal(t, 1.0, counterValue(t, reg, "chunkvault_chunk_ops_total", map[string]string{"op": "put", "result": "ok"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "chunkvault_chunk_ops_total", map[string]string{"op": "put", "result": "error"}))
	assert.Equal(t, 10.0, counterValue(t, reg, "chunkvault_chunk_bytes_total", map[string]string{"direction": "in"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "chunkvault_retries_total", map[string]string{"op": "get"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "chunkvault_uploads_total", map[string]string{"result": "ok"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "chunkvault_downloads_total", map[string]string{"result": "error"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "chunkvault_sync_events_total", map[string]string{"type": "upload", "outcome": "incomplete"}))
	assert.Equal(t, 7.0, counterValue(t, reg, "chunkvault_sync_queue_depth", nil))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveChunkOp("get", time.Now(), nil)
		m.AddBytesIn(1)
		m.AddBytesOut(1)
		m.IncRetry("put")
		m.Upload(nil)
		m.Download(nil)
		m.SyncEvent("delete", "completed")
		m.SetQueueDepth(1)
	})
}

func TestDefault_Singleton(t *testing.T) {
	assert.Same(t, Default(), Default())
}
