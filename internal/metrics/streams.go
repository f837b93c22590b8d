// Package metrics provides Prometheus metrics for supervised streams and the
// housekeeper.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hlsrelay"

var (
	streamStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "status",
		Help:      "1 for the current lifecycle status of a stream",
	}, []string{"stream_id", "status"})

	streamHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "health",
		Help:      "1 for the current health classification of a stream",
	}, []string{"stream_id", "health"})

	streamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "errors_total",
		Help:      "Errors recorded per stream and category",
	}, []string{"stream_id", "category"})

	streamReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "reconnects_total",
		Help:      "Reconnect attempts scheduled",
	}, []string{"stream_id"})

	streamReconnectsExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "reconnects_exhausted_total",
		Help:      "Times the reconnect budget ran out",
	}, []string{"stream_id"})

	streamUptime = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "uptime_seconds",
		Help:      "Seconds since the current transcoder started",
	}, []string{"stream_id"})

	streamRestarts = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "restarts",
		Help:      "Automatic restarts since the last manual start",
	}, []string{"stream_id"})

	// Local cache for SSE exporter access.
	streamCache   = make(map[string]*StreamMetrics)
	streamCacheMu sync.RWMutex
)

var (
	statuses = []string{"stopped", "starting", "running", "error"}
	healths  = []string{"unknown", "good", "degraded", "poor", "failed"}
)

// StreamMetrics holds current metric values for a stream.
type StreamMetrics struct {
	Status     string
	Health     string
	Uptime     float64
	Restarts   float64
	Errors     float64
	Reconnects float64
}

// SetStreamStatus marks status as the current one for a stream.
func SetStreamStatus(streamID, status string) {
	setOneHot(streamStatus, streamID, status, statuses)
	updateCache(streamID, func(m *StreamMetrics) { m.Status = status })
}

// SetStreamHealth marks health as the current one for a stream.
func SetStreamHealth(streamID, health string) {
	setOneHot(streamHealth, streamID, health, healths)
	updateCache(streamID, func(m *StreamMetrics) { m.Health = health })
}

// IncStreamError counts one error of category.
func IncStreamError(streamID, category string) {
	streamErrors.WithLabelValues(streamID, category).Inc()
	updateCache(streamID, func(m *StreamMetrics) { m.Errors++ })
}

// IncStreamReconnect counts one scheduled reconnect attempt.
func IncStreamReconnect(streamID string) {
	streamReconnects.WithLabelValues(streamID).Inc()
	updateCache(streamID, func(m *StreamMetrics) { m.Reconnects++ })
}

// IncStreamReconnectExhausted counts one exhausted reconnect budget.
func IncStreamReconnectExhausted(streamID string) {
	streamReconnectsExhausted.WithLabelValues(streamID).Inc()
}

// SetStreamRuntime sets the uptime and restart gauges.
func SetStreamRuntime(streamID string, uptimeSeconds, restarts float64) {
	streamUptime.WithLabelValues(streamID).Set(uptimeSeconds)
	streamRestarts.WithLabelValues(streamID).Set(restarts)
	updateCache(streamID, func(m *StreamMetrics) {
		m.Uptime = uptimeSeconds
		m.Restarts = restarts
	})
}

// DeleteStreamMetrics removes all metrics for a stream.
func DeleteStreamMetrics(streamID string) {
	labels := prometheus.Labels{"stream_id": streamID}
	streamStatus.DeletePartialMatch(labels)
	streamHealth.DeletePartialMatch(labels)
	streamErrors.DeletePartialMatch(labels)
	streamReconnects.DeleteLabelValues(streamID)
	streamReconnectsExhausted.DeleteLabelValues(streamID)
	streamUptime.DeleteLabelValues(streamID)
	streamRestarts.DeleteLabelValues(streamID)

	streamCacheMu.Lock()
	delete(streamCache, streamID)
	streamCacheMu.Unlock()
}

// GetStreamMetrics returns current metric values for a stream.
func GetStreamMetrics(streamID string) *StreamMetrics {
	streamCacheMu.RLock()
	defer streamCacheMu.RUnlock()
	if m, ok := streamCache[streamID]; ok {
		dup := *m
		return &dup
	}
	return nil
}

// GetAllStreamMetrics returns metrics for all known streams.
func GetAllStreamMetrics() map[string]*StreamMetrics {
	streamCacheMu.RLock()
	defer streamCacheMu.RUnlock()
	result := make(map[string]*StreamMetrics, len(streamCache))
	for id, m := range streamCache {
		dup := *m
		result[id] = &dup
	}
	return result
}

func setOneHot(vec *prometheus.GaugeVec, streamID, current string, values []string) {
	for _, v := range values {
		val := 0.0
		if v == current {
			val = 1
		}
		vec.WithLabelValues(streamID, v).Set(val)
	}
}

func updateCache(streamID string, update func(*StreamMetrics)) {
	streamCacheMu.Lock()
	defer streamCacheMu.Unlock()
	m, ok := streamCache[streamID]
	if !ok {
		m = &StreamMetrics{}
		streamCache[streamID] = m
	}
	update(m)
}
