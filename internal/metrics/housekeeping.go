package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	housekeepingRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "housekeeping",
		Name:      "runs_total",
		Help:      "Completed cleanup passes",
	})

	housekeepingRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "housekeeping",
		Name:      "removed_total",
		Help:      "Items removed by kind (segment, directory, preview)",
	}, []string{"kind"})

	housekeepingFreed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "housekeeping",
		Name:      "freed_bytes_total",
		Help:      "Bytes reclaimed by cleanup passes",
	})
)

// RecordHousekeeping accounts one cleanup pass.
func RecordHousekeeping(segments, dirs, previews int, freedBytes int64) {
	housekeepingRuns.Inc()
	housekeepingRemoved.WithLabelValues("segment").Add(float64(segments))
	housekeepingRemoved.WithLabelValues("directory").Add(float64(dirs))
	housekeepingRemoved.WithLabelValues("preview").Add(float64(previews))
	housekeepingFreed.Add(float64(freedBytes))
}
