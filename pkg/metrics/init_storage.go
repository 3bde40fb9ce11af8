package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// initStorageMetrics covers the result archive, run history and step
// publisher backends
func (r *Registry) initStorageMetrics() {
	r.StorageOperationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridsim_storage_operations_total",
			Help: "Total number of archive and history operations",
		},
		[]string{"backend", "operation", "status"},
	)

	r.StorageOperationDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridsim_storage_operation_duration_seconds",
			Help:    "Archive and history operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"backend", "operation"},
	)

	r.ArchiveBytes = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gridsim_archive_object_bytes",
			Help:    "Compressed size of archived result sets",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)

	r.PublishedMessagesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridsim_published_messages_total",
			Help: "Messages forwarded to the external publisher",
		},
		[]string{"type", "status"},
	)
}
