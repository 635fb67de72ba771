package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "mediacatalog"

var (
	filesReservedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "files",
		Name:      "reserved_total",
		Help:      "Upload slots reserved",
	})

	filesAttachedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "files",
		Name:      "attached_total",
		Help:      "Files moved to used by attach",
	})

	filesReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "files",
		Name:      "released_total",
		Help:      "File records deleted by release",
	})

	filesReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "files",
		Name:      "reclaimed_total",
		Help:      "Orphaned pending records deleted by the sweep",
	})

	// storageFailuresTotal 按操作统计对象存储失败次数
	storageFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "storage",
		Name:      "failures_total",
		Help:      "Object storage calls that failed",
	}, []string{"operation"})

	reclaimDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "files",
		Name:      "reclaim_duration_seconds",
		Help:      "Duration of orphan reclaim sweeps",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})
)
