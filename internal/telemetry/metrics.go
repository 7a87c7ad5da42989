// Package telemetry exposes Prometheus instrumentation for the sync core.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters are labeled by store kind ("model", "queryset", "metric") and the
// model name. All updates happen under the owning store's lock, so there is a
// single writer per label set.
var (
	RendersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ormbridge",
			Subsystem: "store",
			Name:      "renders_total",
			Help:      "Optimistic renders served.",
		},
		[]string{"kind", "model"},
	)

	SyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ormbridge",
			Subsystem: "store",
			Name:      "syncs_total",
			Help:      "Successful ground-truth syncs.",
		},
		[]string{"kind", "model"},
	)

	SyncErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ormbridge",
			Subsystem: "store",
			Name:      "sync_errors_total",
			Help:      "Syncs that failed and left state untouched.",
		},
		[]string{"kind", "model"},
	)

	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ormbridge",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Operations appended to store logs.",
		},
		[]string{"model", "type"},
	)

	OperationsTrimmedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ormbridge",
			Subsystem: "store",
			Name:      "operations_trimmed_total",
			Help:      "Operations removed by the staleness trim.",
		},
		[]string{"kind", "model"},
	)
)
