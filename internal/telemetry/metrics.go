package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Executor / action metrics.
var (
	ActionExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forgehost",
			Subsystem: "executor",
			Name:      "actions_total",
			Help:      "Total number of action executions by action_type and outcome.",
		},
		[]string{"action_type", "status"},
	)

	ActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "forgehost",
			Subsystem: "executor",
			Name:      "action_duration_seconds",
			Help:      "Duration of a single action execution attempt in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 15, 30, 60, 120},
		},
		[]string{"action_type"},
	)

	RollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forgehost",
			Subsystem: "executor",
			Name:      "rollbacks_total",
			Help:      "Total number of rollback attempts by action_type and outcome.",
		},
		[]string{"action_type", "outcome"},
	)
)

// Provisioning metrics.
var (
	ProvisioningDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "forgehost",
			Subsystem: "provision",
			Name:      "duration_seconds",
			Help:      "End-to-end duration of workspace provisioning in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	ProvisioningOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forgehost",
			Subsystem: "provision",
			Name:      "outcomes_total",
			Help:      "Total number of provisioning attempts by outcome.",
		},
		[]string{"outcome"},
	)

	PortsAllocatedGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "forgehost",
			Subsystem: "provision",
			Name:      "ports_allocated",
			Help:      "Number of ports currently reserved by workspaces.",
		},
	)

	ProvisionQueueDepthGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "forgehost",
			Subsystem: "provision",
			Name:      "queue_depth",
			Help:      "Number of reserved workspaces awaiting a free dispatcher worker.",
		},
	)
)

// Lifecycle controller metrics.
var (
	AutoStopSweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "forgehost",
			Subsystem: "lifecycle",
			Name:      "auto_stop_sweeps_total",
			Help:      "Total number of auto-stop scheduler sweeps run.",
		},
	)

	AutoStoppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "forgehost",
			Subsystem: "lifecycle",
			Name:      "auto_stopped_total",
			Help:      "Total number of workspaces stopped by the auto-stop scheduler.",
		},
	)

	MetricsCollectionErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "forgehost",
			Subsystem: "lifecycle",
			Name:      "metrics_collection_errors_total",
			Help:      "Total number of errors collecting per-workspace metrics.",
		},
	)
)

// Billing metrics.
var (
	PaymentCallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forgehost",
			Subsystem: "billing",
			Name:      "callbacks_total",
			Help:      "Total number of payment gateway callbacks received, by outcome.",
		},
		[]string{"outcome"},
	)

	InvoicesGeneratedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "forgehost",
			Subsystem: "billing",
			Name:      "invoices_generated_total",
			Help:      "Total number of invoices generated.",
		},
	)
)

// All returns every forgehost metric collector for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		ActionExecutionsTotal,
		ActionDuration,
		RollbacksTotal,
		ProvisioningDuration,
		ProvisioningOutcomesTotal,
		PortsAllocatedGauge,
		ProvisionQueueDepthGauge,
		AutoStopSweepsTotal,
		AutoStoppedTotal,
		MetricsCollectionErrorsTotal,
		PaymentCallbacksTotal,
		InvoicesGeneratedTotal,
	}
}
