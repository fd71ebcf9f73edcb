package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Async audit writer metrics
	auditQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qcloud_gateway_audit_queue_depth",
		Help: "Current depth of the async audit write queue",
	})

	auditQueueCapacity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qcloud_gateway_audit_queue_capacity",
		Help: "Total capacity of the async audit write queue",
	})

	auditWriteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qcloud_gateway_audit_write_errors_total",
		Help: "Total number of failed audit writes",
	}, []string{"error_type"})

	// Action metrics
	actionsInvoked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qcloud_gateway_actions_total",
		Help: "Total number of actions received by the gateway",
	}, []string{"mode", "result"})

	// System health
	healthStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qcloud_gateway_health_status",
		Help: "Health status (1=healthy, 0=unhealthy)",
	})
)

// RecordAction records one action request. mode is sync, cached or async.
func RecordAction(mode, result string) {
	actionsInvoked.WithLabelValues(mode, result).Inc()
}

// UpdateHealthMetric updates the health status metric
func UpdateHealthMetric(healthy bool) {
	if healthy {
		healthStatus.Set(1)
		return
	}
	healthStatus.Set(0)
}

// InitializeAuditMetrics initializes async writer metrics
func InitializeAuditMetrics(queueCapacity int) {
	auditQueueCapacity.Set(float64(queueCapacity))
	auditQueueDepth.Set(0)
}
