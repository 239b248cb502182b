package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors exported by the engine. Registered on the default
// registry and served at /metrics.
var (
	CPUPercentGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "reliability",
		Name:      "system_cpu_percent",
		Help:      "Host CPU usage percent.",
	})
	MemoryPercentGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "reliability",
		Name:      "system_memory_percent",
		Help:      "Host memory usage percent.",
	})
	DiskPercentGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "reliability",
		Name:      "system_disk_percent",
		Help:      "Host disk usage percent.",
	})
	ErrorRateGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "reliability",
		Name:      "service_error_rate",
		Help:      "Request error rate over the rolling window.",
	})
	ThroughputGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "reliability",
		Name:      "service_requests_per_second",
		Help:      "Request throughput over the rolling window.",
	})
	OpenBreakersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "reliability",
		Name:      "circuit_breakers_open",
		Help:      "Number of circuit breakers currently open.",
	})
	IncidentsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reliability",
		Name:      "incidents_created_total",
		Help:      "Incidents created, by category.",
	}, []string{"category"})
	EventsProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "reliability",
		Name:      "events_processed_total",
		Help:      "Security events accepted for correlation.",
	})
	AlertsRaisedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reliability",
		Name:      "health_alerts_total",
		Help:      "Health threshold alerts raised, by type.",
	}, []string{"alert_type"})
)
