// Package metrics defines the Prometheus collectors exposed on the
// internal listener.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var start = time.Now()

var (
	// InferenceLatency tracks VLA inference latency. Buckets cover the
	// 20-200ms band typical for action-chunk prediction.
	InferenceLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "vla_inference_latency_seconds",
		Help: "VLA inference latency in seconds.",
		Buckets: []float64{
			0.005, 0.01, 0.02, 0.03, 0.04, 0.05, 0.075,
			0.1, 0.15, 0.2, 0.3, 0.5, 1.0, 2.0, 5.0,
		},
	}, []string{"model_type", "embodiment"})

	// InferenceRequests counts inference calls by outcome.
	InferenceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vla_inference_requests_total",
		Help: "Total VLA inference requests.",
	}, []string{"model_type", "status"})

	// BatchSize tracks the distribution of batched inference sizes.
	BatchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vla_batch_size",
		Help:    "Inference batch size distribution.",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
	}, []string{"model_type"})

	// ModelInfo carries the loaded model's identity as labels, set to 1.
	ModelInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vla_model_info",
		Help: "Currently loaded VLA model.",
	}, []string{"model_name", "model_version", "base_model"})

	// WSConnections gauges open WebSocket connections per channel.
	WSConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_ws_connections",
		Help: "Open WebSocket connections by channel.",
	}, []string{"channel"})

	// TelemetrySamples counts ingested robot telemetry samples.
	TelemetrySamples = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_telemetry_samples_total",
		Help: "Telemetry samples ingested.",
	})

	// Commands counts robot commands by status transition.
	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_commands_total",
		Help: "Robot command status transitions.",
	}, []string{"status"})

	// TaskEvents counts A2A task events ingested by type.
	TaskEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_task_events_total",
		Help: "A2A task events ingested.",
	}, []string{"type"})

	// AlertsFired counts fired alert rules.
	AlertsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_alerts_fired_total",
		Help: "Alerts fired by rule.",
	}, []string{"rule"})

	// SyntheticJobs counts synthetic generation jobs reaching a terminal
	// status.
	SyntheticJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_synthetic_jobs_total",
		Help: "Synthetic generation jobs by terminal status.",
	}, []string{"status"})

	// JournalErrors counts failed Kafka journal publishes.
	JournalErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_journal_errors_total",
		Help: "Failed event journal publishes.",
	})

	// Uptime reports seconds since process start.
	Uptime = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "fleet_uptime_seconds",
		Help: "Seconds since the service started.",
	}, func() float64 {
		return time.Since(start).Seconds()
	})
)
