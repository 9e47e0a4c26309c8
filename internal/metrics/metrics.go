// Package metrics registers the Prometheus instruments shared by the
// serial link, subsystem managers, and MQTT bridge.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultShutdownTimeout bounds how long the metrics HTTP server waits
// for in-flight scrapes to finish during shutdown.
const DefaultShutdownTimeout = 5 * time.Second

// Registry holds every Prometheus instrument podcore exports.
type Registry struct {
	ProtocolErrors   *prometheus.CounterVec
	CommandRetries   *prometheus.CounterVec
	CommandFailures  *prometheus.CounterVec
	LinkDiscoveries  *prometheus.CounterVec
	LinkState        *prometheus.GaugeVec
	QueueDepth       *prometheus.GaugeVec
	PublishLatency   prometheus.Histogram
	PresenceFlips    *prometheus.CounterVec
}

// New creates and registers podcore's Prometheus instruments.
func New() *Registry {
	const namespace = "podcore"

	return &Registry{
		ProtocolErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Framing, checksum, or unknown-opcode errors by link",
		}, []string{"link"}),

		CommandRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_retries_total",
			Help:      "Command retries by link",
		}, []string{"link"}),

		CommandFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_failures_total",
			Help:      "Commands that exhausted their retries",
		}, []string{"link"}),

		LinkDiscoveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_discoveries_total",
			Help:      "Times a link re-entered baud discovery",
		}, []string{"link"}),

		LinkState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_state",
			Help:      "1 if the link is streaming/ready, 0 otherwise",
		}, []string{"link"}),

		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "command_queue_depth",
			Help:      "Pending commands per subsystem queue",
		}, []string{"link"}),

		PublishLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mqtt_publish_latency_seconds",
			Help:      "Time to publish a state change to MQTT",
			Buckets:   prometheus.DefBuckets,
		}),

		PresenceFlips: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_flips_total",
			Help:      "Presence state transitions by side",
		}, []string{"side"}),
	}
}
