// Package metrics defines the Prometheus instrumentation shared by the
// UDP transport and settlement layers, promoted from an
// indirectly-pulled dependency to a direct one per SPEC_FULL.md §2.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transport bundles the UDP sender/receiver counters for one process.
type Transport struct {
	Registry      *prometheus.Registry
	SentPackets   prometheus.Counter
	SentMessages  prometheus.Counter
	SendErrors    prometheus.Counter
	Heartbeats    prometheus.Counter
	ReceiveErrors prometheus.Counter
	Gaps          prometheus.Counter
	Duplicates    prometheus.Counter
	QueueDepth    prometheus.Gauge
}

// NewTransport registers and returns the transport metric set on a
// fresh registry, labeled by the logical stream name (e.g. "orders",
// "events") so multiple streams in one process, or repeated
// construction in tests, never collide on the default registry.
func NewTransport(stream string) *Transport {
	reg := prometheus.NewRegistry()
	promauto := promauto.With(reg)
	labels := prometheus.Labels{"stream": stream}
	return &Transport{
		Registry: reg,
		SentPackets: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "udp_sent_packets_total",
			Help:        "Packets sent by the UDP sender.",
			ConstLabels: labels,
		}),
		SentMessages: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "udp_sent_messages_total",
			Help:        "Messages sent by the UDP sender.",
			ConstLabels: labels,
		}),
		SendErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "udp_send_errors_total",
			Help:        "Socket send errors encountered by the UDP sender.",
			ConstLabels: labels,
		}),
		Heartbeats: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "udp_heartbeats_total",
			Help:        "Heartbeat packets emitted during idle.",
			ConstLabels: labels,
		}),
		ReceiveErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "udp_receive_errors_total",
			Help:        "Malformed packets or dropped deliveries at the UDP receiver.",
			ConstLabels: labels,
		}),
		Gaps: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "udp_gaps_total",
			Help:        "Sequence gaps detected by the UDP receiver.",
			ConstLabels: labels,
		}),
		Duplicates: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "udp_duplicates_total",
			Help:        "Duplicate packets dropped by the UDP receiver.",
			ConstLabels: labels,
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "udp_sender_queue_depth",
			Help:        "Current depth of the UDP sender's outgoing queue.",
			ConstLabels: labels,
		}),
	}
}

// Settlement bundles the settlement-engine retry counter.
type Settlement struct {
	Registry *prometheus.Registry
	Retries  prometheus.Counter
}

func NewSettlement() *Settlement {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Settlement{
		Registry: reg,
		Retries: factory.NewCounter(prometheus.CounterOpts{
			Name: "settlement_retries_total",
			Help: "Settlement HTTP calls retried after a transient failure.",
		}),
	}
}
