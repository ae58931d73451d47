// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orderflow"

var (
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_processed_total",
			Help:      "Messages handled by the shard workers",
		},
		[]string{"kind"},
	)

	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_dropped_total",
			Help:      "Messages dropped because a shard channel was full",
		},
		[]string{"kind"},
	)

	DecodeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "decode_errors_total",
			Help:      "Feed payloads that could not be decoded",
		},
		[]string{"source"},
	)

	SequenceGaps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orderbook",
			Name:      "sequence_gaps_total",
			Help:      "Depth sequence gaps detected",
		},
		[]string{"symbol"},
	)

	Resyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orderbook",
			Name:      "resyncs_total",
			Help:      "Snapshot resync attempts by result",
		},
		[]string{"result"},
	)

	AlertsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "emitted_total",
			Help:      "Large order alerts emitted",
		},
		[]string{"symbol"},
	)

	CandlesSealed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "footprint",
			Name:      "candles_sealed_total",
			Help:      "Base footprint candles sealed",
		},
	)

	OutboxDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "outbox_dropped_total",
			Help:      "Records dropped because the persistence outbox was full",
		},
		[]string{"record"},
	)

	SubscriberDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "subscriber_drops_total",
			Help:      "Events not delivered because a subscriber was slow",
		},
		[]string{"topic"},
	)

	StreamClients = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "clients",
			Help:      "Open websocket subscriptions",
		},
		[]string{"topic"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
