package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the counters for the fan-out path. One instance per
// process, registered on the registry served at /metrics.
type Metrics struct {
	ConnectionsOpen prometheus.Gauge
	QuotesPublished *prometheus.CounterVec
	StaleDropped    prometheus.Counter
	DeliveryDropped prometheus.Counter
	ProviderErrors  prometheus.Counter
	BridgeRetries   prometheus.Counter
	MalformedEvents prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "quotewire_connections_open",
			Help: "Number of websocket connections currently registered.",
		}),
		QuotesPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quotewire_quotes_published_total",
			Help: "Quotes accepted by the broadcaster and fanned out, by source.",
		}, []string{"source"}),
		StaleDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "quotewire_quotes_stale_dropped_total",
			Help: "Quotes discarded because their sequence number was not newer than the last accepted one.",
		}),
		DeliveryDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "quotewire_messages_dropped_total",
			Help: "Outbound messages evicted or rejected because a subscriber queue was full.",
		}),
		ProviderErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "quotewire_provider_errors_total",
			Help: "Quote provider failures during poll ticks.",
		}),
		BridgeRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "quotewire_bridge_retries_total",
			Help: "External bus read failures that triggered a backoff retry.",
		}),
		MalformedEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "quotewire_bridge_malformed_events_total",
			Help: "External bus events dropped because they could not be parsed.",
		}),
	}
}
