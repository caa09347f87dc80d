// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "slackmgmt"

type Metrics struct {
	EventsReceived    *prometheus.CounterVec
	EventsDispatched  prometheus.Counter
	Pongs             prometheus.Counter
	ConsumerEvents    *prometheus.CounterVec
	ConsumerFailures  *prometheus.CounterVec
	Reconnects        prometheus.Counter
	HeartbeatFailures prometheus.Counter
	InboundDepth      prometheus.Gauge
	ConsumerDepth     *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_received_total",
				Help:      "Events accepted from a transport",
			},
			[]string{"transport"},
		),
		EventsDispatched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dispatched_total",
				Help:      "Events fanned out to consumers",
			},
		),
		Pongs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pongs_total",
				Help:      "Heartbeat acknowledgements observed",
			},
		),
		ConsumerEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "consumer_events_total",
				Help:      "Events processed per plugin",
			},
			[]string{"plugin"},
		),
		ConsumerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "consumer_failures_total",
				Help:      "Plugin Consume calls that failed or panicked",
			},
			[]string{"plugin"},
		),
		Reconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rtm_reconnects_total",
				Help:      "Streaming sessions restarted by the supervisor",
			},
		),
		HeartbeatFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rtm_heartbeat_failures_total",
				Help:      "Sessions ended by a missing or mismatched pong",
			},
		),
		InboundDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "inbound_queue_depth",
				Help:      "Events waiting for the dispatcher",
			},
		),
		ConsumerDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "consumer_queue_depth",
				Help:      "Events waiting in a plugin's queue",
			},
			[]string{"plugin"},
		),
	}

	reg.MustRegister(
		m.EventsReceived,
		m.EventsDispatched,
		m.Pongs,
		m.ConsumerEvents,
		m.ConsumerFailures,
		m.Reconnects,
		m.HeartbeatFailures,
		m.InboundDepth,
		m.ConsumerDepth,
	)
	return m
}
