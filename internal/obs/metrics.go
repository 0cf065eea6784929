package obs

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the counters/histograms specd exports, per SPEC_FULL.md's
// DOMAIN STACK entry for prometheus/client_golang. One instance is
// constructed at startup and threaded into the Fan-out Fabric, the Bus
// Adapter and the HTTP transport.
type Metrics struct {
	BroadcastLatency prometheus.Histogram
	BroadcastTotal   prometheus.Counter
	ActiveConnections prometheus.Gauge
	BusPublishTotal  *prometheus.CounterVec
	TicketIssued     prometheus.Counter
	TicketDenied     *prometheus.CounterVec
}

// NewMetrics creates and registers specd's metrics against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the global
// default registry across parallel test packages.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BroadcastLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "specd_broadcast_latency_seconds",
			Help:    "End-to-end latency of fanning an event out to all subscribers of a project.",
			Buckets: prometheus.DefBuckets,
		}),
		BroadcastTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "specd_broadcast_total",
			Help: "Number of events broadcast by the Fan-out Fabric.",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "specd_active_connections",
			Help: "Number of live duplex connections.",
		}),
		BusPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "specd_bus_publish_total",
			Help: "Number of publish attempts to the external bus, by outcome.",
		}, []string{"outcome"}),
		TicketIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "specd_tickets_issued_total",
			Help: "Number of tickets issued by the Ticket Authority.",
		}),
		TicketDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "specd_ticket_verify_denied_total",
			Help: "Number of ticket verification failures, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		m.BroadcastLatency, m.BroadcastTotal, m.ActiveConnections,
		m.BusPublishTotal, m.TicketIssued, m.TicketDenied,
	)
	return m
}
