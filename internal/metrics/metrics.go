// Package metrics exposes the daemon's Prometheus counters/gauges used by
// the fleet's monitoring stack: orders processed, claim outcomes, prints,
// and connected notifier devices.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/posforge/ticketbridge/engine"
)

// Metrics wraps the counters/gauges this daemon exposes at /metrics.
type Metrics struct {
	ordersProcessed  prometheus.Counter
	ordersFailed     prometheus.Counter
	claimsAttempted  *prometheus.CounterVec
	claimsSucceeded  *prometheus.CounterVec
	printsSucceeded  *prometheus.CounterVec
	printsFailed     *prometheus.CounterVec
	notifierDevices  prometheus.Gauge
	lastOrderEpoch   prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		ordersProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ticketbridge",
			Name:      "orders_processed_total",
			Help:      "Orders that reached a terminal printed state.",
		}),
		ordersFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ticketbridge",
			Name:      "orders_failed_total",
			Help:      "Orders whose print job was reported failed.",
		}),
		claimsAttempted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketbridge",
			Name:      "claims_attempted_total",
			Help:      "Claim attempts against the cloud, by job kind.",
		}, []string{"job_kind"}),
		claimsSucceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketbridge",
			Name:      "claims_succeeded_total",
			Help:      "Successful claims against the cloud, by job kind.",
		}, []string{"job_kind"}),
		printsSucceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketbridge",
			Name:      "prints_succeeded_total",
			Help:      "Successful printer writes, by role.",
		}, []string{"role"}),
		printsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketbridge",
			Name:      "prints_failed_total",
			Help:      "Failed printer writes, by role.",
		}, []string{"role"}),
		notifierDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ticketbridge",
			Name:      "notifier_devices",
			Help:      "Currently connected wearable notifier devices.",
		}),
		lastOrderEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ticketbridge",
			Name:      "last_order_processed_unixtime",
			Help:      "Unix timestamp of the last order successfully processed.",
		}),
	}
}

// registry returns a prometheus.Registry with all of this daemon's
// collectors registered, suitable for promhttp.HandlerFor.
func (m *Metrics) registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		m.ordersProcessed,
		m.ordersFailed,
		m.claimsAttempted,
		m.claimsSucceeded,
		m.printsSucceeded,
		m.printsFailed,
		m.notifierDevices,
		m.lastOrderEpoch,
	)
	return reg
}

// AttachRoutes registers the /metrics scrape endpoint.
func (m *Metrics) AttachRoutes(router *engine.Router) {
	handler := promhttp.HandlerFor(m.registry(), promhttp.HandlerOpts{})
	router.Handle("/metrics", handler)
}

// OrderProcessed records the outcome of one order's print job and bumps
// the last-order-time gauge on success.
func (m *Metrics) OrderProcessed(success bool) {
	if success {
		m.ordersProcessed.Inc()
		m.lastOrderEpoch.SetToCurrentTime()
		return
	}
	m.ordersFailed.Inc()
}

func (m *Metrics) ClaimAttempted(jobKind string) { m.claimsAttempted.WithLabelValues(jobKind).Inc() }
func (m *Metrics) ClaimSucceeded(jobKind string) { m.claimsSucceeded.WithLabelValues(jobKind).Inc() }

func (m *Metrics) PrintSucceeded(role string) { m.printsSucceeded.WithLabelValues(role).Inc() }
func (m *Metrics) PrintFailed(role string)     { m.printsFailed.WithLabelValues(role).Inc() }

// SetNotifierDevices records the current connected-device count.
func (m *Metrics) SetNotifierDevices(n int) { m.notifierDevices.Set(float64(n)) }
