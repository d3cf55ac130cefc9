/**
 * @description
 * Prometheus instrumentation for the disbursement-service. All recording
 * methods are safe on a nil *Metrics so components can run uninstrumented
 * in tests.
 *
 * @dependencies
 * - github.com/prometheus/client_golang: metric types, registry and HTTP exposition.
 */
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "disbursement"

// Metrics groups the service's collectors around a dedicated registry.
type Metrics struct {
	registry            *prometheus.Registry
	bulksCreated        prometheus.Counter
	bulksFinished       *prometheus.CounterVec
	transfersFinished   *prometheus.CounterVec
	hubRequests         *prometheus.CounterVec
	callbacks           *prometheus.CounterVec
	correlationTimeouts *prometheus.CounterVec
}

// New builds and registers every collector.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		bulksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulks_created_total",
			Help:      "Bulk transfers accepted for processing.",
		}),
		bulksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulks_finished_total",
			Help:      "Bulk transfers that reached a terminal state.",
		}, []string{"state"}),
		transfersFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_finished_total",
			Help:      "Individual transfers that reached a terminal status.",
		}, []string{"status", "error_code"}),
		hubRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_requests_total",
			Help:      "Outbound hub requests by phase and acknowledgment outcome.",
		}, []string{"phase", "outcome"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_callbacks_total",
			Help:      "Inbound hub callbacks by resource and correlation result.",
		}, []string{"resource", "result"}),
		correlationTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlation_timeouts_total",
			Help:      "Pending hub requests expired by the sweeper.",
		}, []string{"phase"}),
	}
	reg.MustRegister(m.bulksCreated, m.bulksFinished, m.transfersFinished, m.hubRequests, m.callbacks, m.correlationTimeouts)
	return m
}

// RegisterPendingCorrelations exposes the correlation table size.
func (m *Metrics) RegisterPendingCorrelations(size func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_correlations",
		Help:      "Hub requests awaiting a callback.",
	}, func() float64 { return float64(size()) }))
}

func (m *Metrics) BulkCreated() {
	if m == nil {
		return
	}
	m.bulksCreated.Inc()
}

func (m *Metrics) BulkFinished(state string) {
	if m == nil {
		return
	}
	m.bulksFinished.WithLabelValues(state).Inc()
}

func (m *Metrics) TransferFinished(status, errorCode string) {
	if m == nil {
		return
	}
	m.transfersFinished.WithLabelValues(status, errorCode).Inc()
}

func (m *Metrics) HubRequest(phase, outcome string) {
	if m == nil {
		return
	}
	m.hubRequests.WithLabelValues(phase, outcome).Inc()
}

func (m *Metrics) Callback(resource, result string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(resource, result).Inc()
}

func (m *Metrics) CorrelationTimeout(phase string) {
	if m == nil {
		return
	}
	m.correlationTimeouts.WithLabelValues(phase).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
