// Package metrics exports Prometheus metrics for the transaction engine, the
// chain connection and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/slh-labs/slh-treasury/pkg/wallet"
)

const namespace = "slh_treasury"

// Metrics holds the collectors on a private registry. It implements
// wallet.Observer.
type Metrics struct {
	registry *prometheus.Registry

	attempts  *prometheus.CounterVec
	outcomes  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	chainUp   prometheus.Gauge
	requests  *prometheus.CounterVec
	botEvents *prometheus.CounterVec
}

// New registers all collectors, plus the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_attempts_total",
			Help:      "Transaction attempts started, by operation.",
		}, []string{"operation"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_outcomes_total",
			Help:      "Terminal engine states, by operation and state.",
		}, []string{"operation", "state"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tx_duration_seconds",
			Help:      "Time from first attempt to terminal state.",
			Buckets:   []float64{1, 3, 10, 30, 60, 120, 300, 600},
		}, []string{"operation"}),
		chainUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_up",
			Help:      "1 when the last liveness probe of the RPC node succeeded.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and status code.",
		}, []string{"route", "code"}),
		botEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bot_commands_total",
			Help:      "Bot commands handled, by command and result.",
		}, []string{"command", "result"}),
	}

	m.registry.MustRegister(
		m.attempts, m.outcomes, m.duration, m.chainUp, m.requests, m.botEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

var _ wallet.Observer = (*Metrics)(nil)

func (m *Metrics) AttemptStarted(operation string, attempt int) {
	m.attempts.WithLabelValues(operation).Inc()
}

func (m *Metrics) Finished(operation string, state wallet.State, attempts int, elapsed time.Duration) {
	m.outcomes.WithLabelValues(operation, state.String()).Inc()
	m.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// SetChainUp records the result of a liveness probe.
func (m *Metrics) SetChainUp(up bool) {
	if up {
		m.chainUp.Set(1)
		return
	}
	m.chainUp.Set(0)
}

// ObserveRequest counts one served HTTP request.
func (m *Metrics) ObserveRequest(route string, code int) {
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// ObserveCommand counts one handled bot command.
func (m *Metrics) ObserveCommand(command, result string) {
	m.botEvents.WithLabelValues(command, result).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
