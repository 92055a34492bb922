// Package metrics registers the service's prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const namespace = "taskledger"

type Metrics struct {
	registry       *prometheus.Registry
	prepares       *prometheus.CounterVec
	outcomes       *prometheus.CounterVec
	confirmLatency *prometheus.HistogramVec
	authAttempts   *prometheus.CounterVec
	reconciled     *prometheus.CounterVec
	rateLimited    prometheus.Counter
}

// New creates collectors on a private registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		prepares: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prepares_total",
			Help:      "Envelopes prepared, by operation and result.",
		}, []string{"operation", "result"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Submission outcomes, by operation and status.",
		}, []string{"operation", "status"}),
		confirmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confirmation_seconds",
			Help:      "Time from submission to a terminal outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"operation"}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_attempts_total",
			Help:      "Challenge sign-in attempts by result.",
		}, []string{"result"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciled_total",
			Help:      "Journal records resolved by the reconciler, by final state.",
		}, []string{"state"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests refused by the rate limiter.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.prepares, m.outcomes, m.confirmLatency, m.authAttempts, m.reconciled, m.rateLimited,
	)
	return m
}

func (m *Metrics) Prepared(operation string, err error) {
	if m == nil {
		return
	}
	m.prepares.WithLabelValues(operation, result(err)).Inc()
}

func (m *Metrics) Outcome(operation, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(operation, status).Inc()
	m.confirmLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *Metrics) AuthAttempt(err error) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) Reconciled(state string) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(state).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// Gatherer exposes the registry for tests and custom exporters.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
