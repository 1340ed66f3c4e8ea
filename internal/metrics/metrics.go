// Package metrics exposes the logger counters and engine timings in the
// Prometheus text format.
package metrics

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamcoop/grl/internal/logger"
)

const namespace = "grl"

// Metrics owns a private registry so tests can build as many as they like
type Metrics struct {
	registry *prometheus.Registry

	executionDuration *prometheus.HistogramVec
	iterations        prometheus.Histogram
	rulesFired        *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New registers every collector on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Time spent in RuleEngine.Execute.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"tenant"}),
		iterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_iterations",
			Help:      "Passes performed per execution.",
			Buckets:   []float64{1, 2, 3, 5, 10, 25, 100, 1000},
		}),
		rulesFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rules_fired_total",
			Help:      "Rule firings by tenant.",
		}, []string{"tenant"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.executionDuration,
		m.iterations,
		m.rulesFired,
		m.httpDuration,
		counterFunc("log_errors_total", "Error log calls, sampled or not.", &logger.TotalErrors),
		counterFunc("log_warnings_total", "Warning log calls, sampled or not.", &logger.TotalWarnings),
		counterFunc("http_4xx_total", "Client error responses.", &logger.Total4xxErrors),
		counterFunc("http_5xx_total", "Server error responses.", &logger.Total5xxErrors),
		counterFunc("http_slow_requests_total", "Requests over the slow threshold.", &logger.SlowRequests),
		counterFunc("executions_total", "Engine executions.", &logger.Executions),
		counterFunc("rule_errors_total", "Per-rule evaluation errors reported by executions.", &logger.RuleErrors),
		counterFunc("iteration_cap_reached_total", "Executions stopped by the iteration bound.", &logger.CapReached),
	)
	return m
}

func counterFunc(name, help string, v *atomic.Int64) prometheus.CounterFunc {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(v.Load()) })
}

// ObserveExecution records one engine run for tenant
func (m *Metrics) ObserveExecution(tenant string, d time.Duration, iterations, fired int) {
	m.executionDuration.WithLabelValues(tenant).Observe(d.Seconds())
	m.iterations.Observe(float64(iterations))
	m.rulesFired.WithLabelValues(tenant).Add(float64(fired))
}

// ObserveRequest records one HTTP request
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
