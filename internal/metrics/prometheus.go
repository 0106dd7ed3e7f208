package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps the prometheus collectors for the §4.F
// exposition contract: five counters, one gauge, one sum.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	requestsTotal      prometheus.Counter
	requestsSuccess    prometheus.Counter
	requestsError      prometheus.Counter
	rejectsConcurrency prometheus.Counter
	rejectsTimeout     prometheus.Counter

	activeWorkers prometheus.GaugeFunc

	executionTimeMs prometheus.Counter // exposed as a sum, per spec

	// Supplemental: per-command and catalog-sync observability, not
	// required by §4.F but a natural extension of the same registry.
	commandDuration *prometheus.HistogramVec
	catalogSyncs    *prometheus.CounterVec
}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem.
// maxWorkers and permitsAvailable back the active_workers gauge
// (MAX_WORKERS − permits_available, per §4.F).
func InitPrometheus(namespace string, maxWorkers int, permitsAvailable func() int) *PrometheusMetrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of /execute requests, including those rejected at admission.",
		}),
		requestsSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_success",
			Help:      "Total number of /execute requests that completed successfully.",
		}),
		requestsError: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_error",
			Help:      "Total number of /execute requests that completed with an error.",
		}),
		rejectsConcurrency: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejects_concurrency",
			Help:      "Total number of requests rejected because the admission semaphore timed out.",
		}),
		rejectsTimeout: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejects_timeout",
			Help:      "Total number of requests rejected because the execution watchdog fired.",
		}),
		executionTimeMs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_time_ms",
			Help:      "Cumulative execute_script duration in milliseconds.",
		}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_milliseconds",
			Help:      "Duration of individual command invocations in milliseconds.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"command", "success"}),
		catalogSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_syncs_total",
			Help:      "Total catalog sync_full attempts by outcome.",
		}, []string{"outcome"}),
	}

	pm.activeWorkers = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_workers",
		Help:      "MAX_WORKERS minus the number of free admission permits.",
	}, func() float64 {
		return float64(maxWorkers - permitsAvailable())
	})

	registry.MustRegister(
		pm.requestsTotal, pm.requestsSuccess, pm.requestsError,
		pm.rejectsConcurrency, pm.rejectsTimeout, pm.executionTimeMs,
		pm.activeWorkers, pm.commandDuration, pm.catalogSyncs,
	)

	promMetrics = pm
	return pm
}

// RecordCommand observes one command invocation's duration.
func (pm *PrometheusMetrics) RecordCommand(name string, durationMs float64, success bool) {
	pm.commandDuration.WithLabelValues(name, boolLabel(success)).Observe(durationMs)
}

// RecordCatalogSync records one sync_full attempt's outcome.
func (pm *PrometheusMetrics) RecordCatalogSync(success bool) {
	pm.catalogSyncs.WithLabelValues(boolLabel(success)).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "success"
	}
	return "failure"
}

// Handler returns the http.Handler serving the registry in OpenMetrics
// text at GET /metrics.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
