// Package metrics collects and exposes the execution service's
// observability data.
//
// Two metric stores coexist, mirroring the teacher's split:
//
//  1. The in-process Metrics struct — plain atomic counters, served as
//     a lightweight JSON snapshot on GET /metrics when the Prometheus
//     registry is disabled.
//  2. A Prometheus registry (prometheus.go) exposed on GET /metrics in
//     OpenMetrics text, per spec §4.F: requests_total,
//     requests_success, requests_error, rejects_concurrency,
//     rejects_timeout counters; active_workers gauge;
//     execution_time_ms sum.
//
// Both are updated from the same call sites so they never disagree;
// the split exists only because the two audiences (a quick JSON read
// vs. a scrape target) want different shapes.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// Metrics holds the process-wide atomic counters. The zero value is
// ready to use; Global returns the single shared instance.
type Metrics struct {
	RequestsTotal        atomic.Int64
	RequestsSuccess      atomic.Int64
	RequestsError        atomic.Int64
	RejectsConcurrency   atomic.Int64
	RejectsTimeout       atomic.Int64
	ExecutionTimeMsTotal atomic.Int64

	startTime time.Time

	// CatalogCacheStats, when set by buildApp, reports the shared
	// cross-worker command cache's cumulative hit/miss count
	// (internal/cache.Stats) for inclusion in Snapshot.
	CatalogCacheStats func() (hits, misses int64)

	// RateLimitDegraded, when set by buildApp, reports whether the
	// rate limiter has fallen back to local token buckets because its
	// Redis backend is unreachable (internal/ratelimit.Limiter.Degraded).
	RateLimitDegraded func() bool
}

var global = &Metrics{startTime: time.Now()}

// Global returns the process-wide Metrics instance.
func Global() *Metrics { return global }

// StartTime returns when the process' metrics were first initialized.
func StartTime() time.Time { return global.startTime }

// RecordRequest records one completed /execute request: whether it
// succeeded and how long execute_script took.
func (m *Metrics) RecordRequest(success bool, durationMs int64) {
	m.RequestsTotal.Add(1)
	if success {
		m.RequestsSuccess.Add(1)
	} else {
		m.RequestsError.Add(1)
	}
	m.ExecutionTimeMsTotal.Add(durationMs)
	if promMetrics != nil {
		promMetrics.requestsTotal.Inc()
		if success {
			promMetrics.requestsSuccess.Inc()
		} else {
			promMetrics.requestsError.Inc()
		}
		promMetrics.executionTimeMs.Add(float64(durationMs))
	}
}

// RecordAdmissionReject increments rejects_concurrency: the admission
// semaphore could not be acquired within its deadline (§4.F).
func (m *Metrics) RecordAdmissionReject() {
	m.RejectsConcurrency.Add(1)
	if promMetrics != nil {
		promMetrics.rejectsConcurrency.Inc()
	}
}

// RecordExecutionTimeout increments rejects_timeout: execute_script
// exceeded the execution watchdog deadline (§4.F).
func (m *Metrics) RecordExecutionTimeout() {
	m.RejectsTimeout.Add(1)
	if promMetrics != nil {
		promMetrics.rejectsTimeout.Inc()
	}
}

// Snapshot returns a JSON-serializable view of the current counters,
// for the admin CLI and for tests.
func (m *Metrics) Snapshot() map[string]interface{} {
	snap := map[string]interface{}{
		"requests_total":          m.RequestsTotal.Load(),
		"requests_success":        m.RequestsSuccess.Load(),
		"requests_error":          m.RequestsError.Load(),
		"rejects_concurrency":     m.RejectsConcurrency.Load(),
		"rejects_timeout":         m.RejectsTimeout.Load(),
		"execution_time_ms_total": m.ExecutionTimeMsTotal.Load(),
		"uptime_s":                time.Since(m.startTime).Seconds(),
	}
	if m.CatalogCacheStats != nil {
		hits, misses := m.CatalogCacheStats()
		snap["catalog_cache_hits"] = hits
		snap["catalog_cache_misses"] = misses
	}
	if m.RateLimitDegraded != nil {
		snap["rate_limit_degraded"] = m.RateLimitDegraded()
	}
	return snap
}

// JSONHandler serves the snapshot as JSON.
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.Snapshot())
	})
}
