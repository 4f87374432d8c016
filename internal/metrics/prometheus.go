package metrics

import (
	"fmt"
	"net/http"
	"time"
)

// PoolSnapshotFunc reports busy and total credential counts at scrape time.
type PoolSnapshotFunc func() (busy, total int)

// PrometheusHandler returns an http.HandlerFunc that writes metrics in
// Prometheus text exposition format (version 0.0.4). Metrics are formatted
// manually; the Prometheus client library is not required. poolSnapshot may
// be nil when no pool is wired (tests).
func PrometheusHandler(collector *Collector, poolSnapshot PoolSnapshotFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := collector.Stats()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		writeMetric(w, "keygate_requests_total",
			"Total number of logical completion requests.",
			"counter", stats.TotalRequests)

		writeMetric(w, "keygate_attempts_total",
			"Total number of upstream adapter calls across all requests.",
			"counter", stats.TotalAttempts)

		writeMetric(w, "keygate_exhausted_total",
			"Requests that failed with every credential and tier exhausted.",
			"counter", stats.Exhausted)

		writeMetric(w, "keygate_tokens_in_total",
			"Total prompt tokens sent upstream.",
			"counter", stats.TokensIn)

		writeMetric(w, "keygate_tokens_out_total",
			"Total completion tokens received from upstream.",
			"counter", stats.TokensOut)

		writeMetric(w, "keygate_cache_hits_total",
			"Completion cache hits.",
			"counter", stats.CacheHits)

		writeMetric(w, "keygate_cache_misses_total",
			"Completion cache misses.",
			"counter", stats.CacheMisses)

		writeMetric(w, "keygate_active_requests",
			"Requests currently inside the dispatcher.",
			"gauge", stats.ActiveRequests)

		writeMetricFloat(w, "keygate_uptime_seconds",
			"Seconds since the service started.",
			"gauge", time.Since(collector.startTime).Seconds())

		writeLabelledCounter(w, "keygate_attempt_outcomes_total",
			"Adapter call outcomes by classification.",
			"class", stats.Attempts)

		writeLabelledCounter(w, "keygate_request_outcomes_total",
			"Terminal request outcomes.",
			"outcome", stats.Outcomes)

		if poolSnapshot != nil {
			busy, total := poolSnapshot()
			writeMetric(w, "keygate_pool_busy_credentials",
				"Credentials currently cooling down or in flight.",
				"gauge", int64(busy))
			writeMetric(w, "keygate_pool_total_credentials",
				"Fixed size of the credential pool.",
				"gauge", int64(total))
		}
	}
}

// writeMetric writes a single integer metric in Prometheus text format.
func writeMetric(w http.ResponseWriter, name, help, metricType string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
	fmt.Fprintf(w, "%s %d\n", name, value)
}

// writeMetricFloat writes a single float64 metric in Prometheus text format.
func writeMetricFloat(w http.ResponseWriter, name, help, metricType string, value float64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
	fmt.Fprintf(w, "%s %g\n", name, value)
}

// writeLabelledCounter writes one counter family with a single label
// dimension, keys in sorted order so scrapes are stable.
func writeLabelledCounter(w http.ResponseWriter, name, help, label string, values map[string]int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	for _, k := range sortedKeys(values) {
		fmt.Fprintf(w, "%s{%s=%q} %d\n", name, label, k, values[k])
	}
}
