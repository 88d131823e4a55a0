// Package metrics provides the Prometheus registry reference for the registry
// fetcher. All metrics are defined in their respective packages (auth,
// registry, ratelimit, sink, mirror, dispatch) to maintain modularity and
// avoid circular dependencies.
//
// This package provides documentation for all available metrics and the
// HTTP handler that exposes them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the fetcher.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler serving all registered metrics. Scrapes
// of the handler itself are counted in Registry.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(
		Registry,
		promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}),
	)
}

// Metrics Documentation
//
// Auth Metrics (pkg/auth):
//   - registry_auth_requests_total{status} (Counter): Token requests by HTTP status (or network_error)
//   - registry_auth_duration_seconds (Histogram): Token request duration
//
// Fetch Metrics (pkg/registry):
//   - registry_fetch_total{outcome} (Counter): Lookups by outcome class (success, auth, remote, empty, transport)
//   - registry_fetch_duration_seconds (Histogram): Lookup duration including authentication
//
// Rate Limit Metrics (pkg/ratelimit):
//   - registry_rate_limit_wait_seconds{stage} (Histogram): Time spent pausing or waiting on the global ceiling
//
// Output Metrics (pkg/sink):
//   - registry_sink_rows_total (Counter): CSV rows written
//   - registry_progress_completed (Gauge): Identifiers completed in the current run
//
// Mirror Metrics (pkg/mirror):
//   - registry_mirror_published_total (Counter): Results published to Redis
//   - registry_mirror_errors_total{operation} (Counter): Mirror operation errors
//
// Dispatch Metrics (pkg/dispatch):
//   - registry_dispatch_infrastructure_failures_total (Counter): Tasks that failed outside the fetcher
//   - registry_dispatch_tasks_in_flight (Gauge): Lookups currently running
//
// Example Prometheus Queries:
//
//   # Lookup Throughput
//   sum(rate(registry_fetch_total[1m]))
//
//   # Failure Ratio
//   sum(rate(registry_fetch_total{outcome!="success"}[5m])) / sum(rate(registry_fetch_total[5m]))
//
//   # P95 Lookup Latency
//   histogram_quantile(0.95, rate(registry_fetch_duration_seconds_bucket[5m]))
//
//   # Rejected Tokens
//   rate(registry_auth_requests_total{status!="200"}[5m])
