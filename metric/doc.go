// Package metric provides Prometheus metrics for the topic view service: a
// central MetricsRegistry with the shared service metrics pre-registered,
// per-component registration with duplicate detection, and an HTTP server
// exposing the /metrics endpoint.
//
// Components register their own collectors under a component name:
//
//	registry := metric.NewMetricsRegistry()
//	err := registry.RegisterCounter("registry", "updates_published", counter)
//
// The shared metrics (service status, health, errors, NATS connection state)
// are available through CoreMetrics().
package metric
