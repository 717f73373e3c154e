package registry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/topicviews/metric"
)

// registryMetrics holds Prometheus metrics for view registry operations
type registryMetrics struct {
	views           prometheus.Gauge
	referenceTopics prometheus.Gauge

	events    *prometheus.CounterVec // by status (processed/chained)
	published prometheus.Counter
	throttled prometheus.Counter
	errors    *prometheus.CounterVec // by operation
}

// newRegistryMetrics creates and registers registry metrics with the provided
// registry. A nil metrics registry disables metrics.
func newRegistryMetrics(registry *metric.MetricsRegistry) (*registryMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &registryMetrics{
		views: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "topicviews",
			Subsystem: "registry",
			Name:      "views",
			Help:      "Number of installed topic views",
		}),
		referenceTopics: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "topicviews",
			Subsystem: "registry",
			Name:      "reference_topics",
			Help:      "Number of bound reference topics",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "topicviews",
			Subsystem: "registry",
			Name:      "events_total",
			Help:      "Total source events dispatched through the registry",
		}, []string{"status"}), // status: processed, chained, dropped
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "topicviews",
			Subsystem: "registry",
			Name:      "updates_published_total",
			Help:      "Total reference topic updates published",
		}),
		throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "topicviews",
			Subsystem: "registry",
			Name:      "updates_throttled_total",
			Help:      "Total reference topic updates held back by throttling",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "topicviews",
			Subsystem: "registry",
			Name:      "errors_total",
			Help:      "Total registry operation errors",
		}, []string{"operation"}), // operation: evaluate, create, publish, remove, persist
	}

	if err := registry.RegisterGauge("registry", "views", m.views); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("registry", "reference_topics", m.referenceTopics); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("registry", "events", m.events); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("registry", "updates_published", m.published); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("registry", "updates_throttled", m.throttled); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("registry", "errors", m.errors); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *registryMetrics) setViews(n int) {
	if m == nil {
		return
	}
	m.views.Set(float64(n))
}

func (m *registryMetrics) setReferenceTopics(n int) {
	if m == nil {
		return
	}
	m.referenceTopics.Set(float64(n))
}

func (m *registryMetrics) recordEvent(status string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(status).Inc()
}

func (m *registryMetrics) recordPublished() {
	if m == nil {
		return
	}
	m.published.Inc()
}

func (m *registryMetrics) recordThrottled() {
	if m == nil {
		return
	}
	m.throttled.Inc()
}

func (m *registryMetrics) recordError(operation string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(operation).Inc()
}
