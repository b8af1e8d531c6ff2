package metrics

import (
	"maps"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a Manager. Zero values keep the defaults.
type Option func(*Manager)

// WithNamespace replaces the "tatami" namespace.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithSubsystem replaces the "ratings" subsystem.
func WithSubsystem(subsystem string) Option {
	return func(m *Manager) {
		if subsystem != "" {
			m.subsystem = subsystem
		}
	}
}

// WithLatencyBuckets sets the buckets of every millisecond latency histogram.
func WithLatencyBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.histogramBuckets = buckets
		}
	}
}

// WithRatingDeltaBuckets sets the buckets of the applied delta histogram.
// Deployments running a k above 64 should widen them.
func WithRatingDeltaBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.deltaBuckets = buckets
		}
	}
}

func WithMetricsEnabled(enabled bool) Option {
	return func(m *Manager) {
		m.enabled = enabled
	}
}

// WithRefreshInterval sets how often RunSystemSampler samples by default.
func WithRefreshInterval(interval time.Duration) Option {
	return func(m *Manager) {
		if interval > 0 {
			m.refreshInterval = interval
		}
	}
}

// WithCustomLabels adds constant labels, e.g. {"gym": "..."}, to every
// metric. Repeated calls merge.
func WithCustomLabels(labels map[string]string) Option {
	return func(m *Manager) {
		maps.Copy(m.customLabels, labels)
	}
}

// WithMetricPrefix prefixes every metric name inside the subsystem.
func WithMetricPrefix(prefix string) Option {
	return func(m *Manager) {
		m.metricPrefix = prefix
	}
}

// WithPrometheusRegistry registers metrics on registry instead of the default.
func WithPrometheusRegistry(registry prometheus.Registerer) Option {
	return func(m *Manager) {
		if registry != nil {
			m.registry = registry
		}
	}
}
