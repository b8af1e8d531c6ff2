// Package metrics provides Prometheus metrics for the tatami rating service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// defaultDeltaBuckets spans the reachable deltas for k up to 64.
func defaultDeltaBuckets() []float64 {
	return []float64{-64, -48, -32, -24, -16, -8, -4, 0, 4, 8, 16, 24, 32, 48, 64}
}

// Manager manages all Prometheus metrics for the tatami service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	deltaBuckets     []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Rating Metrics
	stakesPreviews      prometheus.Counter
	previewErrors       prometheus.Counter
	settlements         *prometheus.CounterVec
	settlementConflicts prometheus.Counter
	settlementLatency   prometheus.Histogram
	ratingDelta         prometheus.Histogram
	casualCompletions   prometheus.Counter

	// Match lifecycle
	matchTransitions *prometheus.CounterVec
	resultsSubmitted prometheus.Counter
	resultsDuplicate prometheus.Counter

	// Operational Health Metrics
	queueSize     prometheus.Gauge
	workerCount   prometheus.Gauge
	totalAthletes prometheus.Gauge

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRateLimited     *prometheus.CounterVec

	// Repository Metrics
	repositoryUpdateLatency prometheus.Histogram
	repositoryQueryLatency  prometheus.Histogram

	// Queue Metrics
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Worker Metrics
	workerActiveCount       prometheus.Gauge
	workerIdleCount         prometheus.Gauge
	workerMessagesPerSecond prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// Error Metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "tatami",
		subsystem:        "ratings",
		histogramBuckets: prometheus.DefBuckets,
		deltaBuckets:     defaultDeltaBuckets(),
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	return m.metricPrefix + n
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics on the configured registry.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	// Rating Metrics
	m.stakesPreviews = m.counter("stakes_previews_total", "Total number of stakes previews computed")
	m.previewErrors = m.counter("stakes_preview_errors_total", "Total number of stakes previews rejected for invalid input")
	m.settlements = m.counterVec("settlements_total", "Total number of ranked matches settled, by outcome", "outcome")
	m.settlementConflicts = m.counter("settlement_conflicts_total", "Total number of settlement attempts that lost a race or repeated a settled match")
	m.settlementLatency = m.histogram("settlement_latency_milliseconds", "Settlement latency in milliseconds", m.histogramBuckets)
	m.ratingDelta = m.histogram("rating_delta", "Distribution of applied rating deltas", m.deltaBuckets)
	m.casualCompletions = m.counter("casual_completions_total", "Total number of casual matches completed without rating changes")

	// Match lifecycle
	m.matchTransitions = m.counterVec("match_transitions_total", "Total number of match status transitions", "to")
	m.resultsSubmitted = m.counter("results_submitted_total", "Total number of result submissions accepted for processing")
	m.resultsDuplicate = m.counter("results_duplicate_total", "Total number of duplicate result submissions detected")

	// Operational Health Metrics
	m.queueSize = m.gauge("queue_size", "Current size of the result queue (backlog indicator)")
	m.workerCount = m.gauge("worker_count", "Current number of result workers")
	m.totalAthletes = m.gauge("total_athletes", "Total number of athletes in the directory")

	// HTTP Performance Metrics
	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds",
		"endpoint", "method", "status_code")
	m.httpRateLimited = m.counterVec("http_rate_limited_total", "Total number of HTTP requests rejected by the rate limiter",
		"endpoint")

	// Repository Metrics
	m.repositoryUpdateLatency = m.histogram("repository_update_latency_milliseconds",
		"Repository update operation latency in milliseconds", m.histogramBuckets)
	m.repositoryQueryLatency = m.histogram("repository_query_latency_milliseconds",
		"Repository query operation latency in milliseconds", m.histogramBuckets)

	// Queue Metrics
	m.queueCapacity = m.gauge("queue_capacity", "Maximum queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue utilization ratio (current size / capacity)")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Total number of results enqueued")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Total number of results dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Total number of enqueue errors")
	m.queueProcessingLatency = m.histogram("queue_processing_latency_milliseconds",
		"Time from submission to processing in milliseconds", m.histogramBuckets)

	// Worker Metrics
	m.workerActiveCount = m.gauge("worker_active_count", "Number of active workers")
	m.workerIdleCount = m.gauge("worker_idle_count", "Number of idle workers")
	m.workerMessagesPerSecond = m.gauge("worker_messages_per_second", "Average results processed per second by workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds",
		"Worker processing latency in milliseconds", m.histogramBuckets)
	m.workerErrorRate = m.counter("worker_errors_total", "Total number of worker errors")

	// Error Metrics
	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Total number of errors by component",
		"component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total", "Total number of errors by type",
		"error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Total number of errors by endpoint",
		"endpoint", "method", "error_type")
	m.errorLatency = m.histogramVec("error_latency_milliseconds", "Latency of operations that resulted in errors",
		"component", "error_type")

	// System Performance Metrics
	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Rating Metrics Functions.

// RecordStakesPreview increments the stakes preview counter.
func RecordStakesPreview() {
	globalManager.stakesPreviews.Inc()
}

// RecordPreviewError increments the rejected preview counter.
func RecordPreviewError() {
	globalManager.previewErrors.Inc()
}

// RecordSettlement counts a settled ranked match. outcome is "win" or "draw".
func RecordSettlement(outcome string) {
	globalManager.settlements.WithLabelValues(outcome).Inc()
}

// RecordSettlementConflict counts a settlement attempt that was refused
// because the match was already settled or changed underneath it.
func RecordSettlementConflict() {
	globalManager.settlementConflicts.Inc()
}

// RecordSettlementLatency records settlement latency in milliseconds.
func RecordSettlementLatency(latencyMs float64) {
	globalManager.settlementLatency.Observe(latencyMs)
}

// RecordRatingDelta observes one applied rating delta.
func RecordRatingDelta(delta int) {
	globalManager.ratingDelta.Observe(float64(delta))
}

// RecordCasualCompletion increments the casual completion counter.
func RecordCasualCompletion() {
	globalManager.casualCompletions.Inc()
}

// RecordMatchTransition counts a match entering the given status.
func RecordMatchTransition(to string) {
	globalManager.matchTransitions.WithLabelValues(to).Inc()
}

// RecordResultSubmitted increments the accepted result counter.
func RecordResultSubmitted() {
	globalManager.resultsSubmitted.Inc()
}

// RecordResultDuplicate increments the duplicate result counter.
func RecordResultDuplicate() {
	globalManager.resultsDuplicate.Inc()
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// UpdateTotalAthletes sets the total athletes count.
func UpdateTotalAthletes(count int) {
	globalManager.totalAthletes.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordHTTPRateLimited counts a request rejected by the rate limiter.
func RecordHTTPRateLimited(endpoint string) {
	globalManager.httpRateLimited.WithLabelValues(endpoint).Inc()
}

// Repository Metrics Functions.

// RecordRepositoryUpdateLatency records repository update operation latency.
func RecordRepositoryUpdateLatency(latencyMs float64) {
	globalManager.repositoryUpdateLatency.Observe(latencyMs)
}

// RecordRepositoryQueryLatency records repository query operation latency.
func RecordRepositoryQueryLatency(latencyMs float64) {
	globalManager.repositoryQueryLatency.Observe(latencyMs)
}

// Queue Metrics Functions.

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueProcessingLatency records queue processing latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// Worker Metrics Functions.

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// UpdateWorkerIdleCount sets the number of idle workers.
func UpdateWorkerIdleCount(count int) {
	globalManager.workerIdleCount.Set(float64(count))
}

// UpdateWorkerMessagesPerSecond sets the average results processed per second.
func UpdateWorkerMessagesPerSecond(rate float64) {
	globalManager.workerMessagesPerSecond.Set(rate)
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// RefreshInterval returns how often gauge-style system metrics should be sampled.
func RefreshInterval() time.Duration {
	return globalManager.refreshInterval
}

// Enabled reports whether metrics collection is switched on.
func Enabled() bool {
	return globalManager.enabled
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
