// Package metrics provides Prometheus metrics for the leadscore service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns all Prometheus collectors for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Scoring pipeline
	eventsApplied     prometheus.Counter
	eventsDuplicate   prometheus.Counter
	eventsInvalid     prometheus.Counter
	persistenceErrors prometheus.Counter
	applyLatency      prometheus.Histogram
	ruleUpdates       prometheus.Counter
	leadsTotal        prometheus.Gauge

	// Change notification
	notificationsPublished prometheus.Counter
	notificationsDropped   *prometheus.CounterVec
	notificationErrors     *prometheus.CounterVec
	subscribers            prometheus.Gauge

	// Async intake
	queueSize      prometheus.Gauge
	queueCapacity  prometheus.Gauge
	queueEnqueued  prometheus.Counter
	queueDequeued  prometheus.Counter
	queueRejected  *prometheus.CounterVec
	workerCount    prometheus.Gauge
	workerErrors   prometheus.Counter
	workerLatency  prometheus.Histogram

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Process
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // process-wide collectors

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // process-wide registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "leadscore",
		subsystem:        "pipeline",
		histogramBuckets: []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		Buckets: m.histogramBuckets,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.eventsApplied = m.counter("events_applied_total", "Events applied to a lead score")
	m.eventsDuplicate = m.counter("events_duplicate_total", "Events rejected as already applied")
	m.eventsInvalid = m.counter("events_invalid_total", "Events rejected as malformed")
	m.persistenceErrors = m.counter("persistence_errors_total", "Storage failures or timeouts while applying events")
	m.applyLatency = m.histogram("apply_latency_milliseconds", "End-to-end apply latency in milliseconds")
	m.ruleUpdates = m.counter("rule_updates_total", "Scoring rule upserts")
	m.leadsTotal = m.gauge("leads_total", "Number of leads in the ledger")

	m.notificationsPublished = m.counter("notifications_published_total", "Score changes handed to the notifier")
	m.notificationsDropped = m.counterVec("notifications_dropped_total", "Score changes dropped by the notifier", "reason")
	m.notificationErrors = m.counterVec("notification_errors_total", "Transport failures while forwarding score changes", "transport")
	m.subscribers = m.gauge("subscribers", "Currently connected observers")

	m.queueSize = m.gauge("queue_size", "Events waiting in the intake queue")
	m.queueCapacity = m.gauge("queue_capacity", "Capacity of the intake queue")
	m.queueEnqueued = m.counter("queue_enqueued_total", "Events accepted into the intake queue")
	m.queueDequeued = m.counter("queue_dequeued_total", "Events taken off the intake queue")
	m.queueRejected = m.counterVec("queue_rejected_total", "Events rejected by the intake queue", "reason")
	m.workerCount = m.gauge("worker_count", "Intake workers running")
	m.workerErrors = m.counter("worker_errors_total", "Worker apply failures")
	m.workerLatency = m.histogram("worker_latency_milliseconds", "Worker processing latency in milliseconds")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
}

// RecordEventApplied increments the applied events counter.
func RecordEventApplied() { globalManager.eventsApplied.Inc() }

// RecordEventDuplicate increments the duplicate events counter.
func RecordEventDuplicate() { globalManager.eventsDuplicate.Inc() }

// RecordEventInvalid increments the invalid events counter.
func RecordEventInvalid() { globalManager.eventsInvalid.Inc() }

// RecordPersistenceError increments the persistence error counter.
func RecordPersistenceError() { globalManager.persistenceErrors.Inc() }

// RecordApplyLatency observes apply latency in milliseconds.
func RecordApplyLatency(latencyMs float64) { globalManager.applyLatency.Observe(latencyMs) }

// RecordRuleUpdate increments the rule update counter.
func RecordRuleUpdate() { globalManager.ruleUpdates.Inc() }

// UpdateLeadsTotal sets the number of leads.
func UpdateLeadsTotal(count int) { globalManager.leadsTotal.Set(float64(count)) }

// RecordNotificationPublished increments the published notifications counter.
func RecordNotificationPublished() { globalManager.notificationsPublished.Inc() }

// RecordNotificationDropped increments dropped notifications for reason.
func RecordNotificationDropped(reason string) {
	globalManager.notificationsDropped.WithLabelValues(reason).Inc()
}

// RecordNotificationError increments transport failures.
func RecordNotificationError(transport string) {
	globalManager.notificationErrors.WithLabelValues(transport).Inc()
}

// UpdateSubscriberCount sets the number of connected observers.
func UpdateSubscriberCount(count int) { globalManager.subscribers.Set(float64(count)) }

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.queueDequeued.Inc() }

// RecordQueueRejected increments queue rejections for reason.
func RecordQueueRejected(reason string) {
	globalManager.queueRejected.WithLabelValues(reason).Inc()
}

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// RecordWorkerProcessingLatency observes worker latency in milliseconds.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerLatency.Observe(latencyMs)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// UpdateSystemMemoryUsage sets heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
