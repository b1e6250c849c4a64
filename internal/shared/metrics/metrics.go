package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Pipeline task metrics
	TasksTotal         *prometheus.CounterVec
	TaskDuration       *prometheus.HistogramVec
	TaskQueueDepth     prometheus.Gauge
	ActiveTasks        prometheus.Gauge
	TaskGateWaitTotal  *prometheus.CounterVec
	TasksCancelled     *prometheus.CounterVec

	// Matching metrics
	ScanWindowsTotal    *prometheus.CounterVec
	SegmentsDetected    prometheus.Counter
	ScanDuration        prometheus.Histogram

	// External tool metrics
	ToolRunsTotal    *prometheus.CounterVec
	ToolRunDuration  *prometheus.HistogramVec

	// WebSocket metrics
	WebSocketConnections   prometheus.Gauge
	WebSocketMessagesTotal *prometheus.CounterVec

	// Work area metrics
	StorageFilesTotal *prometheus.GaugeVec
	StorageBytesTotal *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		HTTPResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path", "status"},
		),

		// Pipeline task metrics
		TasksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_tasks_total",
				Help: "Total number of pipeline tasks created",
			},
			[]string{"type", "status"},
		),
		TaskDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_task_duration_seconds",
				Help:    "Pipeline task duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"type", "status"},
		),
		TaskQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipeline_queue_depth",
				Help: "Current number of tasks waiting in queue",
			},
		),
		ActiveTasks: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipeline_active_tasks",
				Help: "Number of currently running tasks",
			},
		),
		TaskGateWaitTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_gate_waits_total",
				Help: "Times a task had to wait for a resource gate slot",
			},
			[]string{"family"},
		),
		TasksCancelled: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_tasks_cancelled_total",
				Help: "Tasks cancelled by user request",
			},
			[]string{"type"},
		),

		// Matching metrics
		ScanWindowsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scan_windows_total",
				Help: "Fingerprint windows processed during scans",
			},
			[]string{"outcome"},
		),
		SegmentsDetected: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scan_segments_detected_total",
				Help: "Music segments detected across all scans",
			},
		),
		ScanDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scan_duration_seconds",
				Help:    "Full fingerprint scan duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
			},
		),

		// External tool metrics
		ToolRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_runs_total",
				Help: "External tool invocations",
			},
			[]string{"tool", "status"},
		),
		ToolRunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tool_run_duration_seconds",
				Help:    "External tool run duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"tool"},
		),

		// WebSocket metrics
		WebSocketConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "websocket_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WebSocketMessagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "websocket_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"type"},
		),

		// Work area metrics
		StorageFilesTotal: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "storage_files_total",
				Help: "Total number of files in the work area",
			},
			[]string{"zone"},
		),
		StorageBytesTotal: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "storage_bytes_total",
				Help: "Total work area size in bytes",
			},
			[]string{"zone"},
		),
	}

	return m
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, responseSize int64) {
	status := statusCodeToString(statusCode)

	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	if responseSize > 0 {
		m.HTTPResponseSize.WithLabelValues(method, path, status).Observe(float64(responseSize))
	}
}

// RecordTaskCreated records task creation
func (m *Metrics) RecordTaskCreated(taskType string) {
	m.TasksTotal.WithLabelValues(taskType, "created").Inc()
	m.TaskQueueDepth.Inc()
}

// RecordTaskStarted records task start
func (m *Metrics) RecordTaskStarted() {
	m.ActiveTasks.Inc()
	m.TaskQueueDepth.Dec()
}

// RecordTaskFinished records task completion, failure or cancellation
func (m *Metrics) RecordTaskFinished(taskType, status string, duration time.Duration) {
	m.ActiveTasks.Dec()
	m.TaskDuration.WithLabelValues(taskType, status).Observe(duration.Seconds())
	m.TasksTotal.WithLabelValues(taskType, status).Inc()
	if status == "cancelled" {
		m.TasksCancelled.WithLabelValues(taskType).Inc()
	}
}

// RecordGateWait records a task queuing for a resource gate slot
func (m *Metrics) RecordGateWait(family string) {
	m.TaskGateWaitTotal.WithLabelValues(family).Inc()
}

// RecordScanWindow records one processed scan window
func (m *Metrics) RecordScanWindow(outcome string) {
	m.ScanWindowsTotal.WithLabelValues(outcome).Inc()
}

// RecordScan records a completed scan and its detected segment count
func (m *Metrics) RecordScan(duration time.Duration, segments int) {
	m.ScanDuration.Observe(duration.Seconds())
	m.SegmentsDetected.Add(float64(segments))
}

// RecordToolRun records an external tool invocation
func (m *Metrics) RecordToolRun(tool string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}

	m.ToolRunsTotal.WithLabelValues(tool, status).Inc()
	m.ToolRunDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordWebSocketConnection records WebSocket connection change
func (m *Metrics) RecordWebSocketConnection(connected bool) {
	if connected {
		m.WebSocketConnections.Inc()
	} else {
		m.WebSocketConnections.Dec()
	}
}

// RecordWebSocketMessage records WebSocket message
func (m *Metrics) RecordWebSocketMessage(messageType string) {
	m.WebSocketMessagesTotal.WithLabelValues(messageType).Inc()
}

// UpdateStorageMetrics updates work area metrics
func (m *Metrics) UpdateStorageMetrics(zone string, fileCount int64, bytes int64) {
	m.StorageFilesTotal.WithLabelValues(zone).Set(float64(fileCount))
	m.StorageBytesTotal.WithLabelValues(zone).Set(float64(bytes))
}

// statusCodeToString converts HTTP status code to category string
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
