package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// defaultRegistry is the default Prometheus registry
	defaultRegistry = prometheus.DefaultRegisterer
)

// Metrics holds all pipeline metrics.
type Metrics struct {
	pipelineRunsTotal   *prometheus.CounterVec
	stageDuration       *prometheus.HistogramVec
	stageErrors         *prometheus.CounterVec
	encryptedBytesTotal prometheus.Counter
	uploadedBytesTotal  prometheus.Counter
	kmsOperationsTotal  *prometheus.CounterVec
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	return newMetricsWithRegistry(defaultRegistry)
}

// newMetricsWithRegistry creates a new metrics instance with a custom registry (for testing).
func newMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		pipelineRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arkive_pipeline_runs_total",
				Help: "Total number of pipeline runs by outcome",
			},
			[]string{"operation", "status"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arkive_stage_duration_seconds",
				Help:    "Pipeline stage duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		stageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arkive_stage_errors_total",
				Help: "Total number of pipeline stage failures",
			},
			[]string{"stage"},
		),
		encryptedBytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "arkive_encrypted_bytes_total",
				Help: "Total plaintext bytes encrypted",
			},
		),
		uploadedBytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "arkive_uploaded_bytes_total",
				Help: "Total encrypted bytes uploaded",
			},
		),
		kmsOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arkive_kms_operations_total",
				Help: "Total KMS wrap/unwrap operations",
			},
			[]string{"operation", "status"},
		),
	}
}

// RecordRun records a completed pipeline run.
func (m *Metrics) RecordRun(operation, status string) {
	m.pipelineRunsTotal.WithLabelValues(operation, status).Inc()
}

// RecordStage records a stage duration and, on failure, the error.
func (m *Metrics) RecordStage(stage string, seconds float64, err error) {
	m.stageDuration.WithLabelValues(stage).Observe(seconds)
	if err != nil {
		m.stageErrors.WithLabelValues(stage).Inc()
	}
}

// RecordEncryptedBytes records plaintext bytes processed by the encryptor.
func (m *Metrics) RecordEncryptedBytes(n int) {
	m.encryptedBytesTotal.Add(float64(n))
}

// RecordUploadedBytes records encrypted bytes handed to the storage backend.
func (m *Metrics) RecordUploadedBytes(n int) {
	m.uploadedBytesTotal.Add(float64(n))
}

// RecordKMSOperation records a KMS wrap or unwrap call.
func (m *Metrics) RecordKMSOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.kmsOperationsTotal.WithLabelValues(operation, status).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
