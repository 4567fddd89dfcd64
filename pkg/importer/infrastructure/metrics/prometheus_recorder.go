// Package metrics provides the Prometheus and OpenTelemetry implementations
// of the abstract metric and trace recorders.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	model "github.com/quayside/groupage/pkg/importer/core/domain/model"
	metrics "github.com/quayside/groupage/pkg/importer/core/metrics"
	logger "github.com/quayside/groupage/pkg/importer/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Run metrics
	runDurationSeconds *prometheus.HistogramVec
	runStatusCounter   *prometheus.CounterVec

	// Wave metrics
	waveDurationSeconds *prometheus.HistogramVec
	waveSizeGroups      *prometheus.HistogramVec

	// Group metrics
	groupOutcomeCounter *prometheus.CounterVec
	groupRetryCounter   *prometheus.CounterVec
	rollbackCounter     *prometheus.CounterVec
}

// NewPrometheusRecorder creates a new instance of PrometheusRecorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		runDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "groupage_run_duration_seconds",
			Help:    "Duration of import runs.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name", "entity_kind", "status"}),
		runStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groupage_run_status_total",
			Help: "Total number of import runs by status.",
		}, []string{"job_name", "entity_kind", "status"}),
		waveDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "groupage_wave_duration_seconds",
			Help:    "Duration of scheduler waves.",
			Buckets: prometheus.DefBuckets,
		}, []string{"entity_kind"}),
		waveSizeGroups: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "groupage_wave_size_groups",
			Help:    "Number of groups per scheduler wave.",
			Buckets: []float64{1, 2, 5, 10, 20, 50},
		}, []string{"entity_kind"}),
		groupOutcomeCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groupage_group_outcome_total",
			Help: "Total settled group outcomes by result and error kind.",
		}, []string{"entity_kind", "success", "error_kind"}),
		groupRetryCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groupage_group_retry_total",
			Help: "Total group retries after transient failures, by reason.",
		}, []string{"entity_kind", "reason"}),
		rollbackCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groupage_rollback_total",
			Help: "Total compensation attempts and whether they succeeded.",
		}, []string{"entity_kind", "succeeded"}),
	}

	// Register all metrics with the registry.
	registry.MustRegister(r.runDurationSeconds)
	registry.MustRegister(r.runStatusCounter)
	registry.MustRegister(r.waveDurationSeconds)
	registry.MustRegister(r.waveSizeGroups)
	registry.MustRegister(r.groupOutcomeCounter)
	registry.MustRegister(r.groupRetryCounter)
	registry.MustRegister(r.rollbackCounter)

	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordRunStart records the start of an import job.
func (r *PrometheusRecorder) RecordRunStart(ctx context.Context, job *model.ImportJob) {
	r.runStatusCounter.WithLabelValues(job.JobName, job.EntityKind, job.Status.String()).Inc()
	logger.Debugf("Metrics: Run '%s' started with %d group(s).", job.JobName, job.TotalCount)
}

// RecordRunEnd records the end of an import job with its terminal status.
func (r *PrometheusRecorder) RecordRunEnd(ctx context.Context, job *model.ImportJob, duration time.Duration) {
	r.runStatusCounter.WithLabelValues(job.JobName, job.EntityKind, job.Status.String()).Inc()
	r.runDurationSeconds.WithLabelValues(job.JobName, job.EntityKind, job.Status.String()).Observe(duration.Seconds())
	logger.Debugf("Metrics: Run '%s' ended as %s. Duration: %.3fs", job.JobName, job.Status, duration.Seconds())
}

// RecordWave records one completed scheduler wave.
func (r *PrometheusRecorder) RecordWave(ctx context.Context, entityKind string, size int, duration time.Duration) {
	r.waveDurationSeconds.WithLabelValues(entityKind).Observe(duration.Seconds())
	r.waveSizeGroups.WithLabelValues(entityKind).Observe(float64(size))
}

// RecordGroupOutcome records one settled group outcome, labelled by taxonomy kind.
func (r *PrometheusRecorder) RecordGroupOutcome(ctx context.Context, entityKind string, outcome *model.WriteOutcome) {
	errorKind := ""
	if !outcome.Success {
		errorKind = string(outcome.ErrorKind())
	}
	r.groupOutcomeCounter.WithLabelValues(entityKind, strconv.FormatBool(outcome.Success), errorKind).Inc()
}

// RecordRetry records one retry of a group after a transient failure.
func (r *PrometheusRecorder) RecordRetry(ctx context.Context, entityKind string, reason string) {
	r.groupRetryCounter.WithLabelValues(entityKind, reason).Inc()
}

// RecordRollback records one compensation attempt and whether it succeeded.
func (r *PrometheusRecorder) RecordRollback(ctx context.Context, entityKind string, succeeded bool) {
	r.rollbackCounter.WithLabelValues(entityKind, strconv.FormatBool(succeeded)).Inc()
	if !succeeded {
		logger.Debugf("Metrics: Rollback failure recorded for kind '%s'.", entityKind)
	}
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
