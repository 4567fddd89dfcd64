package metrics

import (
	"context"
	"time"

	model "github.com/quayside/groupage/pkg/importer/core/domain/model"
)

// NoOpMetricRecorder is a MetricRecorder implementation that records nothing.
// It is used when no metrics backend is configured.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

func (r *NoOpMetricRecorder) RecordRunStart(ctx context.Context, job *model.ImportJob) {}

func (r *NoOpMetricRecorder) RecordRunEnd(ctx context.Context, job *model.ImportJob, duration time.Duration) {
}

func (r *NoOpMetricRecorder) RecordWave(ctx context.Context, entityKind string, size int, duration time.Duration) {
}

func (r *NoOpMetricRecorder) RecordGroupOutcome(ctx context.Context, entityKind string, outcome *model.WriteOutcome) {
}

func (r *NoOpMetricRecorder) RecordRetry(ctx context.Context, entityKind string, reason string) {}

func (r *NoOpMetricRecorder) RecordRollback(ctx context.Context, entityKind string, succeeded bool) {}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)
