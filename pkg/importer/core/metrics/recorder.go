// Package metrics defines abstract interfaces for recording metrics and traces
// of import runs, decoupling the engine from any specific backend.
package metrics

import (
	"context"
	"time"

	model "github.com/quayside/groupage/pkg/importer/core/domain/model"
)

// MetricRecorder is an abstract interface for recording metrics related to an
// import run. Implementations exist for Prometheus and as a no-op.
type MetricRecorder interface {
	// RecordRunStart records the start of an import job.
	RecordRunStart(ctx context.Context, job *model.ImportJob)

	// RecordRunEnd records the end of an import job with its terminal status.
	RecordRunEnd(ctx context.Context, job *model.ImportJob, duration time.Duration)

	// RecordWave records one completed scheduler wave.
	//
	// entityKind: The rule set being imported ("order", "sku").
	// size: The number of groups in the wave.
	// duration: The wall time of the wave.
	RecordWave(ctx context.Context, entityKind string, size int, duration time.Duration)

	// RecordGroupOutcome records one settled group outcome.
	//
	// entityKind: The rule set being imported.
	// outcome: The settled outcome; errors are labelled by taxonomy kind.
	RecordGroupOutcome(ctx context.Context, entityKind string, outcome *model.WriteOutcome)

	// RecordRetry records one retry of a group after a transient failure.
	RecordRetry(ctx context.Context, entityKind string, reason string)

	// RecordRollback records one compensation attempt and whether it succeeded.
	RecordRollback(ctx context.Context, entityKind string, succeeded bool)
}
