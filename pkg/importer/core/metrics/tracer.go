package metrics

import (
	"context"

	model "github.com/quayside/groupage/pkg/importer/core/domain/model"
)

// Tracer is an abstract interface for distributed tracing of import runs.
// It allows integration with tracing systems like OpenTelemetry so that runs,
// waves and individual groups can be visualized as spans.
type Tracer interface {
	// StartRunSpan starts a span covering a whole import run.
	//
	// Returns: A context with the new span set, and a function to end the span.
	// It is recommended to call the returned function in a defer statement.
	StartRunSpan(ctx context.Context, job *model.ImportJob) (context.Context, func())

	// StartGroupSpan starts a span covering the processing of one group.
	StartGroupSpan(ctx context.Context, entityKind, groupKey string) (context.Context, func())

	// RecordError records an error in the current span.
	//
	// module: The name of the component where the error occurred (e.g., "processor", "scheduler").
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent records an event in the current span.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}

// NoOpTracer is a Tracer implementation that records nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a new NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

func (t *NoOpTracer) StartRunSpan(ctx context.Context, job *model.ImportJob) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) StartGroupSpan(ctx context.Context, entityKind, groupKey string) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) RecordError(ctx context.Context, module string, err error) {}

func (t *NoOpTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
}

var _ Tracer = (*NoOpTracer)(nil)
