package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	model "github.com/quayside/groupage/pkg/importer/core/domain/model"
	metrics "github.com/quayside/groupage/pkg/importer/core/metrics"
)

const tracerName = "github.com/quayside/groupage"

// OpenTelemetryTracer is an implementation of metrics.Tracer using OpenTelemetry.
// Spans are emitted through the globally registered tracer provider; with none
// registered the calls are no-ops, so the tracer is safe to wire unconditionally.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

// NewOpenTelemetryTracer creates a new instance of OpenTelemetryTracer.
func NewOpenTelemetryTracer() *OpenTelemetryTracer {
	return &OpenTelemetryTracer{tracer: otel.Tracer(tracerName)}
}

// StartRunSpan starts a span covering a whole import run.
func (t *OpenTelemetryTracer) StartRunSpan(ctx context.Context, job *model.ImportJob) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "groupage.run",
		trace.WithAttributes(
			attribute.String("groupage.job_id", job.ID),
			attribute.String("groupage.job_name", job.JobName),
			attribute.String("groupage.entity_kind", job.EntityKind),
			attribute.Int("groupage.total_groups", job.TotalCount),
		),
	)
	return ctx, func() { span.End() }
}

// StartGroupSpan starts a span covering the processing of one group.
func (t *OpenTelemetryTracer) StartGroupSpan(ctx context.Context, entityKind, groupKey string) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "groupage.group",
		trace.WithAttributes(
			attribute.String("groupage.entity_kind", entityKind),
			attribute.String("groupage.group_key", groupKey),
		),
	)
	return ctx, func() { span.End() }
}

// RecordError records an error in the current span.
func (t *OpenTelemetryTracer) RecordError(ctx context.Context, module string, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(attribute.String("groupage.module", module)))
	span.SetStatus(codes.Error, err.Error())
}

// RecordEvent records an event in the current span.
func (t *OpenTelemetryTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	attrs := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		switch value := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, value))
		case bool:
			attrs = append(attrs, attribute.Bool(k, value))
		case int:
			attrs = append(attrs, attribute.Int(k, value))
		case float64:
			attrs = append(attrs, attribute.Float64(k, value))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", value)))
		}
	}
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)
