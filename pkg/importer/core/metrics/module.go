package metrics

import "go.uber.org/fx"

// Module is an Fx module that provides no-op metric and trace recorders.
// Applications wanting real backends replace these with the implementations
// from infrastructure/metrics.
var Module = fx.Options(
	fx.Provide(NewNoOpMetricRecorder),
	fx.Provide(NewNoOpTracer),
)
