package logger

import "go.uber.org/fx"

// Module is an Fx module that routes Fx's own log events through the engine logger.
var Module = fx.Options(
	fx.WithLogger(NewFxLoggerAdapter),
)
