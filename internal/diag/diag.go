// Package diag builds the structured diagnostics logger (zap) shared by
// the entry point, dispatcher, and engine code for everything that is not an
// audit event: reconnects, dropped messages, configuration warnings.
package diag

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger. debug raises the level to Debug; otherwise Info.
func New(debug bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "ts"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return config.Build()
}

// DispatchErrorLogger adapts a zap.Logger to cdp.Client's
// OnDispatchError(kind, err) hook, which the Command Router and Dispatcher
// call for every error kind named in spec §7 (MalformedMessage,
// UnmatchedReply, UnknownMethod).
func DispatchErrorLogger(logger *zap.Logger) func(kind string, err error) {
	return func(kind string, err error) {
		if kind == "UnknownMethod" {
			logger.Debug("cdp dispatch error", zap.String("kind", kind), zap.Error(err))
			return
		}
		logger.Warn("cdp dispatch error", zap.String("kind", kind), zap.Error(err))
	}
}
