// Package logging configures the structured logger shared by the store
// and its CLI front-end.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production zap logger, or a development logger with
// human-readable console output when debug is true.
func New(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// Nop returns a logger that discards everything, for tests and library
// callers that haven't configured logging.
func Nop() *zap.Logger {
	return zap.NewNop()
}
