package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process-wide structured logger. It defaults to production
// settings so library code can log before Init runs.
var Logger = zap.Must(zap.NewProduction())

// Init replaces the global logger according to the CLI flags.
func Init(debug, quiet bool) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	if quiet {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	}
	Logger = zap.Must(cfg.Build())
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	_ = Logger.Sync()
}
