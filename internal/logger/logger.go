// Package logger provides structured logging for the credential subsystem.
// It wraps zap behind package-level helpers so callers never hold a logger.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log  *zap.SugaredLogger
	once sync.Once
)

// Initialize sets up the global logger. Safe to call more than once; only the
// first call wins. Honors LOG_LEVEL (debug, info, warn, error) and LOG_FORMAT
// (json, console).
func Initialize() {
	once.Do(func() {
		cfg := zap.NewProductionConfig()
		if os.Getenv("LOG_FORMAT") == "console" {
			cfg = zap.NewDevelopmentConfig()
		}
		if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
			if parsed, err := zapcore.ParseLevel(lvl); err == nil {
				cfg.Level = zap.NewAtomicLevelAt(parsed)
			}
		}
		base, err := cfg.Build(zap.AddCallerSkip(1))
		if err != nil {
			base = zap.NewNop()
		}
		log = base.Sugar()
	})
}

func get() *zap.SugaredLogger {
	if log == nil {
		Initialize()
	}
	return log
}

// Debugw logs a debug message with key/value pairs.
func Debugw(msg string, keysAndValues ...interface{}) {
	get().Debugw(msg, keysAndValues...)
}

// Infow logs an info message with key/value pairs.
func Infow(msg string, keysAndValues ...interface{}) {
	get().Infow(msg, keysAndValues...)
}

// Warnw logs a warning with key/value pairs.
func Warnw(msg string, keysAndValues ...interface{}) {
	get().Warnw(msg, keysAndValues...)
}

// Errorw logs an error with key/value pairs.
func Errorw(msg string, keysAndValues ...interface{}) {
	get().Errorw(msg, keysAndValues...)
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	if log != nil {
		_ = log.Desugar().Sync()
	}
}
