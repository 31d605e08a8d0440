// Package logger wraps zap with the process-wide logger used by the
// storage core. Call Init once at startup; components receive the logger
// by reference and tests pass zap.NewNop().
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger configuration.
type Config struct {
	Level       string
	Environment string // "production" uses JSON encoding, anything else console
}

var log = zap.NewNop()

// Init builds the process logger from config.
func Init(cfg Config) error {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info", "":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		return fmt.Errorf("unknown log level %q", cfg.Level)
	}

	var zc zap.Config
	if cfg.Environment == "production" {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	built, err := zc.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	log = built
	return nil
}

// Get returns the process logger. Safe before Init; returns a nop logger.
func Get() *zap.Logger {
	return log
}

// Sync flushes buffered log entries. Call on shutdown.
func Sync() {
	_ = log.Sync()
}
