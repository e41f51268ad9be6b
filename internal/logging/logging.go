// Package logging builds the process logger: zap does the encoding, and
// library code sees it as a *slog.Logger through logr.
package logging

import (
	"log/slog"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a slog logger backed by zap and a function that flushes it.
func New(level, format string) (*slog.Logger, func() error, error) {
	zl, err := build(level, format, nil)
	if err != nil {
		return nil, nil, err
	}
	return FromZap(zl), zl.Sync, nil
}

// FromZap wraps zl for slog callers.
func FromZap(zl *zap.Logger) *slog.Logger {
	return slog.New(logr.ToSlogHandler(zapr.NewLogger(zl)))
}

func build(level, format string, outputs []string) (*zap.Logger, error) {
	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Sampling = nil
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	if len(outputs) > 0 {
		cfg.OutputPaths = outputs
	}
	return cfg.Build(zap.AddCaller())
}

// parseLevel maps names to zap levels. slog.LevelDebug reaches zap through
// logr as V(4), which zapr logs at zap level -4, so debug opens up to that.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.Level(-4)
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
