// Package logging builds the zap loggers used by the client and the server.
package logging

import (
	"strings"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level names accepted in configuration files.
const (
	LevelTrace    = "trace"
	LevelDebug    = "debug"
	LevelInfo     = "info"
	LevelWarn     = "warn"
	LevelError    = "error"
	LevelCritical = "critical"
	LevelOff      = "off"
)

// ParseLevel maps a level name to a zap level. "off" reports ok=false.
func ParseLevel(name string) (lvl zapcore.Level, enabled bool, err error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case LevelTrace, LevelDebug:
		return zapcore.DebugLevel, true, nil
	case "", LevelInfo:
		return zapcore.InfoLevel, true, nil
	case LevelWarn, "warning":
		return zapcore.WarnLevel, true, nil
	case LevelError:
		return zapcore.ErrorLevel, true, nil
	case LevelCritical:
		return zapcore.ErrorLevel, true, nil
	case LevelOff:
		return zapcore.InfoLevel, false, nil
	}
	return zapcore.InfoLevel, false, errors.Errorf("unknown log level %q", name)
}

// New creates a console logger writing to stderr, or to outputPaths when given.
func New(level string, outputPaths ...string) (*zap.Logger, error) {
	lvl, enabled, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return zap.NewNop(), nil
	}

	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Sampling = nil
	if len(outputPaths) > 0 {
		cfg.OutputPaths = outputPaths
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return logger, nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
