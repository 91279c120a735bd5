// Package logging adapts zap to the small key/value logger interface used by
// the core service.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const callerSkipFrames = 1

// Logger wraps a zap SugaredLogger. It satisfies core.Logger.
type Logger struct {
	sugar *zap.SugaredLogger
}

// New builds a JSON production logger at the given level (debug, info, warn,
// error). An empty level means info.
func New(level string) (*Logger, zap.AtomicLevel, error) {
	atomic, err := parseLevel(level)
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = atomic
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	built, err := cfg.Build(zap.AddCallerSkip(callerSkipFrames))
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("build logger: %w", err)
	}
	return &Logger{sugar: built.Sugar().Named("mealcore")}, atomic, nil
}

// FromZap wraps an existing zap logger.
func FromZap(l *zap.Logger) *Logger {
	if l == nil {
		return &Logger{}
	}
	return &Logger{sugar: l.WithOptions(zap.AddCallerSkip(callerSkipFrames)).Sugar()}
}

func parseLevel(level string) (zap.AtomicLevel, error) {
	if strings.TrimSpace(level) == "" {
		return zap.NewAtomicLevelAt(zapcore.InfoLevel), nil
	}
	parsed, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zap.AtomicLevel{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return zap.NewAtomicLevelAt(parsed), nil
}

func (l *Logger) s() *zap.SugaredLogger {
	if l == nil || l.sugar == nil {
		return zap.NewNop().Sugar()
	}
	return l.sugar
}

// Debug logs at debug level with alternating key/value pairs.
func (l *Logger) Debug(msg string, args ...any) { l.s().Debugw(msg, args...) }

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) { l.s().Infow(msg, args...) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) { l.s().Warnw(msg, args...) }

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) { l.s().Errorw(msg, args...) }

// With returns a child logger carrying the given fields.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{sugar: l.s().With(args...)}
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	if l == nil || l.sugar == nil {
		return nil
	}
	return l.sugar.Sync()
}
