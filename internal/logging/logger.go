package logging

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type loggerKey struct{}
type requestIDKey struct{}

const requestID = "request_id"

// Logger wraps zap and adds the request id found in the context to every entry.
type Logger struct {
	l *zap.Logger
}

func New(zapLogger *zap.Logger) *Logger {
	return &Logger{zapLogger}
}

// Build creates a logger for the given level. Development mode uses the
// console encoder.
func Build(level string, development bool) (*Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return New(zl), nil
}

// Nop discards everything.
func Nop() *Logger {
	return New(zap.NewNop())
}

func ContextWithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

func GetFromContext(ctx context.Context) (*Logger, bool) {
	logger, ok := ctx.Value(loggerKey{}).(*Logger)
	return logger, ok
}

func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap().Debug(msg, fieldsWithRequestID(ctx, fields)...)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap().Info(msg, fieldsWithRequestID(ctx, fields)...)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap().Warn(msg, fieldsWithRequestID(ctx, fields)...)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap().Error(msg, fieldsWithRequestID(ctx, fields)...)
}

func (l *Logger) Sync() error {
	return l.zap().Sync()
}

// zap tolerates a nil receiver so zero-value engines can log.
func (l *Logger) zap() *zap.Logger {
	if l == nil || l.l == nil {
		return zap.NewNop()
	}
	return l.l
}

func fieldsWithRequestID(ctx context.Context, fields []zap.Field) []zap.Field {
	if id, ok := RequestID(ctx); ok {
		fields = append(fields, zap.String(requestID, id))
	}
	return fields
}
