package logger

import (
	"context"
	"time"

	"gitlab.com/timkado/api/leads-router/internal/identity"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process-wide logger. Tests replace it with zaptest loggers.
var Log = zap.NewNop()

// Initialize builds the JSON production logger at the given level.
func Initialize(level string) error {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zap.InfoLevel
	}

	utcTime := func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}

	config := zap.Config{
		Level:    zap.NewAtomicLevelAt(zapLevel),
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     utcTime,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	built, err := config.Build(zap.AddCaller())
	if err != nil {
		return err
	}
	Log = built.With(zap.String("service", "leads-router"))
	return nil
}

// WithLogger attaches a scoped logger to the context.
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the scoped logger, or the global one, enriched with
// the request id and the acting operator when the context carries them.
func FromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return Log
	}

	base := Log
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		base = l
	}

	var fields []zap.Field
	if requestID, err := identity.RequestIDFromContext(ctx); err == nil {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if id, err := identity.FromContext(ctx); err == nil {
		fields = append(fields, zap.Uint("operator_id", id.OperatorID))
	}
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// Sync flushes buffered entries.
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}

type contextKey int

const (
	loggerKey contextKey = iota
)
