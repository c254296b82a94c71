// Package logging wraps zap with context-aware, correlation-friendly loggers
// for the orchestration engine.
package logging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum enabled level ("debug", "info", "warn", "error").
	Level string
	// Format selects the stdout encoder: "json" or "console".
	Format string
	// Stdout enables the stdout core.
	Stdout bool
	// OTEL enables the OpenTelemetry log bridge when a provider is supplied.
	OTEL bool
	// Fields are constant fields attached to every entry.
	Fields map[string]string
}

// NewDefaultConfig returns production-ready defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "json",
		Stdout: true,
		Fields: map[string]string{"service": "orchestd"},
	}
}

// Validate checks the config for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if !c.Stdout && !c.OTEL {
		return errors.New("at least one output must be enabled (stdout or otel)")
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(c.Level)); err != nil {
		return fmt.Errorf("invalid level %q: %w", c.Level, err)
	}
	return nil
}

// Logger wraps zap with context-aware methods.
type Logger struct {
	zap    *zap.Logger
	config *Config
}

// NewLogger creates a logger from config.
// otelProvider can be nil to disable OTEL output.
func NewLogger(cfg *Config, otelProvider log.LoggerProvider) (*Logger, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var level zapcore.Level
	_ = level.UnmarshalText([]byte(cfg.Level))

	cores := make([]zapcore.Core, 0, 2)
	if cfg.Stdout {
		cores = append(cores, zapcore.NewCore(newEncoder(cfg.Format), zapcore.AddSync(os.Stdout), level))
	}
	if cfg.OTEL && otelProvider != nil {
		cores = append(cores, otelzap.NewCore("orchestd", otelzap.WithLoggerProvider(otelProvider)))
	}
	if len(cores) == 0 {
		return nil, errors.New("no log output available")
	}

	core := cores[0]
	if len(cores) > 1 {
		core = zapcore.NewTee(cores...)
	}

	zapLogger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if len(cfg.Fields) > 0 {
		fields := make([]zap.Field, 0, len(cfg.Fields))
		for k, v := range cfg.Fields {
			fields = append(fields, zap.String(k, v))
		}
		zapLogger = zapLogger.With(fields...)
	}

	return &Logger{zap: zapLogger, config: cfg}, nil
}

// NewNop returns a logger that discards everything. Useful in tests and as
// the constructor default.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}

// newEncoder creates a JSON or console encoder.
func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Debug(msg, append(ContextFields(ctx), fields...)...)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Info(msg, append(ContextFields(ctx), fields...)...)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Warn(msg, append(ContextFields(ctx), fields...)...)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Error(msg, append(ContextFields(ctx), fields...)...)
}

// With returns a child logger with constant fields attached.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{zap: l.zap.With(fields...), config: l.config}
}

// Named returns a child logger with the given name segment.
func (l *Logger) Named(name string) *Logger {
	return &Logger{zap: l.zap.Named(name), config: l.config}
}

// Underlying returns the wrapped *zap.Logger for libraries that require one.
func (l *Logger) Underlying() *zap.Logger {
	return l.zap
}

// Sync flushes buffered entries. Harmless stdout sync errors are ignored.
func (l *Logger) Sync() error {
	err := l.zap.Sync()
	if err != nil && isStdoutSyncError(err) {
		return nil
	}
	return err
}

// isStdoutSyncError reports whether err is the harmless EINVAL/ENOTTY that
// syncing stdout returns on Linux.
func isStdoutSyncError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EINVAL || errno == syscall.ENOTTY
	}
	return false
}

// Context correlation.

type planCtxKey struct{}
type stepCtxKey struct{}
type roleCtxKey struct{}

// WithPlanID attaches a plan id to the context for log correlation.
func WithPlanID(ctx context.Context, planID string) context.Context {
	return context.WithValue(ctx, planCtxKey{}, planID)
}

// WithStepID attaches a step id to the context for log correlation.
func WithStepID(ctx context.Context, stepID string) context.Context {
	return context.WithValue(ctx, stepCtxKey{}, stepID)
}

// WithRole attaches the acting role to the context for log correlation.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleCtxKey{}, role)
}

// ContextFields extracts correlation data from the context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if planID, ok := ctx.Value(planCtxKey{}).(string); ok && planID != "" {
		fields = append(fields, zap.String("plan.id", planID))
	}
	if stepID, ok := ctx.Value(stepCtxKey{}).(string); ok && stepID != "" {
		fields = append(fields, zap.String("step.id", stepID))
	}
	if role, ok := ctx.Value(roleCtxKey{}).(string); ok && role != "" {
		fields = append(fields, zap.String("role", role))
	}
	return fields
}
