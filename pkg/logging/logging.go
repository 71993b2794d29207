// Package logging provides the structured logger used across vine.
// The interface mirrors the chained style used by our other services
// (WithContext/WithFields/WithError), backed by zap.
package logging

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/vine/pkg/tenant"
)

// Logger is the structured logger interface used throughout the service
type Logger interface {
	WithContext(ctx context.Context) Logger
	WithFields(fields map[string]any) Logger
	WithError(err error) Logger
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

type zapLogger struct {
	base *zap.Logger
}

// Options controls logger construction
type Options struct {
	Level      string
	PrettyLogs bool
	AppName    string
}

// New creates a zap-backed Logger
func New(opts Options) (Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(opts.Level); err != nil {
		level = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if opts.PrettyLogs {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	if opts.AppName != "" {
		base = base.With(zap.String("app", opts.AppName))
	}

	return &zapLogger{base: base}, nil
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() Logger {
	return &zapLogger{base: zap.NewNop()}
}

func (l *zapLogger) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		return l
	}
	if tenantID := tenant.GetTenantID(ctx); tenantID != "" {
		return &zapLogger{base: l.base.With(zap.String("tenant_id", tenantID))}
	}
	return l
}

func (l *zapLogger) WithFields(fields map[string]any) Logger {
	if len(fields) == 0 {
		return l
	}
	zapFields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zapFields = append(zapFields, zap.Any(k, v))
	}
	return &zapLogger{base: l.base.With(zapFields...)}
}

func (l *zapLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return &zapLogger{base: l.base.With(zap.Error(err))}
}

func (l *zapLogger) Debug(msg string) { l.base.Debug(msg) }
func (l *zapLogger) Info(msg string)  { l.base.Info(msg) }
func (l *zapLogger) Warn(msg string)  { l.base.Warn(msg) }
func (l *zapLogger) Error(msg string) { l.base.Error(msg) }
