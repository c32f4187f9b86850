package statemachine

import (
	"context"

	"github.com/goliatone/go-logger/glog"
)

var (
	_ Logger       = GlogLogger{}
	_ FieldsLogger = GlogLogger{}
)

// GlogLogger adapts a go-logger glog.Logger to the runtime Logger contract.
// glog's derivation methods return glog's own interface, so every derived
// logger is re-wrapped.
type GlogLogger struct {
	logger glog.Logger
}

// NewGlogLogger wraps a glog logger. A nil logger falls back to FmtLogger.
func NewGlogLogger(logger glog.Logger) Logger {
	if logger == nil {
		return NewFmtLogger(nil)
	}
	return GlogLogger{logger: logger}
}

func (l GlogLogger) Trace(msg string, args ...any) { l.logger.Trace(msg, args...) }
func (l GlogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l GlogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l GlogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l GlogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l GlogLogger) Fatal(msg string, args ...any) { l.logger.Fatal(msg, args...) }

func (l GlogLogger) WithContext(ctx context.Context) Logger {
	return GlogLogger{logger: l.logger.WithContext(ctx)}
}

func (l GlogLogger) WithFields(fields map[string]any) Logger {
	if fl, ok := l.logger.(glog.FieldsLogger); ok {
		return GlogLogger{logger: fl.WithFields(fields)}
	}
	return l
}
