package core

import (
	"context"

	"go.uber.org/zap"
)

// ZapLogger adapts a zap sugared logger to the service Logger interface.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger wraps the supplied zap logger. A nil logger wraps zap.NewNop().
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{sugar: logger.Sugar()}
}

func (l *ZapLogger) Debug(msg string, kv ...any) { l.sugar.Debugw(msg, kv...) }
func (l *ZapLogger) Info(msg string, kv ...any)  { l.sugar.Infow(msg, kv...) }
func (l *ZapLogger) Warn(msg string, kv ...any)  { l.sugar.Warnw(msg, kv...) }
func (l *ZapLogger) Error(msg string, kv ...any) { l.sugar.Errorw(msg, kv...) }

// ZapAuditRecorder emits audit entries as structured log records, one line
// per operation, suitable for shipping to a log pipeline.
type ZapAuditRecorder struct {
	logger *zap.Logger
}

// NewZapAuditRecorder wraps the supplied zap logger. A nil logger wraps
// zap.NewNop().
func NewZapAuditRecorder(logger *zap.Logger) *ZapAuditRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapAuditRecorder{logger: logger}
}

// Record implements AuditRecorder.
func (r *ZapAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("entity", string(entry.Entity)),
		zap.String("entity_id", entry.EntityID),
		zap.String("action", string(entry.Action)),
		zap.String("status", string(entry.Status)),
		zap.Duration("duration", entry.Duration),
		zap.Time("timestamp", entry.Timestamp),
	}
	if entry.Actor != "" {
		fields = append(fields, zap.String("actor", string(entry.Actor)))
	}
	if entry.Error != "" {
		fields = append(fields, zap.String("error", entry.Error))
	}
	if len(entry.Details) > 0 {
		fields = append(fields, zap.Any("details", entry.Details))
	}
	if entry.Status == AuditStatusError {
		r.logger.Warn("audit", fields...)
		return
	}
	r.logger.Info("audit", fields...)
}
