package auditsink

import (
	"context"

	goGate "github.com/MrEthical07/goGate"
	"go.uber.org/zap"
)

// ZapSink writes audit events as structured log entries. Denials log at
// warn, everything else at info.
type ZapSink struct {
	logger *zap.Logger
}

var _ goGate.AuditSink = (*ZapSink)(nil)

func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.Named("audit")}
}

func (s *ZapSink) Emit(_ context.Context, event goGate.AuditEvent) {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", event.EventType),
		zap.Time("timestamp", event.Timestamp),
		zap.Bool("success", event.Success),
	}
	if event.RequestID != "" {
		fields = append(fields, zap.String("request_id", event.RequestID))
	}
	if event.IdentityID != 0 {
		fields = append(fields, zap.Int64("identity_id", event.IdentityID))
	}
	if event.Endpoint != "" {
		fields = append(fields, zap.String("endpoint", event.Endpoint))
	}
	if event.Client != "" {
		fields = append(fields, zap.String("client", event.Client))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
	}
	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", event.Metadata))
	}

	if event.Success {
		s.logger.Info("audit", fields...)
		return
	}
	s.logger.Warn("audit", fields...)
}
