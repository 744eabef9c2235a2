package audit

import (
	"context"

	"hybrid_chat/internal/model"
	"hybrid_chat/internal/utils/log"

	"go.uber.org/zap"
)

// LogSink writes audit records to the process logger. Secrets are logged in
// full; this is a demonstration relay.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(_ context.Context, rec *model.AuditRecord) error {
	l := s.logger
	if l == nil {
		l = log.L()
	}
	l.Info("audit",
		zap.String("kind", string(rec.Kind)),
		zap.Any("fields", rec.Fields),
		zap.Time("created_at", rec.CreatedAt),
	)
	return nil
}
