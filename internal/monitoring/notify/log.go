package notify

import (
	"context"
	"log/slog"

	"verity/internal/monitoring"
)

// Log writes alerts to the structured log. It is the fallback sink when no
// broker is configured.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Notify(ctx context.Context, alert monitoring.Alert) error {
	l.logger.WarnContext(ctx, "monitoring alert",
		"alert_id", alert.ID,
		"entity_id", alert.EntityID,
		"severity", alert.Severity,
		"source", alert.Change.ServiceName,
		"change_type", alert.Change.Type,
		"message", alert.Message,
	)
	return nil
}
