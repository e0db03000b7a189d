// Package notify holds dispatcher hooks that forward lifecycle events out
// of the engine. Hooks run after commit and never affect the outcome of a
// decision.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/domain/event"
)

// LogNotifier writes each event as a structured log line
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Handle implements dispatcher.Handler
func (n *LogNotifier) Handle(_ context.Context, evt *event.Event) error {
	fields := []zap.Field{
		zap.String("event_id", evt.ID),
		zap.String("type", string(evt.Type)),
		zap.String("entity", string(evt.Entity)),
		zap.Int64("entity_id", evt.EntityID),
		zap.Int64("claim_id", evt.ClaimID),
		zap.String("from", evt.FromStatus),
		zap.String("to", evt.ToStatus),
		zap.String("correlation_id", evt.CorrelationID),
		zap.Time("at", evt.Timestamp),
	}
	if evt.ActorID != nil {
		fields = append(fields, zap.Int64("actor_id", *evt.ActorID))
	}
	n.logger.Info("Workflow transition", fields...)
	return nil
}
