package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
)

// DefaultSubjectPrefix is used when no prefix is configured
const DefaultSubjectPrefix = "expense"

// Publisher is the slice of *nats.Conn the notifier needs
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSConfig holds connection settings
type NATSConfig struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
}

// Connect dials NATS with reconnect handling that logs through logger
func Connect(cfg NATSConfig, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", cfg.URL, err)
	}
	logger.Info("NATS connection established", zap.String("url", conn.ConnectedUrl()))
	return conn, nil
}

// NATSNotifier publishes each event as JSON on
// <prefix>.<claim|step>.<to status>, e.g. expense.claim.approved
type NATSNotifier struct {
	pub    Publisher
	prefix string
	logger *zap.Logger
}

// NewNATSNotifier creates a notifier on top of pub
func NewNATSNotifier(pub Publisher, prefix string, logger *zap.Logger) *NATSNotifier {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSNotifier{pub: pub, prefix: prefix, logger: logger}
}

// Subject returns the subject evt is published on
func (n *NATSNotifier) Subject(evt *event.Event) string {
	kind := "claim"
	if evt.Entity == entity.EntityApprovalStep {
		kind = "step"
	}
	return n.prefix + "." + kind + "." + strings.ToLower(evt.ToStatus)
}

// Handle implements dispatcher.Handler
func (n *NATSNotifier) Handle(_ context.Context, evt *event.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", evt.ID, err)
	}

	subject := n.Subject(evt)
	if err := n.pub.Publish(subject, data); err != nil {
		n.logger.Error("Failed to publish event",
			zap.String("subject", subject),
			zap.String("event_id", evt.ID),
			zap.Int64("claim_id", evt.ClaimID),
			zap.Error(err))
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

var _ Publisher = (*nats.Conn)(nil)
