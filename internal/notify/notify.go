// Package notify fans structured recovery summaries out to the configured
// channels. Delivery failures are logged and never block the caller.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestd/internal/logging"
)

// Message is the structured summary sent after recovery completes.
type Message struct {
	PlanID          string    `json:"plan_id"`
	FailedStep      string    `json:"failed_step"`
	RecoveryOutcome string    `json:"recovery_outcome"`
	UserImpact      string    `json:"user_impact"`
	RootCause       string    `json:"root_cause"`
	NextAction      string    `json:"next_action"`
	Page            bool      `json:"page"`
	SentAt          time.Time `json:"sent_at"`
}

// Notifier delivers a message to one channel.
type Notifier interface {
	// Name identifies the channel for logging.
	Name() string

	// Send delivers the message.
	Send(ctx context.Context, msg Message) error
}

// Fanout delivers to every channel; a channel failure is logged and the
// remaining channels still receive the message.
type Fanout struct {
	logger   *logging.Logger
	channels []Notifier
}

// NewFanout creates a fan-out over the given channels.
func NewFanout(logger *logging.Logger, channels ...Notifier) *Fanout {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Fanout{logger: logger.Named("notify"), channels: channels}
}

// Send delivers msg to all channels and reports how many deliveries
// succeeded. It never returns an error: recovery completion must not hinge
// on notification transport health.
func (f *Fanout) Send(ctx context.Context, msg Message) int {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	delivered := 0
	for _, ch := range f.channels {
		if err := ch.Send(ctx, msg); err != nil {
			f.logger.Warn(ctx, "notification delivery failed",
				zap.String("channel", ch.Name()),
				zap.String("plan_id", msg.PlanID),
				zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}

// NATSNotifier publishes messages to a NATS subject.
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
}

// NewNATSNotifier connects to the NATS server. Credentials are optional.
func NewNATSNotifier(url, subject, credentials string) (*NATSNotifier, error) {
	opts := []nats.Option{
		nats.Name("orchestd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
	}
	if credentials != "" {
		opts = append(opts, nats.UserCredentials(credentials))
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSNotifier{conn: conn, subject: subject}, nil
}

// Name implements Notifier.
func (n *NATSNotifier) Name() string { return "nats" }

// Send publishes the message as JSON.
func (n *NATSNotifier) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	// Flush bounded by the caller's context so a wedged server cannot
	// stall recovery.
	if err := n.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush notification: %w", err)
	}
	return nil
}

// Close drains the connection.
func (n *NATSNotifier) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}

// LogNotifier writes the summary to the daemon log. It is the fallback
// channel so operators always see recovery outcomes even with no
// messaging configured.
type LogNotifier struct {
	logger *logging.Logger
}

// NewLogNotifier creates the log channel.
func NewLogNotifier(logger *logging.Logger) *LogNotifier {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notify")}
}

// Name implements Notifier.
func (n *LogNotifier) Name() string { return "log" }

// Send implements Notifier.
func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	n.logger.Warn(ctx, "recovery notification",
		zap.String("plan_id", msg.PlanID),
		zap.String("failed_step", msg.FailedStep),
		zap.String("recovery_outcome", msg.RecoveryOutcome),
		zap.String("user_impact", msg.UserImpact),
		zap.String("root_cause", msg.RootCause),
		zap.String("next_action", msg.NextAction),
		zap.Bool("page", msg.Page))
	return nil
}
