// Package notify delivers run reports and challenge alerts to external channels.
package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Message is a text notification with an optional image attachment (a file path).
type Message struct {
	Text       string
	Attachment string
}

// DeliveryResult describes what a sink did with a message.
type DeliveryResult struct {
	Channel   string
	Delivered bool
	Detail    string
}

// Sink is the notification capability. A failed delivery is reported, never fatal to a run.
type Sink interface {
	Send(ctx context.Context, msg Message) (DeliveryResult, error)
}

// ErrNotConfigured is returned by sinks that lack credentials.
var ErrNotConfigured = errors.New("notify: channel not configured")

// DeliveryError is the NotificationDeliveryError signal.
type DeliveryError struct {
	Channel string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("notify %s: delivery failed: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// SendLogged sends msg and logs (but otherwise swallows) any delivery failure.
func SendLogged(ctx context.Context, sink Sink, msg Message, logger *zap.Logger) DeliveryResult {
	res, err := sink.Send(ctx, msg)
	if err != nil {
		logger.Warn("Notification was not delivered", zap.String("channel", res.Channel), zap.Error(err))
	}
	return res
}

// -- Log Sink --

// LogSink writes every message to the structured log. It always succeeds.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink that logs messages at info level.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("notify_log")}
}

func (s *LogSink) Send(ctx context.Context, msg Message) (DeliveryResult, error) {
	fields := []zap.Field{zap.String("text", msg.Text)}
	if msg.Attachment != "" {
		fields = append(fields, zap.String("attachment", msg.Attachment))
	}
	s.logger.Info("Notification", fields...)
	return DeliveryResult{Channel: "log", Delivered: true}, nil
}

// -- Multi Sink --

// Multi fans a message out to every sink. It reports delivered if at least one sink
// delivered, and joins the errors of those that did not.
type Multi []Sink

func (m Multi) Send(ctx context.Context, msg Message) (DeliveryResult, error) {
	out := DeliveryResult{Channel: "multi"}
	var errs []error
	for _, s := range m {
		res, err := s.Send(ctx, msg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if res.Delivered {
			out.Delivered = true
		}
	}
	return out, errors.Join(errs...)
}
