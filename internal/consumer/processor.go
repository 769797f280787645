// Package consumer reads event log notifications from Kafka and hands them to the projection listener.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"example.com/healthassistant/internal/events"
	"example.com/healthassistant/internal/logger"
	"example.com/healthassistant/internal/retry"
)

// NotificationHeader names the Kafka header carrying the notification type.
const NotificationHeader = "notification_type"

// ErrInvalidNotification marks a record the handler can never process. Such records are
// committed and skipped.
var ErrInvalidNotification = errors.New("invalid notification")

// DefaultRetryPolicy paces handler retries while a notification keeps failing.
func DefaultRetryPolicy() retry.Policy {
	return retry.Policy{BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second, Jitter: 0.2}
}

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded notifications.
type Handler interface {
	Handle(context.Context, Message) error
}

// Message is a decoded notification record.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Type      string
	DeviceID  string
	Payload   json.RawMessage
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(l *zap.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithRetryPolicy overrides the pacing of handler retries.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(p *Processor) {
		p.policy = policy
	}
}

// Processor pulls messages from Kafka, decodes them, and dispatches to a Handler.
type Processor struct {
	reader  Reader
	handler Handler
	policy  retry.Policy
	logger  *zap.Logger
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:  reader,
		handler: handler,
		policy:  DefaultRetryPolicy(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("consumer")
	return p
}

// Run processes messages until the context is cancelled. Decode failures and invalid
// notifications are committed so a malformed record cannot block the partition. Any other
// handler failure is retried in place: nothing after the record is fetched until it succeeds,
// and a shutdown during the retries leaves it uncommitted for the next consumer.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Warn("fetch failed", zap.Error(err))
			continue
		}

		notification, decodeErr := decodeMessage(msg)
		if decodeErr != nil {
			p.logger.Error("decode failed",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(decodeErr),
			)
			recordDecodeError(msg.Topic)
			if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
				p.logger.Warn("commit after decode failure", zap.Error(commitErr))
			}
			continue
		}

		if handleErr := p.handle(ctx, notification); handleErr != nil {
			if !errors.Is(handleErr, ErrInvalidNotification) {
				return handleErr
			}
			p.logger.Error("skipping invalid notification",
				zap.String("type", notification.Type),
				zap.Int64("offset", notification.Offset),
				logger.Device(notification.DeviceID),
				zap.Error(handleErr),
			)
			recordHandlerError(notification)
			if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
				p.logger.Warn("commit after invalid notification", zap.Error(commitErr))
			}
			continue
		}

		if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
			p.logger.Warn("commit failed", zap.Error(commitErr))
		} else {
			recordProcessed(notification)
		}
	}
}

func (p *Processor) handle(ctx context.Context, msg Message) error {
	transient := func(err error) bool { return !errors.Is(err, ErrInvalidNotification) }
	return retry.Until(ctx, p.policy, transient, func(ctx context.Context) error {
		return p.handler.Handle(ctx, msg)
	}, func(attempt int, err error, wait time.Duration) {
		recordHandlerError(msg)
		p.logger.Error("handler failed, retrying",
			zap.String("type", msg.Type),
			zap.Int64("offset", msg.Offset),
			logger.Device(msg.DeviceID),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
}

func decodeMessage(msg kafka.Message) (Message, error) {
	if len(msg.Value) == 0 {
		return Message{}, errors.New("empty payload")
	}

	notificationType, ok := headerValue(msg, NotificationHeader)
	if !ok {
		notificationType = []byte(msg.Topic)
	}
	switch t := string(notificationType); t {
	case events.NotificationEventsStored, events.NotificationCompensationsStored:
	default:
		return Message{}, fmt.Errorf("unknown notification type %q", t)
	}
	if !json.Valid(msg.Value) {
		return Message{}, errors.New("payload is not valid JSON")
	}

	return Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		Type:      string(notificationType),
		DeviceID:  string(msg.Key),
		Payload:   json.RawMessage(append([]byte(nil), msg.Value...)),
	}, nil
}

func headerValue(msg kafka.Message, key string) ([]byte, bool) {
	for _, header := range msg.Headers {
		if header.Key == key {
			return header.Value, true
		}
	}
	return nil, false
}
