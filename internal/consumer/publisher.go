package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"

	"example.com/healthassistant/internal/events"
)

// Writer is the subset of kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes notifications in the format the Processor decodes: the device id as the
// record key, the notification type as a header, and a JSON value.
type Publisher struct {
	newWriter func(topic string) Writer
	topics    map[string]string
	mu        sync.Mutex
	writers   map[string]Writer
}

// NewKafkaPublisher creates a Publisher writing each notification type to the topic of the
// same name on brokers.
func NewKafkaPublisher(brokers []string) *Publisher {
	return NewPublisher(func(topic string) Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Compression:  kafka.Snappy,
		}
	}, nil)
}

// NewPublisher creates a Publisher over newWriter. topics maps notification types to topic
// names; unmapped types use their own name.
func NewPublisher(newWriter func(topic string) Writer, topics map[string]string) *Publisher {
	return &Publisher{newWriter: newWriter, topics: topics, writers: make(map[string]Writer)}
}

// PublishEventsStored writes an EventsStored notification.
func (p *Publisher) PublishEventsStored(ctx context.Context, n events.EventsStored) error {
	return p.publish(ctx, events.NotificationEventsStored, n.DeviceID, n)
}

// PublishCompensationsStored writes a CompensationsStored notification.
func (p *Publisher) PublishCompensationsStored(ctx context.Context, n events.CompensationsStored) error {
	return p.publish(ctx, events.NotificationCompensationsStored, n.DeviceID, n)
}

func (p *Publisher) publish(ctx context.Context, notificationType, deviceID string, payload interface{}) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", notificationType, err)
	}
	msg := kafka.Message{
		Key:     []byte(deviceID),
		Value:   value,
		Headers: []kafka.Header{{Key: NotificationHeader, Value: []byte(notificationType)}},
	}
	return p.writerFor(notificationType).WriteMessages(ctx, msg)
}

func (p *Publisher) writerFor(notificationType string) Writer {
	topic := notificationType
	if mapped, ok := p.topics[notificationType]; ok {
		topic = mapped
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if writer, ok := p.writers[topic]; ok {
		return writer
	}
	writer := p.newWriter(topic)
	p.writers[topic] = writer
	return writer
}

// Close releases all writers.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for topic, writer := range p.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.writers, topic)
	}
	return firstErr
}
