package delivery

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"estateflow/notification"
)

// Writer is the subset of kafka.Writer used here.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher appends every notification to a topic keyed by recipient,
// so per-user order is kept within a partition.
type KafkaPublisher struct {
	writer Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}}
}

func NewKafkaPublisherWithWriter(w Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Deliver(ctx context.Context, d notification.Delivery) error {
	payload, err := encode(d.Notification)
	if err != nil {
		return fmt.Errorf("kafka: encode: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(d.Notification.UserID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "purpose", Value: []byte(d.Notification.Purpose)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
