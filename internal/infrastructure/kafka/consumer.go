package kafka

import (
	"context"
	"log"

	"github.com/segmentio/kafka-go"
)

type MessageHandler func(ctx context.Context, key, value []byte) error

// Consumer reads one topic inside a consumer group. Handler errors are
// logged and the message is skipped; delivery is at-least-once, so handlers
// must tolerate duplicates rather than the consumer blocking on one bad
// message.
type Consumer struct {
	reader *kafka.Reader
	topic  string
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, topic: topic}
}

func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	log.Printf("[Kafka] Consuming topic %s", c.topic)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Printf("[Kafka] Error reading from %s: %v", c.topic, err)
				continue
			}

			if err := handler(ctx, msg.Key, msg.Value); err != nil {
				log.Printf("[Kafka] Handler failed for %s key=%s: %v", c.topic, msg.Key, err)
			}
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
