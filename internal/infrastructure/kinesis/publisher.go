package kinesis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
)

// API is the slice of the Kinesis client the publisher uses.
type API interface {
	PutRecord(ctx context.Context, params *kinesis.PutRecordInput, optFns ...func(*kinesis.Options)) (*kinesis.PutRecordOutput, error)
}

// envelope wraps an outbox payload with its routing metadata. Kinesis has
// no topics, so everything rides one stream and consumers dispatch on
// EventType.
type envelope struct {
	EventType string          `json:"event_type"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
}

// Publisher is the Kinesis transport for the outbox relay. The partition
// key is the aggregate ID, so events for one aggregate stay ordered within
// a shard.
type Publisher struct {
	client API
	stream string
}

func NewPublisher(client API, stream string) *Publisher {
	return &Publisher{client: client, stream: stream}
}

func (p *Publisher) Send(ctx context.Context, topic, key string, payload []byte) error {
	data, err := json.Marshal(envelope{
		EventType: topic,
		Key:       key,
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("marshal kinesis envelope: %w", err)
	}

	_, err = p.client.PutRecord(ctx, &kinesis.PutRecordInput{
		StreamName:   aws.String(p.stream),
		PartitionKey: aws.String(key),
		Data:         data,
	})
	if err != nil {
		return fmt.Errorf("put record to %s: %w", p.stream, err)
	}
	return nil
}
