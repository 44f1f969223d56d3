package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/learnwatch/learnwatch/pkg/diff"
	"github.com/learnwatch/learnwatch/pkg/errkind"
)

// MessageWriter is the subset of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the JSON value published for each change.
type Event struct {
	diff.Change
	Text string `json:"text"`
}

// Kafka publishes change events to a topic, keyed by course id so that one
// course's events stay ordered within a partition.
type Kafka struct {
	topic  string
	writer MessageWriter
}

var _ ChangeSink = (*Kafka)(nil)

// NewKafka builds a sink writing to topic on brokers.
func NewKafka(brokers []string, topic string) *Kafka {
	return NewKafkaWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}, topic)
}

// NewKafkaWithWriter builds a sink around an existing writer.
func NewKafkaWithWriter(w MessageWriter, topic string) *Kafka {
	return &Kafka{topic: topic, writer: w}
}

func (k *Kafka) Name() string { return "kafka" }

// Send publishes a bare text event.
func (k *Kafka) Send(ctx context.Context, text string) error {
	return k.write(ctx, nil, map[string]string{"text": text})
}

// SendChange publishes c together with its rendered text.
func (k *Kafka) SendChange(ctx context.Context, c diff.Change, text string) error {
	return k.write(ctx, []byte(c.CourseID), Event{Change: c, Text: text})
}

func (k *Kafka) write(ctx context.Context, key []byte, v interface{}) error {
	value, err := json.Marshal(v)
	if err != nil {
		return errkind.E(errkind.Delivery, "kafka", fmt.Errorf("failed to marshal message: %w", err))
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Topic: k.topic,
		Key:   key,
		Value: value,
	})
	if err != nil {
		return errkind.E(errkind.Delivery, "kafka", fmt.Errorf("failed to write message: %w", err))
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
