package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/logging"
)

// ErrNoBrokers is returned when a Kafka publisher is built without brokers.
var ErrNoBrokers = errors.New("no kafka brokers configured")

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	Acks         string        `yaml:"acks"`
	Compression  string        `yaml:"compression"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	Async        bool          `yaml:"async"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultKafkaConfig returns producer defaults.
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Topic:        DefaultTopic,
		Acks:         "1",
		Compression:  "snappy",
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
		WriteTimeout: 5 * time.Second,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic keyed by conversation id.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger logging.Logger
}

// NewKafkaPublisher creates a publisher for config.
func NewKafkaPublisher(config KafkaConfig, logger logging.Logger) (*KafkaPublisher, error) {
	if len(config.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if config.Topic == "" {
		config.Topic = DefaultTopic
	}
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.With(logging.String("component", "events"))

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Topic:                  config.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           config.BatchTimeout,
		WriteTimeout:           config.WriteTimeout,
		Async:                  config.Async,
		Compression:            compressionCodec(config.Compression),
		RequiredAcks:           requiredAcks(config.Acks),
		AllowAutoTopicCreation: true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("failed to deliver events", logging.Int("count", len(messages)), logging.Err(err))
			}
		},
	}

	return newKafkaPublisher(writer, config.Topic, logger), nil
}

func newKafkaPublisher(writer messageWriter, topic string, logger logging.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, topic: topic, logger: logger}
}

// Publish writes the event. With an async writer it returns once the message is queued.
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	value, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.ConversationID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID)},
			{Key: "timestamp", Value: []byte(event.Timestamp.Format(time.RFC3339Nano))},
		},
	}
	if event.RunID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "run_id", Value: []byte(event.RunID)})
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func compressionCodec(compression string) kafka.Compression {
	switch compression {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return 0
	}
}

func requiredAcks(acks string) kafka.RequiredAcks {
	switch acks {
	case "0":
		return kafka.RequireNone
	case "all", "-1":
		return kafka.RequireAll
	default:
		return kafka.RequireOne
	}
}
