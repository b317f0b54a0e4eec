package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Kay-cwc/dex-market-data-stream/internal/model"
)

// MessageWriter is the kafka-go writer surface the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns a synchronous writer. The hash balancer maps the
// constant message key to a single partition per topic.
func NewKafkaWriter(brokers []string, logger *zap.Logger) *kafka.Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	sugar := logger.Sugar()
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			sugar.Errorf("kafka writer: "+msg, args...)
		}),
	}
}

// Producer publishes encoded feeds.
type Producer struct {
	writer MessageWriter
	codec  *Codec
	logger *zap.Logger
}

// NewProducer wraps a writer and codec.
func NewProducer(writer MessageWriter, codec *Codec, logger *zap.Logger) (*Producer, error) {
	if writer == nil {
		return nil, fmt.Errorf("message writer is nil")
	}
	if codec == nil {
		return nil, fmt.Errorf("codec is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{writer: writer, codec: codec, logger: logger}, nil
}

// Prepare registers the writer schema for topic ahead of the first publish.
func (p *Producer) Prepare(ctx context.Context, topic string) error {
	id, err := p.codec.Register(ctx, topic)
	if err != nil {
		return err
	}
	p.logger.Info("feed schema registered", zap.String("subject", SubjectName(topic)), zap.Int("id", id))
	return nil
}

// Publish sends the complete feed to topic and waits for the broker ack.
func (p *Producer) Publish(ctx context.Context, topic string, feed model.Feed) error {
	payload, err := p.codec.Encode(ctx, topic, feed)
	if err != nil {
		return fmt.Errorf("encode feed %s: %w", feed.Symbol, err)
	}
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(MessageKey),
		Value: payload,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
