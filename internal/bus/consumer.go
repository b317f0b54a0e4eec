package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Kay-cwc/dex-market-data-stream/internal/model"
	"github.com/Kay-cwc/dex-market-data-stream/internal/observability"
)

// MessageReader is the kafka-go reader surface the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Handler receives every successfully decoded feed.
type Handler func(ctx context.Context, topic string, feed model.Feed) error

// NewKafkaReader returns a group reader that starts from the earliest offset.
// Offsets are never committed, so every start replays the retained backlog.
func NewKafkaReader(brokers []string, topic, groupID string, logger *zap.Logger) *kafka.Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	sugar := logger.Sugar()
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			sugar.Errorf("kafka reader: "+msg, args...)
		}),
	})
}

// Consumer decodes feeds from a reader and hands them to a Handler.
type Consumer struct {
	reader  MessageReader
	codec   *Codec
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewConsumer wraps a reader and codec.
func NewConsumer(reader MessageReader, codec *Codec, logger *zap.Logger, metrics *observability.Metrics) (*Consumer, error) {
	if reader == nil {
		return nil, fmt.Errorf("message reader is nil")
	}
	if codec == nil {
		return nil, fmt.Errorf("codec is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{reader: reader, codec: codec, logger: logger, metrics: metrics}, nil
}

// Run consumes until ctx is cancelled or the reader fails. Empty or invalid
// payloads are logged and skipped.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	if handle == nil {
		return fmt.Errorf("handler is nil")
	}
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		feed, err := c.codec.Decode(ctx, msg.Value)
		if err != nil {
			reason := "decode_error"
			switch {
			case errors.Is(err, ErrEmptyPayload):
				reason = "empty_payload"
			case errors.Is(err, ErrInvalidFeed):
				reason = "invalid_feed"
			}
			c.metrics.RecordSkipped(reason)
			c.logger.Warn("skip message",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.String("reason", reason),
				zap.Error(err),
			)
			continue
		}

		if err := handle(ctx, msg.Topic, feed); err != nil {
			c.metrics.RecordSkipped("handler_error")
			c.logger.Warn("feed handler failed",
				zap.String("topic", msg.Topic),
				zap.String("symbol", feed.Symbol),
				zap.Error(err),
			)
		}
	}
}

// Close closes the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
