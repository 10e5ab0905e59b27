package broker

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"tradingfloor/events"
)

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewReader returns a consumer-group reader for the event topic.
func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
}

// Consumer decodes events from a topic and hands them to a handler. A message
// is committed once handled, or once it is known to be undecodable.
type Consumer struct {
	reader   MessageReader
	codec    Codec
	logger   *zap.Logger
	attempts int
	backoff  time.Duration
}

func NewConsumer(reader MessageReader, codec Codec, logger *zap.Logger) *Consumer {
	if codec == nil {
		codec = JSONCodec{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{reader: reader, codec: codec, logger: logger, attempts: 3, backoff: 500 * time.Millisecond}
}

// Run consumes until ctx is cancelled. A handler that keeps failing is
// logged and the message skipped so one poison record cannot stall the topic.
func (c *Consumer) Run(ctx context.Context, handle func(context.Context, events.Event) error) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		log := c.logger.With(zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset))

		e, err := c.codec.Decode(msg.Value)
		if err != nil {
			log.Error("undecodable event", zap.Error(err), zap.ByteString("value", msg.Value))
		} else if err := c.handle(ctx, e, handle); err != nil {
			log.Error("event dropped after retries",
				zap.String("session", e.SessionID),
				zap.Int64("seq", e.Seq),
				zap.String("kind", string(e.Kind)),
				zap.Error(err))
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (c *Consumer) handle(ctx context.Context, e events.Event, handle func(context.Context, events.Event) error) error {
	var err error
	for i := 0; i < c.attempts; i++ {
		if err = handle(ctx, e); err == nil {
			return nil
		}
		if i == c.attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff):
		}
	}
	return err
}
