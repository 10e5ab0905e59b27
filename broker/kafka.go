package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"tradingfloor/errs"
	"tradingfloor/events"
)

const (
	headerKind        = "kind"
	headerContentType = "content-type"
)

// NewSyncProducer builds a producer that waits for every in-sync replica and
// retries the connection while the cluster comes up.
func NewSyncProducer(ctx context.Context, brokers []string, logger *zap.Logger) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	// Same session, same partition: consumers see a session's events in order.
	config.Producer.Partitioner = sarama.NewHashPartitioner

	var (
		prod sarama.SyncProducer
		err  error
	)
	for i := 0; i < 10; i++ {
		prod, err = sarama.NewSyncProducer(brokers, config)
		if err == nil {
			return prod, nil
		}
		logger.Warn("waiting for kafka", zap.Strings("brokers", brokers), zap.Int("attempt", i+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, fmt.Errorf("failed to start producer after retries: %w", err)
}

// KafkaSink publishes committed events to a topic, keyed by session id.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
	codec    Codec
}

func NewKafkaSink(producer sarama.SyncProducer, topic string, codec Codec) *KafkaSink {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &KafkaSink{producer: producer, topic: topic, codec: codec}
}

// Publish blocks until the broker acknowledges the message.
func (k *KafkaSink) Publish(_ context.Context, e events.Event) error {
	value, err := k.codec.Encode(e)
	if err != nil {
		return errs.Wrap(errs.PublishFailed, err, "encode %s #%d", e.Kind, e.Seq)
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(e.SessionID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte(headerKind), Value: []byte(e.Kind)},
			{Key: []byte(headerContentType), Value: []byte(k.codec.ContentType())},
		},
	}
	if _, _, err := k.producer.SendMessage(msg); err != nil {
		return errs.Wrap(errs.PublishFailed, err, "produce to %s (session=%s)", k.topic, e.SessionID)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.producer.Close()
}
