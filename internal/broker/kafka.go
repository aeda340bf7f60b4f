package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"storefront/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// HeaderEventType carries the event type so consumers can route without decoding the body
const HeaderEventType = "event-type"

// MessageWriter is the part of *kafka.Writer the producer uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageReader is the part of *kafka.Reader the consumer uses
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes JSON encoded events to a single topic
type Producer struct {
	writer MessageWriter
	topic  string
	logger *zap.Logger
}

// NewProducer dials brokers lazily; the first write opens the connection.
// Keys are hashed so every event of one order lands on the same partition.
func NewProducer(brokers []string, topic string) *Producer {
	return NewProducerWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}, topic)
}

// NewProducerWithWriter wraps an existing writer
func NewProducerWithWriter(writer MessageWriter, topic string) *Producer {
	return &Producer{writer: writer, topic: topic, logger: util.GetLogger()}
}

// Publish encodes event and writes it under key with the event type header set
func (p *Producer) Publish(ctx context.Context, key, eventType string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   body,
		Headers: []kafka.Header{{Key: HeaderEventType, Value: []byte(eventType)}},
		Time:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", eventType, p.topic, err)
	}

	p.logger.Debug("Event published",
		zap.String("topic", p.topic),
		zap.String("type", eventType),
		zap.String("key", key))
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer reads one topic as part of a consumer group and commits manually
type Consumer struct {
	reader      MessageReader
	topic       string
	logger      *zap.Logger
	maxAttempts int
	backoff     time.Duration
}

// NewConsumer joins groupID on topic. A new group starts from the oldest
// retained offset so no event published before the first deploy is skipped.
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	return NewConsumerWithReader(kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	}), topic)
}

// NewConsumerWithReader wraps an existing reader
func NewConsumerWithReader(reader MessageReader, topic string) *Consumer {
	return &Consumer{
		reader:      reader,
		topic:       topic,
		logger:      util.GetLogger(),
		maxAttempts: 5,
		backoff:     time.Second,
	}
}

// SetRetry changes how often a failing message is retried before it is skipped
func (c *Consumer) SetRetry(maxAttempts int, backoff time.Duration) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	c.maxAttempts = maxAttempts
	c.backoff = backoff
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// MessageHandler processes one fetched message
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// Consume fetches messages until ctx is cancelled. A message is committed
// once its handler succeeds; failures are retried with doubling backoff and,
// after the last attempt, left uncommitted.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Consumer started", zap.String("topic", c.topic))

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.Info("Consumer stopped", zap.String("topic", c.topic))
				return ctx.Err()
			}
			c.logger.Error("Fetch failed", zap.String("topic", c.topic), zap.Error(err))
			if !sleep(ctx, c.backoff) {
				return ctx.Err()
			}
			continue
		}

		if err := c.handle(ctx, handler, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("Giving up on message",
				zap.String("topic", c.topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, handler MessageHandler, msg kafka.Message) error {
	wait := c.backoff
	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err = handler(ctx, msg); err == nil {
			return nil
		}
		c.logger.Warn("Message handler failed",
			zap.Int("attempt", attempt),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		if attempt == c.maxAttempts || !sleep(ctx, wait) {
			break
		}
		wait *= 2
	}
	return err
}

// headerValue returns the first header named key, or ""
func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
