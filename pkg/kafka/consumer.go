// Package kafka provides JSON producers and consumers over segmentio/kafka-go.
// The matcher consumes vocabulary updates and publishes match analytics.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/harishambati/fuzzyset/pkg/config"
)

// MessageHandler is invoked for each fetched message. A returned error leaves
// the offset uncommitted.
type MessageHandler func(ctx context.Context, key, value []byte) error

// messageReader is the subset of *kafka.Reader the consume loop needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads messages from one topic and dispatches them to a handler.
// A group consumer commits handled offsets; a replay consumer reads every
// partition from the first offset and never commits.
type Consumer struct {
	readers []messageReader
	commit  bool
	logger  *slog.Logger
	handler MessageHandler
}

// NewConsumer creates a Consumer for topic in the configured consumer group.
// Partitions are shared between group members and new groups start at the
// latest offset.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})
	return newConsumer([]messageReader{r}, topic, true, handler)
}

// NewReplayConsumer creates a group-less Consumer that reads every partition
// of topic from the first offset on each start. Every process sees the whole
// topic, which suits state that is rebuilt in memory.
func NewReplayConsumer(ctx context.Context, cfg config.KafkaConfig, topic string, handler MessageHandler) (*Consumer, error) {
	partitions, err := lookupPartitions(ctx, cfg.Brokers, topic)
	if err != nil {
		return nil, err
	}
	readers := make([]messageReader, 0, len(partitions))
	for _, p := range partitions {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:   cfg.Brokers,
			Topic:     topic,
			Partition: p.ID,
			MinBytes:  1,
			MaxBytes:  10e6,
		})
		if err := r.SetOffset(kafka.FirstOffset); err != nil {
			r.Close()
			for _, opened := range readers {
				opened.Close()
			}
			return nil, fmt.Errorf("rewinding %s/%d: %w", topic, p.ID, err)
		}
		readers = append(readers, r)
	}
	return newConsumer(readers, topic, false, handler), nil
}

func lookupPartitions(ctx context.Context, brokers []string, topic string) ([]kafka.Partition, error) {
	var lastErr error
	for _, broker := range brokers {
		partitions, err := kafka.LookupPartitions(ctx, "tcp", broker, topic)
		if err != nil {
			lastErr = err
			continue
		}
		if len(partitions) == 0 {
			return nil, fmt.Errorf("topic %s has no partitions", topic)
		}
		return partitions, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no brokers configured")
	}
	return nil, fmt.Errorf("looking up partitions of %s: %w", topic, lastErr)
}

func newConsumer(readers []messageReader, topic string, commit bool, handler MessageHandler) *Consumer {
	return &Consumer{
		readers: readers,
		commit:  commit,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
		handler: handler,
	}
}

// Start runs one consume loop per reader until ctx is cancelled, then closes
// the readers.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started", "readers", len(c.readers), "commit", c.commit)
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range c.readers {
		g.Go(func() error { return c.consume(gctx, r) })
	}
	return g.Wait()
}

func (c *Consumer) consume(ctx context.Context, r messageReader) error {
	defer r.Close()
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		if err := c.handler(ctx, msg.Key, msg.Value); err != nil {
			c.logger.Error("failed to process message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			continue
		}
		if !c.commit {
			continue
		}
		if err := r.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
