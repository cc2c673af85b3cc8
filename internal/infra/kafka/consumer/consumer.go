package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/upload-backgrounder/internal/config"
)

// jobHandler defines the interface for handling job messages.
type jobHandler interface {
	Handle(ctx context.Context, msg kafka.Message) error
}

// Consumer represents a Kafka consumer along with its configuration
// and the handler that runs the jobs.
type Consumer struct {
	Client     *wbfkafka.Consumer
	jobHandler jobHandler
	cfg        *config.Kafka
	strategy   retry.Strategy
}

// New creates a new Consumer.
// - cfg: Kafka configuration struct
// - s: retry strategy for fetch and commit
// - h: handler running the jobs
func New(
	cfg *config.Kafka,
	s retry.Strategy,
	h jobHandler,
) *Consumer {
	consumer := wbfkafka.NewConsumer(cfg.Brokers, cfg.Topic, cfg.GroupID)

	return &Consumer{
		Client:     consumer,
		jobHandler: h,
		cfg:        cfg,
		strategy:   s,
	}
}

// Consume continuously fetches job messages, runs them with the handler and
// commits their offsets. Failed jobs have been reported by the handler already
// and are committed too, so a poison message does not stall the partition.
// It stops on context cancellation.
func (c *Consumer) Consume(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	zlog.Logger.Info().
		Str("topic", c.cfg.Topic).
		Str("group_id", c.cfg.GroupID).
		Msg("starting consumer")

	for {
		// Exit if context is canceled (graceful shutdown).
		if ctx.Err() != nil {
			zlog.Logger.Info().Msg("shutdown signal received, stopping consumer")
			return
		}

		// Fetch a message from Kafka with retries.
		var msg kafka.Message
		err := retry.Do(func() error {
			var fetchErr error
			msg, fetchErr = c.Client.Fetch(ctx)
			return fetchErr
		}, c.strategy)

		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			zlog.Logger.Err(err).Msg("failed to fetch message")
			time.Sleep(500 * time.Millisecond)
			continue
		}

		if err := c.jobHandler.Handle(ctx, msg); err != nil {
			zlog.Logger.Err(err).
				Str("key", string(msg.Key)).
				Int64("offset", msg.Offset).
				Msg("failed to handle job")
		}

		// Commit the message with retries.
		err = retry.Do(func() error {
			return c.Client.Commit(ctx, msg)
		}, c.strategy)
		if err != nil {
			zlog.Logger.Err(err).Msg("failed to commit message after retries")
			continue
		}

		zlog.Logger.Debug().
			Int64("offset", msg.Offset).
			Str("key", string(msg.Key)).
			Msg("message committed")
	}
}
