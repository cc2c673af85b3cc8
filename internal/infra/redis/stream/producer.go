package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/aliskhannn/upload-backgrounder/internal/config"
	"github.com/aliskhannn/upload-backgrounder/internal/model"
)

const (
	fieldPayload = "payload"
	fieldAttempt = "attempt"
	fieldError   = "error"
	// fieldNotBefore holds the unix time in milliseconds before which a
	// retried entry must not run.
	fieldNotBefore = "not_before"
)

// Producer appends background jobs to a Redis Stream.
type Producer struct {
	rc     redis.UniversalClient
	stream string
	maxLen int64
}

// NewProducer creates a new Producer.
func NewProducer(rc redis.UniversalClient, cfg *config.Redis) *Producer {
	return &Producer{rc: rc, stream: cfg.Stream, maxLen: cfg.MaxLen}
}

// Send encodes the task as JSON and appends it to the stream with attempt 0.
func (p *Producer) Send(ctx context.Context, task model.Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	err = p.rc.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			fieldPayload: string(raw),
			fieldAttempt: 0,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}

	return nil
}
