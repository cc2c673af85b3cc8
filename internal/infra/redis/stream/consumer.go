package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/upload-backgrounder/internal/config"
	"github.com/aliskhannn/upload-backgrounder/internal/model"
)

const backendName = "redis"

// runner executes a single background job.
type runner interface {
	Run(ctx context.Context, job model.JobRecord) error
}

// reporter records jobs that were given up on.
type reporter interface {
	JobFailed(backend string, task model.Task, attempt int, err error)
}

// Consumer reads jobs from a Redis Stream as a member of a consumer group.
//
// An entry is acknowledged only once its outcome is durable: the job succeeded,
// a retry entry carrying the next attempt and its not_before time was added, or
// the job was moved to the dead-letter stream after MaxAttempts. Entries of a
// job interrupted by shutdown stay pending and are resumed on the next Start.
type Consumer struct {
	rc       redis.UniversalClient
	cfg      *config.Redis
	runner   runner
	reporter reporter
}

// NewConsumer creates a new Consumer.
func NewConsumer(rc redis.UniversalClient, cfg *config.Redis, r runner, rep reporter) *Consumer {
	return &Consumer{
		rc:       rc,
		cfg:      cfg,
		runner:   r,
		reporter: rep,
	}
}

// DeadLetterStream returns the name of the stream receiving abandoned jobs.
func (c *Consumer) DeadLetterStream() string {
	return c.cfg.Stream + ":dead"
}

// EnsureGroup creates the consumer group, and the stream if needed.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.rc.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	// BUSYGROUP means the group exists already.
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}

	return nil
}

// Start runs the configured number of workers until ctx is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("ensure redis group: %w", err)
	}

	zlog.Logger.Info().
		Str("stream", c.cfg.Stream).
		Str("group", c.cfg.Group).
		Str("consumer", c.cfg.Consumer).
		Int("workers", c.cfg.Workers).
		Msg("starting stream consumer")

	// Resume entries this consumer left pending, then adopt those of crashed consumers.
	c.resume(ctx)
	c.autoClaim(ctx)

	workers := c.cfg.Workers
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c.loop(ctx)
			zlog.Logger.Info().Int("worker", id).Msg("stream worker stopped")
		}(i)
	}
	wg.Wait()

	return nil
}

func (c *Consumer) claimMinIdle() time.Duration {
	minIdle := 30 * time.Second
	if t := c.cfg.BlockTimeout * 6; t > minIdle {
		minIdle = t
	}

	return minIdle
}

// resume handles the entries already delivered to this consumer but never
// acknowledged.
func (c *Consumer) resume(ctx context.Context) {
	next := "0"

	for ctx.Err() == nil {
		streams, err := c.rc.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Streams:  []string{c.cfg.Stream, next},
			Count:    100,
			Block:    -1,
		}).Result()
		if errors.Is(err, redis.Nil) {
			return
		}
		if err != nil {
			zlog.Logger.Warn().Err(err).Msg("failed to read pending entries")
			return
		}

		n := 0
		for _, s := range streams {
			for _, m := range s.Messages {
				_ = c.handle(ctx, m)
				next = m.ID
				n++
			}
		}
		if n == 0 {
			return
		}
	}
}

// autoClaim takes over entries pending longer than the claim threshold and
// handles them.
func (c *Consumer) autoClaim(ctx context.Context) {
	next := "0-0"

	for {
		msgs, start, err := c.rc.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.cfg.Stream,
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			MinIdle:  c.claimMinIdle(),
			Start:    next,
			Count:    100,
		}).Result()
		if err != nil {
			zlog.Logger.Warn().Err(err).Msg("auto-claim failed")
			return
		}

		for _, m := range msgs {
			_ = c.handle(ctx, m)
		}

		if len(msgs) == 0 || start == "0-0" {
			return
		}
		next = start
	}
}

func (c *Consumer) loop(ctx context.Context) {
	for ctx.Err() == nil {
		if _, err := c.poll(ctx); err != nil && ctx.Err() == nil {
			zlog.Logger.Err(err).Msg("failed to read stream")
			time.Sleep(500 * time.Millisecond)
		}
	}
}

// poll reads and handles at most one new entry. It returns the number of
// entries handled.
func (c *Consumer) poll(ctx context.Context) (int, error) {
	streams, err := c.rc.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    1,
		Block:    c.cfg.BlockTimeout,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	n := 0
	for _, s := range streams {
		for _, m := range s.Messages {
			_ = c.handle(ctx, m)
			n++
		}
	}

	return n, nil
}

// handle runs the job carried by m and acknowledges the entry once its
// outcome is recorded. A retry entry waits for its not_before time first.
func (c *Consumer) handle(ctx context.Context, m redis.XMessage) error {
	raw, _ := m.Values[fieldPayload].(string)
	attempt := toInt(m.Values[fieldAttempt])

	var task model.Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		err = fmt.Errorf("unmarshal task: %w", err)
		if c.deadLetter(raw, attempt, err) == nil {
			c.ack(m.ID)
		}
		return err
	}

	if err := c.wait(ctx, toInt64(m.Values[fieldNotBefore])); err != nil {
		return err
	}

	err := c.runner.Run(ctx, task.Job)
	if err == nil {
		zlog.Logger.Printf("job handled: %s", task.ID)
		c.ack(m.ID)
		return nil
	}

	// Interrupted by shutdown: the entry stays pending and does not count as an attempt.
	if ctx.Err() != nil {
		zlog.Logger.Warn().Err(err).Str("job", task.Job.Key()).Msg("job interrupted, leaving entry pending")
		return err
	}

	if attempt+1 >= c.cfg.MaxAttempts {
		c.reporter.JobFailed(backendName, task, attempt+1, err)
		if c.deadLetter(raw, attempt+1, err) == nil {
			c.ack(m.ID)
		}
		return err
	}

	backoff := c.cfg.BackoffBase << attempt
	zlog.Logger.Warn().
		Err(err).
		Str("job", task.Job.Key()).
		Int("attempt", attempt+1).
		Dur("backoff", backoff).
		Msg("job failed, requeueing")

	retryErr := c.add(c.cfg.Stream, map[string]any{
		fieldPayload:   raw,
		fieldAttempt:   attempt + 1,
		fieldNotBefore: time.Now().Add(backoff).UnixMilli(),
	})
	if retryErr == nil {
		c.ack(m.ID)
	}

	return err
}

// wait blocks until the unix millisecond time notBefore has passed.
func (c *Consumer) wait(ctx context.Context, notBefore int64) error {
	d := time.Until(time.UnixMilli(notBefore))
	if notBefore == 0 || d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Consumer) ack(id string) {
	if err := c.rc.XAck(context.Background(), c.cfg.Stream, c.cfg.Group, id).Err(); err != nil {
		zlog.Logger.Err(err).Str("entry", id).Msg("failed to ack entry")
	}
}

func (c *Consumer) deadLetter(raw string, attempt int, cause error) error {
	return c.add(c.DeadLetterStream(), map[string]any{
		fieldPayload: raw,
		fieldAttempt: attempt,
		fieldError:   cause.Error(),
	})
}

func (c *Consumer) add(stream string, values map[string]any) error {
	err := c.rc.XAdd(context.Background(), &redis.XAddArgs{
		Stream: stream,
		MaxLen: c.cfg.MaxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		zlog.Logger.Err(err).Str("stream", stream).Msg("failed to add entry")
	}

	return err
}

func toInt(v any) int {
	return int(toInt64(v))
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int64:
		return t
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}
