package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/upload-backgrounder/internal/config"
	"github.com/aliskhannn/upload-backgrounder/internal/model"
)

// MockRunner is a mock implementation of the runner interface.
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, job model.JobRecord) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

// MockReporter is a mock implementation of the reporter interface.
type MockReporter struct {
	mock.Mock
}

func (m *MockReporter) JobFailed(backend string, task model.Task, attempt int, err error) {
	m.Called(backend, task, attempt, err)
}

var job = model.JobRecord{
	WorkerKind: model.ProcessAndStore,
	OwnerType:  model.DocumentType,
	OwnerID:    "42",
	Attribute:  model.ScanAttribute,
}

func setup(t *testing.T, maxAttempts int) (redis.UniversalClient, *config.Redis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })

	cfg := &config.Redis{
		Stream:       "jobs",
		Group:        "workers",
		Consumer:     "c1",
		Workers:      1,
		MaxAttempts:  maxAttempts,
		BackoffBase:  time.Millisecond,
		BlockTimeout: 10 * time.Millisecond,
	}

	return rc, cfg
}

func TestConsumer_Poll(t *testing.T) {
	ctx := context.Background()

	t.Run("Success case - runs and acknowledges the job", func(t *testing.T) {
		rc, cfg := setup(t, 3)
		r := new(MockRunner)
		r.On("Run", mock.Anything, job).Return(nil).Once()

		c := NewConsumer(rc, cfg, r, new(MockReporter))
		require.NoError(t, c.EnsureGroup(ctx))
		require.NoError(t, NewProducer(rc, cfg).Send(ctx, model.NewTask(job)))

		n, err := c.poll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		r.AssertExpectations(t)

		pending, err := rc.XPending(ctx, cfg.Stream, cfg.Group).Result()
		require.NoError(t, err)
		assert.Zero(t, pending.Count)
	})

	t.Run("Success case - empty stream", func(t *testing.T) {
		rc, cfg := setup(t, 3)
		c := NewConsumer(rc, cfg, new(MockRunner), new(MockReporter))
		require.NoError(t, c.EnsureGroup(ctx))

		n, err := c.poll(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("Error case - failed job is requeued with the next attempt", func(t *testing.T) {
		rc, cfg := setup(t, 3)
		r := new(MockRunner)
		r.On("Run", mock.Anything, job).Return(errors.New("storage down")).Once()
		r.On("Run", mock.Anything, job).Return(nil).Once()

		c := NewConsumer(rc, cfg, r, new(MockReporter))
		require.NoError(t, c.EnsureGroup(ctx))
		require.NoError(t, NewProducer(rc, cfg).Send(ctx, model.NewTask(job)))

		_, err := c.poll(ctx)
		require.NoError(t, err)

		entries, err := rc.XRange(ctx, cfg.Stream, "-", "+").Result()
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, 1, toInt(entries[1].Values[fieldAttempt]))
		assert.NotZero(t, toInt64(entries[1].Values[fieldNotBefore]))

		n, err := c.poll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		r.AssertExpectations(t)

		pending, err := rc.XPending(ctx, cfg.Stream, cfg.Group).Result()
		require.NoError(t, err)
		assert.Zero(t, pending.Count)
	})

	t.Run("Error case - retry survives a restart during the backoff", func(t *testing.T) {
		rc, cfg := setup(t, 3)
		cfg.BackoffBase = time.Hour
		r := new(MockRunner)
		r.On("Run", mock.Anything, job).Return(errors.New("storage down")).Once()

		c := NewConsumer(rc, cfg, r, new(MockReporter))
		require.NoError(t, c.EnsureGroup(ctx))
		require.NoError(t, NewProducer(rc, cfg).Send(ctx, model.NewTask(job)))

		_, err := c.poll(ctx)
		require.NoError(t, err)

		// The original entry is acknowledged only because the retry entry is durable.
		pending, err := rc.XPending(ctx, cfg.Stream, cfg.Group).Result()
		require.NoError(t, err)
		assert.Zero(t, pending.Count)

		entries, err := rc.XRange(ctx, cfg.Stream, "-", "+").Result()
		require.NoError(t, err)
		require.Len(t, entries, 2)
		notBefore := time.UnixMilli(toInt64(entries[1].Values[fieldNotBefore]))
		assert.True(t, notBefore.After(time.Now().Add(59*time.Minute)))

		// A fresh consumer reads the retry entry but shuts down before it is due.
		restarted := NewConsumer(rc, cfg, r, new(MockReporter))
		shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()

		n, err := restarted.poll(shortCtx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		r.AssertNumberOfCalls(t, "Run", 1)

		pending, err = rc.XPending(ctx, cfg.Stream, cfg.Group).Result()
		require.NoError(t, err)
		assert.EqualValues(t, 1, pending.Count)
	})

	t.Run("Error case - job interrupted by shutdown stays pending", func(t *testing.T) {
		rc, cfg := setup(t, 1)
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		r := new(MockRunner)
		r.On("Run", mock.Anything, job).
			Run(func(mock.Arguments) { cancel() }).
			Return(context.Canceled).Once()
		rep := new(MockReporter)

		c := NewConsumer(rc, cfg, r, rep)
		require.NoError(t, c.EnsureGroup(ctx))
		require.NoError(t, NewProducer(rc, cfg).Send(ctx, model.NewTask(job)))

		n, err := c.poll(runCtx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		rep.AssertNotCalled(t, "JobFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

		pending, err := rc.XPending(ctx, cfg.Stream, cfg.Group).Result()
		require.NoError(t, err)
		assert.EqualValues(t, 1, pending.Count)

		entries, err := rc.XRange(ctx, cfg.Stream, "-", "+").Result()
		require.NoError(t, err)
		assert.Len(t, entries, 1)

		dead, err := rc.XRange(ctx, c.DeadLetterStream(), "-", "+").Result()
		require.NoError(t, err)
		assert.Empty(t, dead)
	})

	t.Run("Error case - dead-letters after the last attempt", func(t *testing.T) {
		rc, cfg := setup(t, 1)
		boom := errors.New("corrupt image")
		r := new(MockRunner)
		r.On("Run", mock.Anything, job).Return(boom).Once()
		rep := new(MockReporter)
		rep.On("JobFailed", backendName, mock.Anything, 1, boom).Return().Once()

		c := NewConsumer(rc, cfg, r, rep)
		require.NoError(t, c.EnsureGroup(ctx))
		require.NoError(t, NewProducer(rc, cfg).Send(ctx, model.NewTask(job)))

		_, err := c.poll(ctx)
		require.NoError(t, err)
		rep.AssertExpectations(t)

		dead, err := rc.XRange(ctx, c.DeadLetterStream(), "-", "+").Result()
		require.NoError(t, err)
		require.Len(t, dead, 1)
		assert.Equal(t, "corrupt image", dead[0].Values[fieldError])

		entries, err := rc.XRange(ctx, cfg.Stream, "-", "+").Result()
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("Error case - malformed payload is dead-lettered", func(t *testing.T) {
		rc, cfg := setup(t, 3)
		r := new(MockRunner)

		c := NewConsumer(rc, cfg, r, new(MockReporter))
		require.NoError(t, c.EnsureGroup(ctx))
		require.NoError(t, rc.XAdd(ctx, &redis.XAddArgs{
			Stream: cfg.Stream,
			Values: map[string]any{fieldPayload: "{", fieldAttempt: 0},
		}).Err())

		_, err := c.poll(ctx)
		require.NoError(t, err)
		r.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)

		dead, err := rc.XRange(ctx, c.DeadLetterStream(), "-", "+").Result()
		require.NoError(t, err)
		assert.Len(t, dead, 1)
	})
}

func TestConsumer_Start(t *testing.T) {
	rc, cfg := setup(t, 3)

	done := make(chan struct{})
	r := new(MockRunner)
	r.On("Run", mock.Anything, job).Return(nil).Run(func(mock.Arguments) { close(done) }).Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewConsumer(rc, cfg, r, new(MockReporter))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, c.Start(ctx))
	}()

	require.Eventually(t, func() bool {
		return rc.Exists(context.Background(), cfg.Stream).Val() == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, NewProducer(rc, cfg).Send(context.Background(), model.NewTask(job)))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not handled")
	}

	cancel()
	wg.Wait()
}

func TestConsumer_StartResumesOwnPendingEntries(t *testing.T) {
	rc, cfg := setup(t, 3)

	done := make(chan struct{})
	r := new(MockRunner)
	r.On("Run", mock.Anything, job).Return(nil).Run(func(mock.Arguments) { close(done) }).Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewConsumer(rc, cfg, r, new(MockReporter))
	require.NoError(t, c.EnsureGroup(ctx))
	require.NoError(t, NewProducer(rc, cfg).Send(ctx, model.NewTask(job)))

	// Delivered to this consumer before a crash, never acknowledged.
	_, err := rc.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    cfg.Group,
		Consumer: cfg.Consumer,
		Streams:  []string{cfg.Stream, ">"},
		Count:    1,
		Block:    -1,
	}).Result()
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, c.Start(ctx))
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pending entry was not resumed")
	}

	assert.Eventually(t, func() bool {
		pending, err := rc.XPending(context.Background(), cfg.Stream, cfg.Group).Result()
		return err == nil && pending.Count == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	wg.Wait()
}

func TestToInt(t *testing.T) {
	assert.Equal(t, 3, toInt("3"))
	assert.Equal(t, 2, toInt(int64(2)))
	assert.Equal(t, 0, toInt(nil))
	assert.Equal(t, int64(1760000000000), toInt64("1760000000000"))
}
