package inproc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/upload-backgrounder/internal/model"
)

const backendName = "inproc"

var (
	// ErrQueueFull is returned when the queue cannot take another task.
	ErrQueueFull = errors.New("queue is full")
	// ErrClosed is returned when sending to a queue that is shutting down.
	ErrClosed = errors.New("queue is closed")
)

// runner executes a single background job.
type runner interface {
	Run(ctx context.Context, job model.JobRecord) error
}

// reporter records jobs that failed after every retry.
type reporter interface {
	JobFailed(backend string, task model.Task, attempt int, err error)
}

// Queue runs background jobs on a pool of goroutines inside the process.
// Tasks are lost on exit; use it for development and single-node setups.
type Queue struct {
	runner   runner
	reporter reporter
	strategy retry.Strategy
	workers  int
	timeout  time.Duration

	ch   chan model.Task
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithWorkers sets the number of worker goroutines. Non-positive values are ignored.
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithQueueSize sets the buffer size; Send fails with ErrQueueFull once it is full.
func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan model.Task, n)
		}
	}
}

// WithJobTimeout bounds a single run of a job.
func WithJobTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithRetry sets the retry strategy applied to a failed job.
func WithRetry(s retry.Strategy) Option {
	return func(q *Queue) {
		if s.Attempts > 0 {
			q.strategy = s
		}
	}
}

// New creates a Queue and starts its workers.
func New(r runner, rep reporter, opts ...Option) *Queue {
	q := &Queue{
		runner:   r,
		reporter: rep,
		strategy: retry.Strategy{Attempts: 1},
		workers:  2,
		timeout:  time.Minute,
		ch:       make(chan model.Task, 100),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()

	return q
}

func (q *Queue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				zlog.Logger.Debug().Int("worker_id", workerID).Msg("worker started")

				for task := range q.ch {
					q.run(task)
				}

				zlog.Logger.Debug().Int("worker_id", workerID).Msg("worker stopped")
			}(i + 1)
		}
	})
}

func (q *Queue) run(task model.Task) {
	attempts := 0
	err := retry.Do(func() error {
		attempts++
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		defer cancel()

		return q.runner.Run(ctx, task.Job)
	}, q.strategy)
	if err != nil {
		q.reporter.JobFailed(backendName, task, attempts, err)
		return
	}

	zlog.Logger.Printf("job handled: %s", task.ID)
}

// Send hands task to the pool without blocking.
func (q *Queue) Send(_ context.Context, task model.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	select {
	case q.ch <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish, or for
// ctx to be done.
func (q *Queue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		zlog.Logger.Warn().Msg("shutdown interrupted by context")
	case <-done:
		zlog.Logger.Info().Msg("queue drained, shutdown complete")
	}
}
