package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/upload-backgrounder/internal/model"
)

const defaultEnqueueTimeout = 5 * time.Second

var (
	// ErrBackendUnavailable is returned when a job could not be handed to the backend.
	ErrBackendUnavailable = errors.New("job backend unavailable")
	// ErrInvalidJob is returned for jobs that miss an identifier or name an unknown worker.
	ErrInvalidJob = errors.New("invalid job")
)

// backend delivers tasks to workers (Kafka, Redis Streams, in-process pool).
type backend interface {
	Send(ctx context.Context, task model.Task) error
}

// Dispatcher hands JobRecords to a job backend.
// Callers must only enqueue once the owning record is durably committed.
type Dispatcher struct {
	backend     backend
	backendName string
	timeout     time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout bounds how long Enqueue waits for the backend.
func WithTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.timeout = d
		}
	}
}

// New creates a Dispatcher sending to b. name identifies the backend in handles and logs.
func New(b backend, name string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		backend:     b,
		backendName: name,
		timeout:     defaultEnqueueTimeout,
	}
	for _, o := range opts {
		o(d)
	}

	return d
}

// Enqueue wraps job into a Task and sends it to the backend.
// Any backend failure, including a timeout, is reported as ErrBackendUnavailable.
func (d *Dispatcher) Enqueue(ctx context.Context, job model.JobRecord) (model.JobHandle, error) {
	if err := job.Validate(); err != nil {
		return model.JobHandle{}, fmt.Errorf("enqueue: %w: %v", ErrInvalidJob, err)
	}

	task := model.NewTask(job)

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.backend.Send(ctx, task); err != nil {
		zlog.Logger.Error().
			Err(err).
			Str("backend", d.backendName).
			Str("job", job.Key()).
			Msg("failed to enqueue job")

		return model.JobHandle{}, fmt.Errorf("enqueue %s: %w: %v", job.Key(), ErrBackendUnavailable, err)
	}

	zlog.Logger.Info().
		Str("backend", d.backendName).
		Str("task_id", task.ID.String()).
		Str("worker_kind", string(job.WorkerKind)).
		Str("job", job.Key()).
		Msg("job enqueued")

	return model.JobHandle{ID: task.ID, Backend: d.backendName}, nil
}
