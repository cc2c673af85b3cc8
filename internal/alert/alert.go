package alert

import (
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/upload-backgrounder/internal/config"
	"github.com/aliskhannn/upload-backgrounder/internal/model"
)

// Reporter sends job failures to Sentry. The zero value only logs.
type Reporter struct {
	enabled bool
}

// New initialises the Sentry client. An empty DSN returns a log-only Reporter.
func New(cfg config.Sentry) (*Reporter, error) {
	if cfg.DSN == "" {
		return &Reporter{}, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
	})
	if err != nil {
		return nil, err
	}

	return &Reporter{enabled: true}, nil
}

// JobFailed reports a failed job run on backend.
func (r *Reporter) JobFailed(backend string, task model.Task, attempt int, err error) {
	zlog.Logger.Error().
		Err(err).
		Str("backend", backend).
		Str("task_id", task.ID.String()).
		Str("job", task.Job.Key()).
		Str("worker_kind", string(task.Job.WorkerKind)).
		Int("attempt", attempt).
		Msg("job failed")

	if r == nil || !r.enabled {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("backend", backend)
		scope.SetTag("worker_kind", string(task.Job.WorkerKind))
		scope.SetTag("owner_type", task.Job.OwnerType)
		scope.SetContext("job", map[string]interface{}{
			"task_id":   task.ID.String(),
			"owner_id":  task.Job.OwnerID,
			"attribute": task.Job.Attribute,
			"attempt":   attempt,
		})
		sentry.CaptureException(err)
	})
}

// Flush waits for buffered events to be delivered.
func (r *Reporter) Flush(timeout time.Duration) {
	if r == nil || !r.enabled {
		return
	}

	sentry.Flush(timeout)
}
