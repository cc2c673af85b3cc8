package job

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/upload-backgrounder/internal/model"
)

const backendName = "kafka"

// runner executes a single background job.
type runner interface {
	Run(ctx context.Context, job model.JobRecord) error
}

// reporter records jobs that failed after every retry.
type reporter interface {
	JobFailed(backend string, task model.Task, attempt int, err error)
}

// Handler handles Kafka messages carrying background jobs.
type Handler struct {
	runner   runner
	reporter reporter
	strategy retry.Strategy
}

// NewHandler creates a new handler with the given runner.
func NewHandler(r runner, rep reporter, s retry.Strategy) *Handler {
	return &Handler{runner: r, reporter: rep, strategy: s}
}

// Handle unmarshals the task carried by msg and runs its job, retrying
// according to the configured strategy.
func (h *Handler) Handle(ctx context.Context, msg kafka.Message) error {
	var task model.Task
	if err := json.Unmarshal(msg.Value, &task); err != nil {
		return fmt.Errorf("unmarshal task: %w", err)
	}

	attempts := 0
	err := retry.Do(func() error {
		attempts++
		return h.runner.Run(ctx, task.Job)
	}, h.strategy)
	if err != nil {
		h.reporter.JobFailed(backendName, task, attempts, err)
		return fmt.Errorf("run job %s: %w", task.Job.Key(), err)
	}

	zlog.Logger.Printf("job handled: %s", task.ID)

	return nil
}
