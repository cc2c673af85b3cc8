package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownWorkerKind is returned when a worker kind cannot be resolved.
var ErrUnknownWorkerKind = errors.New("unknown worker kind")

// WorkerKind selects which deferred action a worker performs.
type WorkerKind string

const (
	// ProcessOnly regenerates derivatives of an already stored file.
	ProcessOnly WorkerKind = "process"
	// ProcessAndStore processes a staged file and moves it to permanent storage.
	ProcessAndStore WorkerKind = "store"
)

// ParseWorkerKind converts a configuration value into a WorkerKind.
// An empty string yields an empty kind, meaning "derive from the mode".
func ParseWorkerKind(s string) (WorkerKind, error) {
	switch WorkerKind(s) {
	case "", ProcessOnly, ProcessAndStore:
		return WorkerKind(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownWorkerKind, s)
	}
}

// Valid reports whether k names a runnable worker.
func (k WorkerKind) Valid() bool {
	return k == ProcessOnly || k == ProcessAndStore
}

// JobRecord describes one deferred unit of work on a single record attribute.
type JobRecord struct {
	WorkerKind WorkerKind `json:"worker_kind"`
	OwnerType  string     `json:"owner_type"`
	OwnerID    string     `json:"owner_id"`
	Attribute  string     `json:"attribute"`
}

// Key identifies the record attribute the job targets.
// It is used as the message key so jobs for one attachment land on one partition.
func (j JobRecord) Key() string {
	return j.OwnerType + "/" + j.OwnerID + "/" + j.Attribute
}

// Validate checks that every field is set and the worker kind is known.
func (j JobRecord) Validate() error {
	if !j.WorkerKind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownWorkerKind, j.WorkerKind)
	}
	if j.OwnerType == "" || j.OwnerID == "" || j.Attribute == "" {
		return fmt.Errorf("job %q: owner type, owner id and attribute are required", j.Key())
	}

	return nil
}

// Task is the envelope a job backend transports.
type Task struct {
	ID         uuid.UUID `json:"id"`
	Job        JobRecord `json:"job"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewTask wraps a job into a Task with a fresh ID.
func NewTask(job JobRecord) Task {
	return Task{
		ID:         uuid.New(),
		Job:        job,
		EnqueuedAt: time.Now().UTC(),
	}
}

// JobHandle is returned to callers once a job was handed to a backend.
type JobHandle struct {
	ID      uuid.UUID `json:"id"`
	Backend string    `json:"backend"`
}
