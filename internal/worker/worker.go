package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/upload-backgrounder/internal/model"
	"github.com/aliskhannn/upload-backgrounder/internal/repository/record"
)

// recordStore loads and updates records with mounted uploads.
type recordStore interface {
	Load(ctx context.Context, ownerType, id string) (model.Record, error)
	Update(ctx context.Context, rec model.Record) error
}

// fileUploader performs the deferred processing and storage of an attachment.
type fileUploader interface {
	StoreFromCache(ctx context.Context, loc model.Location, cacheName string, withVersions bool) (string, error)
	RecreateVersions(ctx context.Context, loc model.Location, identifier string) error
	DiscardCache(ctx context.Context, cacheName string)
}

// Worker executes deferred attachment jobs.
type Worker struct {
	records  recordStore
	uploader fileUploader
}

// New creates a new Worker.
func New(records recordStore, u fileUploader) *Worker {
	return &Worker{records: records, uploader: u}
}

// Run performs job on the record it targets.
// A record deleted before the job runs is not an error: the job is dropped.
func (w *Worker) Run(ctx context.Context, job model.JobRecord) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	rec, err := w.records.Load(ctx, job.OwnerType, job.OwnerID)
	if err != nil {
		if errors.Is(err, record.ErrRecordNotFound) {
			zlog.Logger.Warn().
				Str("job", job.Key()).
				Msg("record no longer exists, dropping job")
			return nil
		}
		return fmt.Errorf("run %s: %w", job.Key(), err)
	}

	att := rec.Attachment(job.Attribute)
	if att == nil {
		return fmt.Errorf("run %s: attribute %q is not mounted", job.Key(), job.Attribute)
	}
	if !att.Present() {
		zlog.Logger.Warn().
			Str("job", job.Key()).
			Msg("attachment is empty, nothing to do")
		return nil
	}

	loc := model.LocationOf(rec, job.Attribute)
	staged := ""

	switch job.WorkerKind {
	case model.ProcessOnly:
		err = w.process(ctx, loc, att)
	case model.ProcessAndStore:
		staged, err = w.store(ctx, loc, att)
	}
	if err != nil {
		return fmt.Errorf("run %s: %w", job.Key(), err)
	}

	att.Processing = false
	if err := w.records.Update(ctx, rec); err != nil {
		if errors.Is(err, record.ErrRecordNotFound) {
			zlog.Logger.Warn().Str("job", job.Key()).Msg("record deleted while processing")
			if staged != "" {
				w.uploader.DiscardCache(ctx, staged)
			}
			return nil
		}
		return fmt.Errorf("run %s: %w", job.Key(), err)
	}

	// The record points at the stored file now; a redelivery no longer needs the cache.
	if staged != "" {
		w.uploader.DiscardCache(ctx, staged)
	}

	zlog.Logger.Info().
		Str("job", job.Key()).
		Str("worker_kind", string(job.WorkerKind)).
		Str("identifier", att.Identifier).
		Msg("job done")

	return nil
}

// process regenerates versions of a stored file without storing the original again.
func (w *Worker) process(ctx context.Context, loc model.Location, att *model.Attachment) error {
	if att.Staged() {
		return fmt.Errorf("process: attachment %q is not stored yet", att.Identifier)
	}

	return w.uploader.RecreateVersions(ctx, loc, att.Identifier)
}

// store moves a staged file to permanent storage together with its versions
// and returns the cache name it was stored from.
// An attachment that is already stored only gets its versions recreated.
func (w *Worker) store(ctx context.Context, loc model.Location, att *model.Attachment) (string, error) {
	if !att.Staged() {
		return "", w.uploader.RecreateVersions(ctx, loc, att.Identifier)
	}

	cacheName := att.Identifier
	identifier, err := w.uploader.StoreFromCache(ctx, loc, cacheName, true)
	if err != nil {
		return "", err
	}
	att.Identifier = identifier

	return cacheName, nil
}
