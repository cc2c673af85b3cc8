package backgrounder

import (
	"context"
	"fmt"
	"io"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/upload-backgrounder/internal/model"
	"github.com/aliskhannn/upload-backgrounder/internal/policy"
	"github.com/aliskhannn/upload-backgrounder/internal/repository/record"
)

// attachmentPolicy decides which attributes are handled in the background.
type attachmentPolicy interface {
	Lookup(ownerType, attribute string) (policy.Entry, bool)
	ShouldEnqueue(rec model.Record, attribute string) bool
}

// jobDispatcher hands jobs to the job backend.
type jobDispatcher interface {
	Enqueue(ctx context.Context, job model.JobRecord) (model.JobHandle, error)
}

// fileUploader caches, stores and removes attachment files.
type fileUploader interface {
	Cache(ctx context.Context, filename string, src io.Reader) (string, error)
	StoreFromCache(ctx context.Context, loc model.Location, cacheName string, withVersions bool) (string, error)
	DiscardCache(ctx context.Context, cacheName string)
	Remove(ctx context.Context, loc model.Location, att *model.Attachment) error
}

// recordStore persists records transactionally.
type recordStore interface {
	Transaction(ctx context.Context, fn func(tx record.Saver) error) error
}

// Backgrounder saves records with mounted uploads, deferring upload work to
// background workers according to the attachment policy.
type Backgrounder struct {
	policy     attachmentPolicy
	dispatcher jobDispatcher
	uploader   fileUploader
	records    recordStore
}

// New creates a new Backgrounder.
func New(p attachmentPolicy, d jobDispatcher, u fileUploader, records recordStore) *Backgrounder {
	return &Backgrounder{
		policy:     p,
		dispatcher: d,
		uploader:   u,
		records:    records,
	}
}

// pending is the save plan for one newly assigned file.
type pending struct {
	attribute string
	att       *model.Attachment
	cacheName string
	previous  string
	stored    string // identifier written by a synchronous store
	mode      model.Mode
	job       *model.JobRecord
}

// Save persists rec with the newly assigned files.
//
// For every file whose attribute is registered for background handling and
// whose ProcessOverride flag is unset, the upload work is deferred and one job
// is enqueued after the transaction commits. Otherwise processing and storage
// run inside the save. ProcessOverride is reset on every attachment of files.
func (b *Backgrounder) Save(ctx context.Context, rec model.Record, files ...model.File) ([]model.JobHandle, error) {
	defer resetOverrides(rec, files)

	plan := make([]pending, 0, len(files))
	for _, f := range files {
		p, err := b.prepare(ctx, rec, f)
		if err != nil {
			return nil, fmt.Errorf("save %s: %w", rec.OwnerType(), err)
		}
		plan = append(plan, p)
	}

	err := b.records.Transaction(ctx, func(tx record.Saver) error {
		if err := tx.Save(rec); err != nil {
			return err
		}

		// The record ID is known from here on, so files can reach their final location.
		for i := range plan {
			if err := b.store(ctx, rec, &plan[i]); err != nil {
				return err
			}
		}

		// Persist identifiers written by synchronous stores.
		if len(plan) > 0 {
			return tx.Save(rec)
		}
		return nil
	})
	if err != nil {
		b.rollback(ctx, rec, plan)
		return nil, fmt.Errorf("save %s: %w", rec.OwnerType(), err)
	}

	// Committed: clean up the cache and replaced files, then hand deferred work to the workers.
	for _, p := range plan {
		if p.mode != model.StoreInBackground || p.job == nil {
			b.uploader.DiscardCache(ctx, p.cacheName)
		}
		b.removePrevious(ctx, rec, p)
	}

	var handles []model.JobHandle
	for _, p := range plan {
		if p.job == nil {
			continue
		}

		h, err := b.dispatcher.Enqueue(ctx, *p.job)
		if err != nil {
			return handles, fmt.Errorf("save %s %s: %w", rec.OwnerType(), rec.OwnerID(), err)
		}
		handles = append(handles, h)
	}

	return handles, nil
}

// prepare caches f and writes the identifier and processing state of its
// attachment before the record is persisted.
func (b *Backgrounder) prepare(ctx context.Context, rec model.Record, f model.File) (pending, error) {
	att := rec.Attachment(f.Attribute)
	if att == nil {
		return pending{}, fmt.Errorf("%s: %w", f.Attribute, policy.ErrNotMounted)
	}

	cacheName, err := b.uploader.Cache(ctx, f.Filename, f.Content)
	if err != nil {
		return pending{}, fmt.Errorf("%s: %w", f.Attribute, err)
	}
	_, filename, _ := model.ParseCacheName(cacheName)

	p := pending{
		attribute: f.Attribute,
		att:       att,
		cacheName: cacheName,
		previous:  att.Identifier,
	}

	entry, registered := b.policy.Lookup(rec.OwnerType(), f.Attribute)
	if !registered || !b.policy.ShouldEnqueue(rec, f.Attribute) {
		att.Identifier = filename
		att.Processing = false
		return p, nil
	}

	p.mode = entry.Mode
	p.job = &model.JobRecord{
		WorkerKind: entry.WorkerKind,
		OwnerType:  rec.OwnerType(),
		Attribute:  f.Attribute,
	}
	att.Processing = true

	switch entry.Mode {
	case model.StoreInBackground:
		// Only the worker writes the final name.
		att.Identifier = cacheName
	default:
		att.Identifier = filename
	}

	return p, nil
}

// store runs the synchronous part of the upload for p inside the transaction.
func (b *Backgrounder) store(ctx context.Context, rec model.Record, p *pending) error {
	loc := model.LocationOf(rec, p.attribute)

	if p.job == nil || p.mode == model.ProcessInBackground {
		id, err := b.uploader.StoreFromCache(ctx, loc, p.cacheName, p.job == nil)
		if err != nil {
			return fmt.Errorf("%s: %w", p.attribute, err)
		}
		p.att.Identifier = id
		p.stored = id
	}

	if p.job != nil {
		p.job.OwnerID = rec.OwnerID()
	}

	return nil
}

// rollback removes what a failed save left behind: every cache entry and the
// files stored synchronously inside the rolled back transaction. A stored file
// that replaced the previous one under the same name is kept.
func (b *Backgrounder) rollback(ctx context.Context, rec model.Record, plan []pending) {
	for _, p := range plan {
		p.att.Identifier = p.previous
		b.uploader.DiscardCache(ctx, p.cacheName)

		if p.stored == "" || p.stored == p.previous {
			continue
		}

		loc := model.LocationOf(rec, p.attribute)
		if err := b.uploader.Remove(ctx, loc, &model.Attachment{Identifier: p.stored}); err != nil {
			zlog.Logger.Warn().
				Err(err).
				Str("owner_type", loc.OwnerType).
				Str("owner_id", loc.OwnerID).
				Str("attribute", p.attribute).
				Str("identifier", p.stored).
				Msg("failed to remove files of a rolled back save")
		}
	}
}

func (b *Backgrounder) removePrevious(ctx context.Context, rec model.Record, p pending) {
	if p.previous == "" || p.previous == p.att.Identifier {
		return
	}

	loc := model.LocationOf(rec, p.attribute)
	if err := b.uploader.Remove(ctx, loc, &model.Attachment{Identifier: p.previous}); err != nil {
		zlog.Logger.Warn().
			Err(err).
			Str("owner_type", loc.OwnerType).
			Str("owner_id", loc.OwnerID).
			Str("attribute", p.attribute).
			Str("identifier", p.previous).
			Msg("failed to remove replaced file")
	}
}

func resetOverrides(rec model.Record, files []model.File) {
	for _, f := range files {
		if att := rec.Attachment(f.Attribute); att != nil {
			att.ProcessOverride = false
		}
	}
}
