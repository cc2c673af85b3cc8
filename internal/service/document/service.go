package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/upload-backgrounder/internal/model"
)

// ErrInvalidInput is returned when a request misses required data.
var ErrInvalidInput = errors.New("invalid input")

// saver persists records together with newly assigned uploads.
type saver interface {
	Save(ctx context.Context, rec model.Record, files ...model.File) ([]model.JobHandle, error)
}

// recordStore loads and deletes records.
type recordStore interface {
	Load(ctx context.Context, ownerType, id string) (model.Record, error)
	Delete(ctx context.Context, rec model.Record) error
}

// fileReader opens and removes attached files.
type fileReader interface {
	Open(ctx context.Context, loc model.Location, att *model.Attachment, version string) (io.ReadCloser, error)
	Remove(ctx context.Context, loc model.Location, att *model.Attachment) error
}

// Service provides business logic for document operations.
type Service struct {
	saver   saver
	records recordStore
	files   fileReader
}

// NewService creates a new Service.
func NewService(s saver, records recordStore, files fileReader) *Service {
	return &Service{saver: s, records: records, files: files}
}

// Upload is a scan sent by a client.
type Upload struct {
	Filename string
	Content  io.Reader
	// ProcessNow processes and stores the scan within the request.
	ProcessNow bool
}

// Create stores a new document with its scan. The returned handles identify
// the background jobs scheduled for it, if any.
func (s *Service) Create(ctx context.Context, title string, scan Upload) (*model.Document, []model.JobHandle, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, nil, fmt.Errorf("create document: %w: title is required", ErrInvalidInput)
	}

	doc := &model.Document{
		ID:    uuid.NewString(),
		Title: title,
	}

	handles, err := s.attach(ctx, doc, scan)
	if err != nil {
		return nil, nil, fmt.Errorf("create document: %w", err)
	}

	return doc, handles, nil
}

// ReplaceScan attaches a new scan to an existing document.
func (s *Service) ReplaceScan(ctx context.Context, id string, scan Upload) (*model.Document, []model.JobHandle, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	handles, err := s.attach(ctx, doc, scan)
	if err != nil {
		return nil, nil, fmt.Errorf("replace scan %s: %w", id, err)
	}

	return doc, handles, nil
}

func (s *Service) attach(ctx context.Context, doc *model.Document, scan Upload) ([]model.JobHandle, error) {
	if scan.Content == nil || scan.Filename == "" {
		return nil, fmt.Errorf("%w: scan is required", ErrInvalidInput)
	}

	doc.Scan.ProcessOverride = scan.ProcessNow

	return s.saver.Save(ctx, doc, model.File{
		Attribute: model.ScanAttribute,
		Filename:  scan.Filename,
		Content:   scan.Content,
	})
}

// Get returns the document with the given id.
func (s *Service) Get(ctx context.Context, id string) (*model.Document, error) {
	rec, err := s.records.Load(ctx, model.DocumentType, id)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}

	doc, ok := rec.(*model.Document)
	if !ok {
		return nil, fmt.Errorf("get document: unexpected record %T", rec)
	}

	return doc, nil
}

// OpenScan returns the scan of a document, or one of its versions.
func (s *Service) OpenScan(ctx context.Context, id, version string) (*model.Document, io.ReadCloser, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	r, err := s.files.Open(ctx, model.LocationOf(doc, model.ScanAttribute), &doc.Scan, version)
	if err != nil {
		return nil, nil, fmt.Errorf("open scan: %w", err)
	}

	return doc, r, nil
}

// Delete removes a document and its files.
func (s *Service) Delete(ctx context.Context, id string) error {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.records.Delete(ctx, doc); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	// The record is gone; leftover files are only garbage.
	if err := s.files.Remove(ctx, model.LocationOf(doc, model.ScanAttribute), &doc.Scan); err != nil {
		zlog.Logger.Warn().Err(err).Str("document_id", id).Msg("failed to remove scan files")
	}

	return nil
}
