package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/upload-backgrounder/internal/api/respond"
	"github.com/aliskhannn/upload-backgrounder/internal/dispatcher"
	"github.com/aliskhannn/upload-backgrounder/internal/model"
	"github.com/aliskhannn/upload-backgrounder/internal/repository/record"
	docsvc "github.com/aliskhannn/upload-backgrounder/internal/service/document"
	"github.com/aliskhannn/upload-backgrounder/internal/storage"
	"github.com/aliskhannn/upload-backgrounder/internal/uploader"
)

// service defines the interface for document-related operations.
type service interface {
	Create(ctx context.Context, title string, scan docsvc.Upload) (*model.Document, []model.JobHandle, error)
	ReplaceScan(ctx context.Context, id string, scan docsvc.Upload) (*model.Document, []model.JobHandle, error)
	Get(ctx context.Context, id string) (*model.Document, error)
	OpenScan(ctx context.Context, id, version string) (*model.Document, io.ReadCloser, error)
	Delete(ctx context.Context, id string) error
}

// Handler provides HTTP handlers for document endpoints.
type Handler struct {
	service service
}

// NewHandler creates a new Handler with the given service.
func NewHandler(s service) *Handler {
	return &Handler{service: s}
}

// SaveResponse is returned after a document was saved.
type SaveResponse struct {
	Document *model.Document   `json:"document"`
	Jobs     []model.JobHandle `json:"jobs"`
}

// Create handles the multipart upload of a new document.
// Form fields: "title", "scan" (file) and the optional "process_now" flag.
func (h *Handler) Create(c *ginext.Context) {
	scan, closeScan, ok := h.readScan(c)
	if !ok {
		return
	}
	defer closeScan()

	doc, jobs, err := h.service.Create(c.Request.Context(), c.PostForm("title"), scan)
	if err != nil {
		fail(c, "failed to create document", err)
		return
	}

	zlog.Logger.Printf("document created: %s", doc.ID)

	respond.Created(c, SaveResponse{Document: doc, Jobs: jobs})
}

// ReplaceScan attaches a new scan to an existing document.
func (h *Handler) ReplaceScan(c *ginext.Context) {
	scan, closeScan, ok := h.readScan(c)
	if !ok {
		return
	}
	defer closeScan()

	doc, jobs, err := h.service.ReplaceScan(c.Request.Context(), c.Param("id"), scan)
	if err != nil {
		fail(c, "failed to replace scan", err)
		return
	}

	respond.OK(c, SaveResponse{Document: doc, Jobs: jobs})
}

// Get returns document metadata, including whether its scan is still processing.
func (h *Handler) Get(c *ginext.Context) {
	doc, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, "failed to get document", err)
		return
	}

	respond.OK(c, doc)
}

// Scan streams the original scan, or the version named in the path.
func (h *Handler) Scan(c *ginext.Context) {
	version := c.Param("version")

	doc, reader, err := h.service.OpenScan(c.Request.Context(), c.Param("id"), version)
	if err != nil {
		fail(c, "failed to open scan", err)
		return
	}
	defer reader.Close()

	// Versions appear once background processing finishes.
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")

	contentType := "image/jpeg"
	if version == "" {
		contentType = mime.TypeByExtension(path.Ext(doc.Scan.Filename()))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
	}

	respond.File(c, http.StatusOK, contentType, reader)
}

// Delete removes a document and its files.
func (h *Handler) Delete(c *ginext.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, "failed to delete document", err)
		return
	}

	c.Status(http.StatusNoContent)
}

// readScan extracts the uploaded scan from the multipart form. It writes the
// error response itself and reports false when the request is unusable.
func (h *Handler) readScan(c *ginext.Context) (docsvc.Upload, func(), bool) {
	// Parse the multipart form with a 10MB max memory limit.
	if err := c.Request.ParseMultipartForm(10 << 20); err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("parse multipart form failed: %v", err))
		return docsvc.Upload{}, nil, false
	}

	processNow := false
	if v := c.PostForm("process_now"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid process_now: %q", v))
			return docsvc.Upload{}, nil, false
		}
		processNow = b
	}

	file, header, err := c.Request.FormFile(model.ScanAttribute)
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to read the scan")
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("scan file is required"))
		return docsvc.Upload{}, nil, false
	}

	zlog.Logger.Debug().
		Str("filename", header.Filename).
		Int64("size", header.Size).
		Bool("process_now", processNow).
		Msg("scan received")

	scan := docsvc.Upload{
		Filename:   header.Filename,
		Content:    file,
		ProcessNow: processNow,
	}

	return scan, func() { file.Close() }, true
}

// fail maps service errors to HTTP status codes.
func fail(c *ginext.Context, msg string, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, docsvc.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, record.ErrRecordNotFound),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, uploader.ErrUnknownVersion):
		status = http.StatusNotFound
	case errors.Is(err, dispatcher.ErrBackendUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		zlog.Logger.Err(err).Msg(msg)
	} else {
		zlog.Logger.Warn().Err(err).Msg(msg)
	}

	respond.Fail(c, status, fmt.Errorf("%s: %w", msg, err))
}
