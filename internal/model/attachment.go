package model

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ErrUnknownMode is returned when a background mode cannot be resolved.
var ErrUnknownMode = errors.New("unknown background mode")

// Mode selects which part of an upload's lifecycle runs in the background.
type Mode string

const (
	// ProcessInBackground stores the original synchronously and defers versions.
	ProcessInBackground Mode = "process_in_background"
	// StoreInBackground defers both processing and permanent storage.
	StoreInBackground Mode = "store_in_background"
)

// ParseMode converts a configuration value into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ProcessInBackground, StoreInBackground:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// DefaultWorkerKind returns the worker that completes the work deferred by m.
func (m Mode) DefaultWorkerKind() WorkerKind {
	if m == StoreInBackground {
		return ProcessAndStore
	}

	return ProcessOnly
}

// Record is a persisted model that mounts one or more uploads.
type Record interface {
	OwnerType() string
	OwnerID() string
	// Attachment returns the mounted upload named attribute, or nil if the
	// record does not mount it.
	Attachment(attribute string) *Attachment
}

// Attachment is the persisted state of a single mounted upload.
// Models embed it with a column prefix, e.g. `gorm:"embedded;embeddedPrefix:scan_"`.
type Attachment struct {
	// Identifier is the stored file name, or the cache name while the file is staged.
	Identifier string `json:"identifier"`
	Processing bool   `json:"processing"`

	// ProcessOverride forces the next save to process and store synchronously.
	// It is never persisted and is reset once the save finishes.
	ProcessOverride bool `gorm:"-" json:"-"`
}

// Present reports whether a file is attached.
func (a *Attachment) Present() bool {
	return a != nil && a.Identifier != ""
}

// Staged reports whether the identifier still points at the upload cache.
func (a *Attachment) Staged() bool {
	if a == nil {
		return false
	}
	_, _, ok := ParseCacheName(a.Identifier)

	return ok
}

// Filename returns the original file name regardless of staging.
func (a *Attachment) Filename() string {
	if _, name, ok := ParseCacheName(a.Identifier); ok {
		return name
	}

	return a.Identifier
}

// NewCacheName builds a cache name for filename.
func NewCacheName(filename string) string {
	return uuid.NewString() + "/" + path.Base(filename)
}

// ParseCacheName splits a cache name into its cache ID and file name.
func ParseCacheName(name string) (cacheID, filename string, ok bool) {
	cacheID, filename, found := strings.Cut(name, "/")
	if !found || filename == "" || strings.Contains(filename, "/") {
		return "", "", false
	}
	if _, err := uuid.Parse(cacheID); err != nil {
		return "", "", false
	}

	return cacheID, filename, true
}

// Location addresses the permanent storage of one record attribute.
type Location struct {
	OwnerType string
	OwnerID   string
	Attribute string
}

// LocationOf returns the storage location of attribute on rec.
func LocationOf(rec Record, attribute string) Location {
	return Location{
		OwnerType: rec.OwnerType(),
		OwnerID:   rec.OwnerID(),
		Attribute: attribute,
	}
}

// Dir returns the storage directory, e.g. "uploads/document/scan/42".
func (l Location) Dir() string {
	return path.Join("uploads", strings.ToLower(l.OwnerType), l.Attribute, l.OwnerID)
}

// File represents a new upload assigned to a record attribute.
type File struct {
	Attribute string
	Filename  string
	Content   io.Reader
}
