package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/upload-backgrounder/internal/model"
	"github.com/aliskhannn/upload-backgrounder/internal/processor"
	"github.com/aliskhannn/upload-backgrounder/internal/storage"
)

const cacheDir = "cache"

// ErrUnknownVersion is returned when a version is not defined for a mount.
var ErrUnknownVersion = errors.New("unknown version")

// fileStorage defines the interface for storing files (e.g., local filesystem or S3).
type fileStorage interface {
	Save(ctx context.Context, subdir, filename string, src io.Reader) (string, error)
	Load(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
}

// versionProcessor renders a single version of a stored image.
type versionProcessor interface {
	Process(ctx context.Context, src, dstDir, filename string, v model.Version) (string, error)
}

// Uploader caches incoming files, moves them to permanent storage and keeps
// their versions up to date.
type Uploader struct {
	fileStorage fileStorage
	processor   versionProcessor

	mu       sync.RWMutex
	versions map[string][]model.Version
}

// New creates a new Uploader.
func New(fs fileStorage, p versionProcessor) *Uploader {
	return &Uploader{
		fileStorage: fs,
		processor:   p,
		versions:    make(map[string][]model.Version),
	}
}

// Mount declares the versions generated for attribute of ownerType.
// Invalid version definitions are rejected here rather than at processing time.
func (u *Uploader) Mount(ownerType, attribute string, versions []model.Version) error {
	seen := make(map[string]struct{}, len(versions))
	for _, v := range versions {
		if err := processor.Validate(v); err != nil {
			return fmt.Errorf("mount %s.%s: %w", ownerType, attribute, err)
		}
		if _, dup := seen[v.Name]; dup {
			return fmt.Errorf("mount %s.%s: duplicate version %q", ownerType, attribute, v.Name)
		}
		seen[v.Name] = struct{}{}
	}

	u.mu.Lock()
	u.versions[mountKey(ownerType, attribute)] = versions
	u.mu.Unlock()

	return nil
}

// Versions returns the versions mounted for loc.
func (u *Uploader) Versions(loc model.Location) []model.Version {
	u.mu.RLock()
	defer u.mu.RUnlock()

	return u.versions[mountKey(loc.OwnerType, loc.Attribute)]
}

// Cache writes src into the upload cache and returns its cache name.
func (u *Uploader) Cache(ctx context.Context, filename string, src io.Reader) (string, error) {
	cacheName := model.NewCacheName(filename)
	cacheID, name, _ := model.ParseCacheName(cacheName)

	if _, err := u.fileStorage.Save(ctx, path.Join(cacheDir, cacheID), name, src); err != nil {
		return "", fmt.Errorf("cache: %w", err)
	}

	return cacheName, nil
}

// StoreFromCache copies the cached original to the permanent location of loc
// and, when withVersions is set, renders every mounted version next to it.
// The cache entry is kept; see DiscardCache. It returns the final identifier.
func (u *Uploader) StoreFromCache(ctx context.Context, loc model.Location, cacheName string, withVersions bool) (string, error) {
	cacheID, name, ok := model.ParseCacheName(cacheName)
	if !ok {
		return "", fmt.Errorf("store: invalid cache name %q", cacheName)
	}
	cached := path.Join(cacheDir, cacheID, name)

	src, err := u.fileStorage.Load(ctx, cached)
	if err != nil {
		return "", fmt.Errorf("store: %w", err)
	}
	_, err = u.fileStorage.Save(ctx, loc.Dir(), name, src)
	src.Close()
	if err != nil {
		return "", fmt.Errorf("store: %w", err)
	}

	if withVersions {
		if err := u.renderVersions(ctx, loc, cached, name); err != nil {
			return "", fmt.Errorf("store: %w", err)
		}
	}

	return name, nil
}

// DiscardCache removes a cache entry once the record pointing at the stored
// file has been persisted. Invalid names are ignored.
func (u *Uploader) DiscardCache(ctx context.Context, cacheName string) {
	cacheID, name, ok := model.ParseCacheName(cacheName)
	if !ok {
		return
	}

	if err := u.fileStorage.Delete(ctx, path.Join(cacheDir, cacheID, name)); err != nil {
		zlog.Logger.Warn().Err(err).Str("cache_name", cacheName).Msg("failed to clean up upload cache")
	}
}

// RecreateVersions renders every mounted version from the stored original.
func (u *Uploader) RecreateVersions(ctx context.Context, loc model.Location, identifier string) error {
	if err := u.renderVersions(ctx, loc, path.Join(loc.Dir(), identifier), identifier); err != nil {
		return fmt.Errorf("recreate versions: %w", err)
	}

	return nil
}

// Open returns a reader for the attached file, or for one of its versions.
// A staged attachment can only be opened as the original.
func (u *Uploader) Open(ctx context.Context, loc model.Location, att *model.Attachment, version string) (io.ReadCloser, error) {
	if !att.Present() {
		return nil, fmt.Errorf("open: %w", storage.ErrNotFound)
	}

	if cacheID, name, ok := model.ParseCacheName(att.Identifier); ok {
		if version != "" {
			return nil, fmt.Errorf("open version %s of staged upload: %w", version, storage.ErrNotFound)
		}
		return u.fileStorage.Load(ctx, path.Join(cacheDir, cacheID, name))
	}

	filename := att.Identifier
	if version != "" {
		if !u.hasVersion(loc, version) {
			return nil, fmt.Errorf("open: %w: %s", ErrUnknownVersion, version)
		}
		filename = model.VersionFilename(version, att.Identifier)
	}

	return u.fileStorage.Load(ctx, path.Join(loc.Dir(), filename))
}

// Remove deletes the attached file and its versions, staged or stored.
func (u *Uploader) Remove(ctx context.Context, loc model.Location, att *model.Attachment) error {
	if !att.Present() {
		return nil
	}

	if cacheID, name, ok := model.ParseCacheName(att.Identifier); ok {
		return u.fileStorage.Delete(ctx, path.Join(cacheDir, cacheID, name))
	}

	paths := []string{path.Join(loc.Dir(), att.Identifier)}
	for _, v := range u.Versions(loc) {
		paths = append(paths, path.Join(loc.Dir(), model.VersionFilename(v.Name, att.Identifier)))
	}

	for _, p := range paths {
		if err := u.fileStorage.Delete(ctx, p); err != nil {
			return fmt.Errorf("remove: %w", err)
		}
	}

	return nil
}

func (u *Uploader) renderVersions(ctx context.Context, loc model.Location, src, filename string) error {
	for _, v := range u.Versions(loc) {
		if _, err := u.processor.Process(ctx, src, loc.Dir(), filename, v); err != nil {
			return err
		}
	}

	return nil
}

func (u *Uploader) hasVersion(loc model.Location, name string) bool {
	for _, v := range u.Versions(loc) {
		if v.Name == name {
			return true
		}
	}

	return false
}

func mountKey(ownerType, attribute string) string {
	return ownerType + "." + attribute
}
