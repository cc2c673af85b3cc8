package uploader

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/upload-backgrounder/internal/model"
	"github.com/aliskhannn/upload-backgrounder/internal/processor"
	"github.com/aliskhannn/upload-backgrounder/internal/storage"
	"github.com/aliskhannn/upload-backgrounder/internal/storage/local"
)

var thumb = model.Version{Name: "thumb", Action: "thumbnail", Params: map[string]string{"width": "8", "height": "8"}}

func newUploader(t *testing.T) (*Uploader, *local.Storage) {
	t.Helper()

	s := local.NewStorage(t.TempDir())
	u := New(s, processor.New(s))
	require.NoError(t, u.Mount(model.DocumentType, model.ScanAttribute, []model.Version{thumb}))

	return u, s
}

func pngBytes(t *testing.T) []byte {
	t.Helper()

	buf := bytes.NewBuffer(nil)
	require.NoError(t, png.Encode(buf, image.NewRGBA(image.Rect(0, 0, 32, 16))))

	return buf.Bytes()
}

func loc() model.Location {
	return model.Location{OwnerType: model.DocumentType, OwnerID: "42", Attribute: model.ScanAttribute}
}

func exists(t *testing.T, s *local.Storage, path string) bool {
	t.Helper()

	r, err := s.Load(context.Background(), path)
	if err != nil {
		require.ErrorIs(t, err, storage.ErrNotFound)
		return false
	}
	r.Close()

	return true
}

func TestUploader_Mount(t *testing.T) {
	s := local.NewStorage(t.TempDir())
	u := New(s, processor.New(s))

	err := u.Mount(model.DocumentType, model.ScanAttribute, []model.Version{{Name: "bad", Action: "sepia"}})
	assert.Error(t, err)

	err = u.Mount(model.DocumentType, model.ScanAttribute, []model.Version{thumb, thumb})
	assert.Error(t, err)

	require.NoError(t, u.Mount(model.DocumentType, model.ScanAttribute, []model.Version{thumb}))
	assert.Equal(t, []model.Version{thumb}, u.Versions(loc()))
}

func TestUploader_CacheAndStore(t *testing.T) {
	ctx := context.Background()
	u, s := newUploader(t)

	cacheName, err := u.Cache(ctx, "scan.png", bytes.NewReader(pngBytes(t)))
	require.NoError(t, err)

	cacheID, name, ok := model.ParseCacheName(cacheName)
	require.True(t, ok)
	assert.Equal(t, "scan.png", name)
	assert.True(t, exists(t, s, "cache/"+cacheID+"/scan.png"))

	id, err := u.StoreFromCache(ctx, loc(), cacheName, true)
	require.NoError(t, err)
	assert.Equal(t, "scan.png", id)

	assert.True(t, exists(t, s, "uploads/document/scan/42/scan.png"))
	assert.True(t, exists(t, s, "uploads/document/scan/42/thumb_scan.png"))
	assert.True(t, exists(t, s, "cache/"+cacheID+"/scan.png"), "cache entry is kept until discarded")

	t.Run("storing again from the kept cache is idempotent", func(t *testing.T) {
		again, err := u.StoreFromCache(ctx, loc(), cacheName, true)
		require.NoError(t, err)
		assert.Equal(t, id, again)
	})

	u.DiscardCache(ctx, cacheName)
	assert.False(t, exists(t, s, "cache/"+cacheID+"/scan.png"))

	// Discarding twice or discarding a stored name is a no-op.
	u.DiscardCache(ctx, cacheName)
	u.DiscardCache(ctx, "scan.png")
}

func TestUploader_StoreWithoutVersions(t *testing.T) {
	ctx := context.Background()
	u, s := newUploader(t)

	cacheName, err := u.Cache(ctx, "scan.png", bytes.NewReader(pngBytes(t)))
	require.NoError(t, err)

	_, err = u.StoreFromCache(ctx, loc(), cacheName, false)
	require.NoError(t, err)

	assert.True(t, exists(t, s, "uploads/document/scan/42/scan.png"))
	assert.False(t, exists(t, s, "uploads/document/scan/42/thumb_scan.png"))

	require.NoError(t, u.RecreateVersions(ctx, loc(), "scan.png"))
	assert.True(t, exists(t, s, "uploads/document/scan/42/thumb_scan.png"))
}

func TestUploader_StoreFromCacheErrors(t *testing.T) {
	u, _ := newUploader(t)

	_, err := u.StoreFromCache(context.Background(), loc(), "scan.png", true)
	assert.Error(t, err)

	_, err = u.StoreFromCache(context.Background(), loc(), model.NewCacheName("scan.png"), true)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUploader_OpenAndRemove(t *testing.T) {
	ctx := context.Background()
	u, s := newUploader(t)
	data := pngBytes(t)

	cacheName, err := u.Cache(ctx, "scan.png", bytes.NewReader(data))
	require.NoError(t, err)

	staged := &model.Attachment{Identifier: cacheName}
	r, err := u.Open(ctx, loc(), staged, "")
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	r.Close()
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = u.Open(ctx, loc(), staged, "thumb")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	id, err := u.StoreFromCache(ctx, loc(), cacheName, true)
	require.NoError(t, err)
	stored := &model.Attachment{Identifier: id}

	r, err = u.Open(ctx, loc(), stored, "thumb")
	require.NoError(t, err)
	r.Close()

	_, err = u.Open(ctx, loc(), stored, "huge")
	assert.ErrorIs(t, err, ErrUnknownVersion)

	_, err = u.Open(ctx, loc(), &model.Attachment{}, "")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, u.Remove(ctx, loc(), stored))
	assert.False(t, exists(t, s, "uploads/document/scan/42/scan.png"))
	assert.False(t, exists(t, s, "uploads/document/scan/42/thumb_scan.png"))
}
