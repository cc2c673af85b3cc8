package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/upload-backgrounder/internal/model"
)

func TestPolicy_Register(t *testing.T) {
	t.Run("derives worker kind from mode", func(t *testing.T) {
		p := New()

		require.NoError(t, p.Register(&model.Document{}, model.ScanAttribute, model.StoreInBackground, ""))

		e, ok := p.Lookup(model.DocumentType, model.ScanAttribute)
		require.True(t, ok)
		assert.Equal(t, model.ProcessAndStore, e.WorkerKind)
		assert.Equal(t, model.StoreInBackground, e.Mode)
	})

	t.Run("keeps explicit worker kind", func(t *testing.T) {
		p := New()

		require.NoError(t, p.Register(&model.Document{}, model.ScanAttribute, model.ProcessInBackground, model.ProcessAndStore))

		e, _ := p.Lookup(model.DocumentType, model.ScanAttribute)
		assert.Equal(t, model.ProcessAndStore, e.WorkerKind)
	})

	t.Run("fails for store in background with a process-only worker", func(t *testing.T) {
		p := New()

		err := p.Register(&model.Document{}, model.ScanAttribute, model.StoreInBackground, model.ProcessOnly)
		assert.ErrorIs(t, err, ErrIncompatibleWorker)

		_, ok := p.Lookup(model.DocumentType, model.ScanAttribute)
		assert.False(t, ok)
	})

	t.Run("fails for unmounted attribute", func(t *testing.T) {
		p := New()

		err := p.Register(&model.Document{}, "avatar", model.ProcessInBackground, "")
		assert.ErrorIs(t, err, ErrNotMounted)

		_, ok := p.Lookup(model.DocumentType, "avatar")
		assert.False(t, ok)
	})

	t.Run("fails for unknown worker kind", func(t *testing.T) {
		err := New().Register(&model.Document{}, model.ScanAttribute, model.ProcessInBackground, "resize")
		assert.ErrorIs(t, err, model.ErrUnknownWorkerKind)
	})

	t.Run("fails for unknown mode", func(t *testing.T) {
		err := New().Register(&model.Document{}, model.ScanAttribute, "later", "")
		assert.ErrorIs(t, err, model.ErrUnknownMode)
	})

	t.Run("re-registering replaces the entry", func(t *testing.T) {
		p := New()

		require.NoError(t, p.Register(&model.Document{}, model.ScanAttribute, model.ProcessInBackground, ""))
		require.NoError(t, p.Register(&model.Document{}, model.ScanAttribute, model.StoreInBackground, ""))

		e, _ := p.Lookup(model.DocumentType, model.ScanAttribute)
		assert.Equal(t, model.StoreInBackground, e.Mode)
		assert.Len(t, p.Entries(model.DocumentType), 1)
	})
}

func TestPolicy_ShouldEnqueue(t *testing.T) {
	p := New()
	require.NoError(t, p.Register(&model.Document{}, model.ScanAttribute, model.ProcessInBackground, ""))

	doc := &model.Document{ID: "42"}
	assert.True(t, p.ShouldEnqueue(doc, model.ScanAttribute), "defaults to enqueue when the flag was never set")

	doc.Scan.ProcessOverride = true
	assert.False(t, p.ShouldEnqueue(doc, model.ScanAttribute))

	assert.False(t, p.ShouldEnqueue(doc, "avatar"))
}

func TestPolicy_Entries(t *testing.T) {
	p := New()
	assert.Empty(t, p.Entries(model.DocumentType))

	require.NoError(t, p.Register(&model.Document{}, model.ScanAttribute, model.ProcessInBackground, ""))

	entries := p.Entries(model.DocumentType)
	require.Len(t, entries, 1)
	assert.Equal(t, Entry{
		OwnerType:  model.DocumentType,
		Attribute:  model.ScanAttribute,
		Mode:       model.ProcessInBackground,
		WorkerKind: model.ProcessOnly,
	}, entries[0])
	assert.Empty(t, p.Entries("Invoice"))
}
