package document

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/upload-backgrounder/internal/model"
	"github.com/aliskhannn/upload-backgrounder/internal/repository/record"
)

// MockSaver is a mock implementation of the saver interface.
type MockSaver struct {
	mock.Mock
}

func (m *MockSaver) Save(ctx context.Context, rec model.Record, files ...model.File) ([]model.JobHandle, error) {
	args := m.Called(ctx, rec, files)
	handles, _ := args.Get(0).([]model.JobHandle)
	return handles, args.Error(1)
}

// MockRecordStore is a mock implementation of the recordStore interface.
type MockRecordStore struct {
	mock.Mock
}

func (m *MockRecordStore) Load(ctx context.Context, ownerType, id string) (model.Record, error) {
	args := m.Called(ctx, ownerType, id)
	rec, _ := args.Get(0).(model.Record)
	return rec, args.Error(1)
}

func (m *MockRecordStore) Delete(ctx context.Context, rec model.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

// MockFiles is a mock implementation of the fileReader interface.
type MockFiles struct {
	mock.Mock
}

func (m *MockFiles) Open(ctx context.Context, loc model.Location, att *model.Attachment, version string) (io.ReadCloser, error) {
	args := m.Called(ctx, loc, att, version)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *MockFiles) Remove(ctx context.Context, loc model.Location, att *model.Attachment) error {
	args := m.Called(ctx, loc, att)
	return args.Error(0)
}

func upload(processNow bool) Upload {
	return Upload{Filename: "scan.png", Content: strings.NewReader("png"), ProcessNow: processNow}
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("Success case - new document with scheduled job", func(t *testing.T) {
		s := new(MockSaver)
		handle := model.JobHandle{ID: uuid.New(), Backend: "kafka"}
		s.On("Save", ctx, mock.MatchedBy(func(rec model.Record) bool {
			doc := rec.(*model.Document)
			_, err := uuid.Parse(doc.ID)
			return err == nil && doc.Title == "invoice" && !doc.Scan.ProcessOverride
		}), mock.MatchedBy(func(files []model.File) bool {
			return len(files) == 1 && files[0].Attribute == model.ScanAttribute && files[0].Filename == "scan.png"
		})).Return([]model.JobHandle{handle}, nil).Once()

		doc, handles, err := NewService(s, nil, nil).Create(ctx, " invoice ", upload(false))
		require.NoError(t, err)
		assert.Equal(t, "invoice", doc.Title)
		assert.Equal(t, []model.JobHandle{handle}, handles)
		s.AssertExpectations(t)
	})

	t.Run("Success case - process now sets the override", func(t *testing.T) {
		s := new(MockSaver)
		s.On("Save", ctx, mock.MatchedBy(func(rec model.Record) bool {
			return rec.(*model.Document).Scan.ProcessOverride
		}), mock.Anything).Return(nil, nil).Once()

		_, handles, err := NewService(s, nil, nil).Create(ctx, "invoice", upload(true))
		require.NoError(t, err)
		assert.Empty(t, handles)
		s.AssertExpectations(t)
	})

	t.Run("Error case - missing title", func(t *testing.T) {
		_, _, err := NewService(new(MockSaver), nil, nil).Create(ctx, "  ", upload(false))
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("Error case - missing scan", func(t *testing.T) {
		_, _, err := NewService(new(MockSaver), nil, nil).Create(ctx, "invoice", Upload{})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("Error case - save failure", func(t *testing.T) {
		s := new(MockSaver)
		s.On("Save", ctx, mock.Anything, mock.Anything).Return(nil, errors.New("backend down")).Once()

		_, _, err := NewService(s, nil, nil).Create(ctx, "invoice", upload(false))
		assert.ErrorContains(t, err, "backend down")
	})
}

func TestService_ReplaceScan(t *testing.T) {
	ctx := context.Background()

	t.Run("Success case - saves the loaded document", func(t *testing.T) {
		doc := &model.Document{ID: "42", Scan: model.Attachment{Identifier: "old.png"}}
		st := new(MockRecordStore)
		st.On("Load", ctx, model.DocumentType, "42").Return(doc, nil).Once()
		s := new(MockSaver)
		s.On("Save", ctx, doc, mock.Anything).Return(nil, nil).Once()

		got, _, err := NewService(s, st, nil).ReplaceScan(ctx, "42", upload(false))
		require.NoError(t, err)
		assert.Same(t, doc, got)
		s.AssertExpectations(t)
	})

	t.Run("Error case - document not found", func(t *testing.T) {
		st := new(MockRecordStore)
		st.On("Load", ctx, model.DocumentType, "42").Return(nil, record.ErrRecordNotFound).Once()

		_, _, err := NewService(new(MockSaver), st, nil).ReplaceScan(ctx, "42", upload(false))
		assert.ErrorIs(t, err, record.ErrRecordNotFound)
	})
}

func TestService_OpenScan(t *testing.T) {
	ctx := context.Background()
	doc := &model.Document{ID: "42", Scan: model.Attachment{Identifier: "scan.png"}}

	st := new(MockRecordStore)
	st.On("Load", ctx, model.DocumentType, "42").Return(doc, nil)
	files := new(MockFiles)
	files.On("Open", ctx, model.LocationOf(doc, model.ScanAttribute), &doc.Scan, "thumb").
		Return(io.NopCloser(strings.NewReader("jpeg")), nil).Once()

	_, r, err := NewService(nil, st, files).OpenScan(ctx, "42", "thumb")
	require.NoError(t, err)
	defer r.Close()

	body, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(body))
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("Success case - removes record then files", func(t *testing.T) {
		doc := &model.Document{ID: "42", Scan: model.Attachment{Identifier: "scan.png"}}
		st := new(MockRecordStore)
		st.On("Load", ctx, model.DocumentType, "42").Return(doc, nil).Once()
		st.On("Delete", ctx, doc).Return(nil).Once()
		files := new(MockFiles)
		files.On("Remove", ctx, model.LocationOf(doc, model.ScanAttribute), &doc.Scan).Return(nil).Once()

		require.NoError(t, NewService(nil, st, files).Delete(ctx, "42"))
		st.AssertExpectations(t)
		files.AssertExpectations(t)
	})

	t.Run("Success case - file cleanup failure is not fatal", func(t *testing.T) {
		doc := &model.Document{ID: "42", Scan: model.Attachment{Identifier: "scan.png"}}
		st := new(MockRecordStore)
		st.On("Load", ctx, model.DocumentType, "42").Return(doc, nil).Once()
		st.On("Delete", ctx, doc).Return(nil).Once()
		files := new(MockFiles)
		files.On("Remove", ctx, mock.Anything, mock.Anything).Return(errors.New("minio down")).Once()

		assert.NoError(t, NewService(nil, st, files).Delete(ctx, "42"))
	})

	t.Run("Error case - record delete fails", func(t *testing.T) {
		doc := &model.Document{ID: "42"}
		st := new(MockRecordStore)
		st.On("Load", ctx, model.DocumentType, "42").Return(doc, nil).Once()
		st.On("Delete", ctx, doc).Return(record.ErrRecordNotFound).Once()
		files := new(MockFiles)

		err := NewService(nil, st, files).Delete(ctx, "42")
		assert.ErrorIs(t, err, record.ErrRecordNotFound)
		files.AssertNotCalled(t, "Remove", mock.Anything, mock.Anything, mock.Anything)
	})
}
