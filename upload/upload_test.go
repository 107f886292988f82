package upload

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ruteri/storage-gateway/interfaces"
	"github.com/ruteri/storage-gateway/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockScanner struct {
	mock.Mock
}

func (m *MockScanner) Scan(ctx context.Context, data []byte) (bool, error) {
	args := m.Called(ctx, data)
	return args.Bool(0), args.Error(1)
}

// failingBackend fails the nth Save and delegates everything else.
type failingBackend struct {
	interfaces.StorageBackend
	failOn int
	saves  int
}

func (b *failingBackend) Save(ctx context.Context, bucket string, item *interfaces.StorageItem, subdirs interfaces.Subdirectories) (*interfaces.SaveResult, error) {
	b.saves++
	if b.saves == b.failOn {
		item.Close()
		return nil, interfaces.NewAppError(interfaces.CodeFileSave, "Failed to save the requested file", errors.New("disk full"))
	}
	return b.StorageBackend.Save(ctx, bucket, item, subdirs)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBackend(t *testing.T) (*storage.FileBackend, string) {
	t.Helper()
	root := t.TempDir()
	backend, err := storage.NewFileBackend(interfaces.StaticConfig{
		Type:                storage.TypeFile,
		FileLocation:        root,
		FileExternalURLBase: "https://files.example.com",
	}, newTestLogger())
	require.NoError(t, err)
	return backend, root
}

func file(field, content string) File {
	return File{
		Field: field,
		Item: &interfaces.StorageItem{
			Body:     io.NopCloser(strings.NewReader(content)),
			MimeType: "text/plain",
			Name:     field + ".txt",
		},
	}
}

func storedFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}

func requireAppError(t *testing.T, err error, code string, status int) {
	t.Helper()
	var appErr *interfaces.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, code, appErr.Code)
	assert.Equal(t, status, appErr.StatusCode)
}

func TestSaveAll(t *testing.T) {
	ctx := context.Background()
	backend, root := newTestBackend(t)
	o := NewOrchestrator(nil, newTestLogger())

	results, err := o.SaveAll(ctx, backend, "inbox", []File{
		file("invoice", "first"),
		file("receipt", "second"),
		file("receipt", "third"),
	}, interfaces.Subdirectories{"2024"}, false)
	require.NoError(t, err)

	require.Len(t, results["invoice"], 1)
	require.Len(t, results["receipt"], 2)
	assert.Equal(t, "2024", results["invoice"][0].Subdirectory)
	assert.Len(t, storedFiles(t, filepath.Join(root, "inbox", "2024")), 3)

	item, err := backend.Get(ctx, "inbox", results["receipt"][1].FileID, interfaces.Subdirectories{"2024"})
	require.NoError(t, err)
	require.NotNil(t, item)
	defer item.Close()
	data, err := io.ReadAll(item.Body)
	require.NoError(t, err)
	assert.Equal(t, "third", string(data))
}

func TestSaveAll_NoFiles(t *testing.T) {
	backend, _ := newTestBackend(t)
	o := NewOrchestrator(nil, newTestLogger())

	_, err := o.SaveAll(context.Background(), backend, "inbox", nil, nil, false)
	requireAppError(t, err, interfaces.CodeNoFile, http.StatusBadRequest)
}

func TestSaveAll_RollbackOnSaveFailure(t *testing.T) {
	ctx := context.Background()
	fileBackend, root := newTestBackend(t)
	backend := &failingBackend{StorageBackend: fileBackend, failOn: 2}
	o := NewOrchestrator(nil, newTestLogger())

	results, err := o.SaveAll(ctx, backend, "inbox", []File{
		file("first", "one"),
		file("second", "two"),
		file("third", "three"),
	}, nil, false)

	assert.Nil(t, results)
	requireAppError(t, err, interfaces.CodeUploadSave, http.StatusInternalServerError)
	assert.Equal(t, 2, backend.saves)
	assert.Empty(t, storedFiles(t, filepath.Join(root, "inbox")))
}

func TestSaveAll_RollbackUsesSubdirectories(t *testing.T) {
	ctx := context.Background()
	fileBackend, root := newTestBackend(t)
	backend := &failingBackend{StorageBackend: fileBackend, failOn: 2}
	o := NewOrchestrator(nil, newTestLogger())

	_, err := o.SaveAll(ctx, backend, "inbox", []File{
		file("first", "one"),
		file("second", "two"),
	}, interfaces.Subdirectories{"a", "b"}, false)

	requireAppError(t, err, interfaces.CodeUploadSave, http.StatusInternalServerError)
	assert.Empty(t, storedFiles(t, filepath.Join(root, "inbox", "a", "b")))
}

func TestSaveAll_ThreatFound(t *testing.T) {
	ctx := context.Background()
	backend, root := newTestBackend(t)

	scanner := new(MockScanner)
	scanner.On("Scan", mock.Anything, []byte("clean")).Return(false, nil)
	scanner.On("Scan", mock.Anything, []byte("infected")).Return(true, nil)
	o := NewOrchestrator(scanner, newTestLogger())

	results, err := o.SaveAll(ctx, backend, "inbox", []File{
		file("first", "clean"),
		file("second", "infected"),
	}, nil, true)

	assert.Nil(t, results)
	requireAppError(t, err, interfaces.CodeThreatFound, http.StatusBadRequest)
	assert.Empty(t, storedFiles(t, filepath.Join(root, "inbox")))
	scanner.AssertExpectations(t)
}

func TestSaveAll_ScannedContentIsStored(t *testing.T) {
	ctx := context.Background()
	backend, root := newTestBackend(t)

	scanner := new(MockScanner)
	scanner.On("Scan", mock.Anything, []byte("clean")).Return(false, nil)
	o := NewOrchestrator(scanner, newTestLogger())

	results, err := o.SaveAll(ctx, backend, "inbox", []File{file("doc", "clean")}, nil, true)
	require.NoError(t, err)
	require.Len(t, results["doc"], 1)

	data, err := os.ReadFile(filepath.Join(root, "inbox", results["doc"][0].FileID+".txt"))
	require.NoError(t, err)
	assert.Equal(t, "clean", string(data))
}

func TestSaveAll_ScanFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("scanner error", func(t *testing.T) {
		backend, root := newTestBackend(t)
		scanner := new(MockScanner)
		scanner.On("Scan", mock.Anything, mock.Anything).Return(false, errors.New("connection refused"))
		o := NewOrchestrator(scanner, newTestLogger())

		_, err := o.SaveAll(ctx, backend, "inbox", []File{file("doc", "data")}, nil, true)
		requireAppError(t, err, interfaces.CodeScanFailed, http.StatusInternalServerError)
		assert.Empty(t, storedFiles(t, filepath.Join(root, "inbox")))
	})

	t.Run("no scanner configured", func(t *testing.T) {
		backend, _ := newTestBackend(t)
		o := NewOrchestrator(nil, newTestLogger())

		_, err := o.SaveAll(ctx, backend, "inbox", []File{file("doc", "data")}, nil, true)
		requireAppError(t, err, interfaces.CodeScanFailed, http.StatusInternalServerError)
	})
}
