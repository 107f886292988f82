package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/ruteri/storage-gateway/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockStorageBackend implements interfaces.StorageBackend for testing
type MockStorageBackend struct {
	mock.Mock
}

func (m *MockStorageBackend) Get(ctx context.Context, bucket, fileID string, subdirs interfaces.Subdirectories) (*interfaces.StorageItem, error) {
	args := m.Called(ctx, bucket, fileID, subdirs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.StorageItem), args.Error(1)
}

func (m *MockStorageBackend) IsDirectory(ctx context.Context, bucket, fileID string, subdirs interfaces.Subdirectories) (bool, error) {
	args := m.Called(ctx, bucket, fileID, subdirs)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorageBackend) ZipDirectory(ctx context.Context, bucket, fileID string, subdirs interfaces.Subdirectories, name string) (*interfaces.StorageItem, error) {
	args := m.Called(ctx, bucket, fileID, subdirs, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.StorageItem), args.Error(1)
}

func (m *MockStorageBackend) ExternalURL(ctx context.Context, bucket, fileID string, subdirs interfaces.Subdirectories) (*interfaces.ExternalURL, error) {
	args := m.Called(ctx, bucket, fileID, subdirs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.ExternalURL), args.Error(1)
}

func (m *MockStorageBackend) Delete(ctx context.Context, bucket, fileID string, subdirs interfaces.Subdirectories) (bool, error) {
	args := m.Called(ctx, bucket, fileID, subdirs)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorageBackend) Save(ctx context.Context, bucket string, item *interfaces.StorageItem, subdirs interfaces.Subdirectories) (*interfaces.SaveResult, error) {
	args := m.Called(ctx, bucket, item, subdirs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.SaveResult), args.Error(1)
}

func TestInstrumentedBackend_Delegates(t *testing.T) {
	ctx := context.Background()
	mockBackend := new(MockStorageBackend)
	backend := NewInstrumentedBackend("mock", mockBackend, newTestLogger())

	item := newItem("x", "text/plain", "x.txt")
	saved := &interfaces.SaveResult{Bucket: "b", FileID: "id"}
	backendErr := interfaces.NewAppError(interfaces.CodeS3Delete, "Failed to delete the requested file", errors.New("boom"))

	mockBackend.On("Get", ctx, "b", "id", interfaces.Subdirectories(nil)).Return(item, nil)
	mockBackend.On("IsDirectory", ctx, "b", "id", interfaces.Subdirectories(nil)).Return(true, nil)
	mockBackend.On("ZipDirectory", ctx, "b", "id", interfaces.Subdirectories(nil), "").Return(nil, nil)
	mockBackend.On("ExternalURL", ctx, "b", "id", interfaces.Subdirectories(nil)).Return(&interfaces.ExternalURL{ExternalReference: "ref"}, nil)
	mockBackend.On("Delete", ctx, "b", "id", interfaces.Subdirectories(nil)).Return(false, backendErr)
	mockBackend.On("Save", ctx, "b", item, interfaces.Subdirectories(nil)).Return(saved, nil)

	got, err := backend.Get(ctx, "b", "id", nil)
	require.NoError(t, err)
	assert.Same(t, item, got)

	isDir, err := backend.IsDirectory(ctx, "b", "id", nil)
	require.NoError(t, err)
	assert.True(t, isDir)

	zipped, err := backend.ZipDirectory(ctx, "b", "id", nil, "")
	require.NoError(t, err)
	assert.Nil(t, zipped)

	url, err := backend.ExternalURL(ctx, "b", "id", nil)
	require.NoError(t, err)
	assert.Equal(t, "ref", url.ExternalReference)

	deleted, err := backend.Delete(ctx, "b", "id", nil)
	assert.False(t, deleted)
	assert.Same(t, backendErr, err)

	result, err := backend.Save(ctx, "b", item, nil)
	require.NoError(t, err)
	assert.Same(t, saved, result)

	mockBackend.AssertExpectations(t)
}
