package storage

import (
	"errors"
	"sync"
	"testing"

	"github.com/ruteri/storage-gateway/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func newTestFactory(t *testing.T, storageType string) *StorageBackendFactory {
	t.Helper()
	cfg := interfaces.StaticConfig{
		Type:                storageType,
		FileLocation:        t.TempDir(),
		FileExternalURLBase: testExternalBase,
		S3Bucket:            "gateway",
	}
	return NewStorageBackendFactory(newTestLogger(), cfg, S3Options{
		Region:         "us-east-1",
		Endpoint:       "http://127.0.0.1:1",
		AccessKey:      "test",
		SecretKey:      "test",
		ForcePathStyle: true,
	})
}

func TestStorageBackendFor(t *testing.T) {
	factory := newTestFactory(t, TypeFile)

	tests := []struct {
		storageType string
		backend     string
		wantErr     bool
	}{
		{storageType: "file", backend: TypeFile},
		{storageType: "FILE", backend: TypeFile},
		{storageType: "s3", backend: TypeS3},
		{storageType: "S3", backend: TypeS3},
		{storageType: "gcs", wantErr: true},
		{storageType: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.storageType, func(t *testing.T) {
			backend, err := factory.StorageBackendFor(tt.storageType)
			if tt.wantErr {
				assert.ErrorIs(t, err, interfaces.ErrUnimplementedStorageType)
				assert.Nil(t, backend)
				return
			}

			require.NoError(t, err)
			instrumented, ok := backend.(*InstrumentedBackend)
			require.True(t, ok)
			assert.Equal(t, tt.backend, instrumented.Name())
		})
	}
}

func TestStorageBackendFor_Singleton(t *testing.T) {
	factory := newTestFactory(t, TypeFile)

	first, err := factory.StorageBackendFor("file")
	require.NoError(t, err)
	second, err := factory.StorageBackendFor("File")
	require.NoError(t, err)
	assert.Same(t, first, second)

	current, err := factory.Current()
	require.NoError(t, err)
	assert.Same(t, first, current)
}

func TestLazyBackend_ConcurrentFirstUse(t *testing.T) {
	var created atomic.Int32
	lazy := &lazyBackend{create: func() (interfaces.StorageBackend, error) {
		created.Inc()
		return &FileBackend{}, nil
	}}

	const workers = 32
	results := make([]interfaces.StorageBackend, workers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			backend, err := lazy.get()
			assert.NoError(t, err)
			results[i] = backend
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	for _, backend := range results {
		assert.Same(t, results[0], backend)
	}
}

func TestLazyBackend_RetriesAfterFailure(t *testing.T) {
	calls := 0
	lazy := &lazyBackend{create: func() (interfaces.StorageBackend, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("not yet")
		}
		return &FileBackend{}, nil
	}}

	_, err := lazy.get()
	require.Error(t, err)

	backend, err := lazy.get()
	require.NoError(t, err)
	assert.NotNil(t, backend)
	assert.Equal(t, 2, calls)
}
