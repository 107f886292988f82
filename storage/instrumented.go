package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/ruteri/storage-gateway/interfaces"
	"github.com/ruteri/storage-gateway/metrics"
)

// InstrumentedBackend implements interfaces.StorageBackend by delegating to
// another backend and recording the outcome and duration of every call.
type InstrumentedBackend struct {
	name    string
	backend interfaces.StorageBackend
	log     *slog.Logger
}

// NewInstrumentedBackend wraps backend, labelling its metrics with name.
func NewInstrumentedBackend(name string, backend interfaces.StorageBackend, logger *slog.Logger) *InstrumentedBackend {
	if logger == nil {
		logger = slog.Default()
	}

	return &InstrumentedBackend{
		name:    name,
		backend: backend,
		log:     logger,
	}
}

// Name returns the backend kind the wrapper reports metrics under.
func (m *InstrumentedBackend) Name() string {
	return m.name
}

func (m *InstrumentedBackend) Get(ctx context.Context, bucket, fileID string, subdirs interfaces.Subdirectories) (*interfaces.StorageItem, error) {
	start := time.Now()
	item, err := m.backend.Get(ctx, bucket, fileID, subdirs)
	m.observe(ctx, "get", start, item != nil, err, bucket, fileID)
	return item, err
}

func (m *InstrumentedBackend) IsDirectory(ctx context.Context, bucket, fileID string, subdirs interfaces.Subdirectories) (bool, error) {
	start := time.Now()
	isDir, err := m.backend.IsDirectory(ctx, bucket, fileID, subdirs)
	m.observe(ctx, "is_directory", start, true, err, bucket, fileID)
	return isDir, err
}

func (m *InstrumentedBackend) ZipDirectory(ctx context.Context, bucket, fileID string, subdirs interfaces.Subdirectories, name string) (*interfaces.StorageItem, error) {
	start := time.Now()
	item, err := m.backend.ZipDirectory(ctx, bucket, fileID, subdirs, name)
	m.observe(ctx, "zip_directory", start, item != nil, err, bucket, fileID)
	return item, err
}

func (m *InstrumentedBackend) ExternalURL(ctx context.Context, bucket, fileID string, subdirs interfaces.Subdirectories) (*interfaces.ExternalURL, error) {
	start := time.Now()
	url, err := m.backend.ExternalURL(ctx, bucket, fileID, subdirs)
	m.observe(ctx, "external_url", start, url != nil, err, bucket, fileID)
	return url, err
}

func (m *InstrumentedBackend) Delete(ctx context.Context, bucket, fileID string, subdirs interfaces.Subdirectories) (bool, error) {
	start := time.Now()
	deleted, err := m.backend.Delete(ctx, bucket, fileID, subdirs)
	m.observe(ctx, "delete", start, deleted, err, bucket, fileID)
	return deleted, err
}

func (m *InstrumentedBackend) Save(ctx context.Context, bucket string, item *interfaces.StorageItem, subdirs interfaces.Subdirectories) (*interfaces.SaveResult, error) {
	start := time.Now()
	result, err := m.backend.Save(ctx, bucket, item, subdirs)

	fileID := ""
	if result != nil {
		fileID = result.FileID
	}
	m.observe(ctx, "save", start, result != nil, err, bucket, fileID)
	return result, err
}

func (m *InstrumentedBackend) observe(ctx context.Context, operation string, start time.Time, found bool, err error, bucket, fileID string) {
	duration := time.Since(start)

	result := metrics.ResultSuccess
	switch {
	case err != nil:
		result = metrics.ResultError
		m.log.WarnContext(ctx, "Storage operation failed",
			slog.String("backend_name", m.name),
			slog.String("operation", operation),
			slog.String("bucket", bucket),
			slog.String("file_id", fileID),
			slog.Duration("duration", duration),
			"err", err)
	case !found:
		result = metrics.ResultNotFound
		m.log.DebugContext(ctx, "Storage operation found nothing",
			slog.String("backend_name", m.name),
			slog.String("operation", operation),
			slog.String("bucket", bucket),
			slog.String("file_id", fileID),
			slog.Duration("duration", duration))
	default:
		m.log.DebugContext(ctx, "Storage operation completed",
			slog.String("backend_name", m.name),
			slog.String("operation", operation),
			slog.String("bucket", bucket),
			slog.String("file_id", fileID),
			slog.Duration("duration", duration))
	}

	metrics.RecordStorageOperation(m.name, operation, result, duration)
}
