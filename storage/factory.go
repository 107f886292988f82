package storage

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ruteri/storage-gateway/interfaces"
	"go.uber.org/atomic"
)

const (
	TypeFile = "file"
	TypeS3   = "s3"
)

// lazyBackend holds one process-wide backend instance, constructed on first
// use. Concurrent first calls construct it exactly once.
type lazyBackend struct {
	mu      sync.Mutex
	ready   atomic.Bool
	backend interfaces.StorageBackend
	create  func() (interfaces.StorageBackend, error)
}

func (l *lazyBackend) get() (interfaces.StorageBackend, error) {
	if l.ready.Load() {
		return l.backend, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ready.Load() {
		return l.backend, nil
	}

	backend, err := l.create()
	if err != nil {
		return nil, err
	}
	l.backend = backend
	l.ready.Store(true)
	return backend, nil
}

// StorageBackendFactory hands out the singleton backend for a storage type.
// A failed construction is not cached and is retried on the next call.
type StorageBackendFactory struct {
	log  *slog.Logger
	cfg  interfaces.ConfigProvider
	file *lazyBackend
	s3   *lazyBackend
}

// NewStorageBackendFactory creates a factory for the file and S3 backends.
// Backends are not constructed until first requested.
func NewStorageBackendFactory(logger *slog.Logger, cfg interfaces.ConfigProvider, s3Opts S3Options) *StorageBackendFactory {
	sf := &StorageBackendFactory{
		log: logger,
		cfg: cfg,
	}

	sf.file = &lazyBackend{create: func() (interfaces.StorageBackend, error) {
		sf.log.Debug("Creating file backend", slog.String("root", cfg.StorageConfig().FileLocation))
		backend, err := NewFileBackend(cfg, sf.log)
		if err != nil {
			return nil, err
		}
		return NewInstrumentedBackend(TypeFile, backend, sf.log), nil
	}}

	sf.s3 = &lazyBackend{create: func() (interfaces.StorageBackend, error) {
		sf.log.Debug("Creating S3 backend",
			slog.String("region", s3Opts.Region),
			slog.String("endpoint", s3Opts.Endpoint))
		backend, err := NewS3Backend(s3Opts, cfg, sf.log)
		if err != nil {
			return nil, err
		}
		return NewInstrumentedBackend(TypeS3, backend, sf.log), nil
	}}

	return sf
}

// StorageBackendFor returns the backend registered for storageType, matched
// case-insensitively. Unknown types fail with ErrUnimplementedStorageType.
func (sf *StorageBackendFactory) StorageBackendFor(storageType string) (interfaces.StorageBackend, error) {
	switch strings.ToLower(strings.TrimSpace(storageType)) {
	case TypeFile:
		return sf.file.get()
	case TypeS3:
		return sf.s3.get()
	default:
		return nil, fmt.Errorf("%w: %q", interfaces.ErrUnimplementedStorageType, storageType)
	}
}

// Current returns the backend for the storage type currently configured.
func (sf *StorageBackendFactory) Current() (interfaces.StorageBackend, error) {
	return sf.StorageBackendFor(sf.cfg.StorageConfig().Type)
}
