package interfaces

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// ArchiveMimeType is the MIME type of every archive produced by ZipDirectory.
const ArchiveMimeType = "application/zip"

// DefaultArchiveName is used when ZipDirectory is called without a name.
const DefaultArchiveName = "archive.zip"

// StorageItem carries a single file through the storage layer.
//
// Body is owned by whoever holds the item and must be consumed (and closed)
// exactly once: by the HTTP response writer after a read, or by the backend
// during a save.
type StorageItem struct {
	Body     io.ReadCloser
	MimeType string
	Name     string
}

// Close releases the underlying stream. It is safe to call on a nil item.
func (i *StorageItem) Close() error {
	if i == nil || i.Body == nil {
		return nil
	}
	return i.Body.Close()
}

// Subdirectories is the ordered list of nested directory segments of a storage
// address. A nil value means "no subdirectory"; on the wire it is encoded as a
// comma-separated list.
//
// Empty segments are preserved: "a,,b" has three segments, the middle one empty.
// Joining collapses them, so "docs" with ",,," resolves to "docs".
type Subdirectories []string

// ParseSubdirectories decodes the comma-separated wire form.
func ParseSubdirectories(raw string) Subdirectories {
	return Subdirectories(strings.Split(raw, ","))
}

// String returns the comma-separated wire form.
func (s Subdirectories) String() string {
	return strings.Join(s, ",")
}

// SaveResult describes a stored object.
type SaveResult struct {
	Bucket            string `json:"bucket"`
	FileID            string `json:"file_id"`
	Reference         string `json:"reference"`
	ExternalReference string `json:"external_reference"`
	Subdirectory      string `json:"subdirectory,omitempty"`
}

// SubdirectoryList decodes Subdirectory back into segments, or nil when unset.
func (r *SaveResult) SubdirectoryList() Subdirectories {
	if r.Subdirectory == "" {
		return nil
	}
	return ParseSubdirectories(r.Subdirectory)
}

// ExternalURL is a resolvable reference to a stored object or archive.
type ExternalURL struct {
	ExternalReference string `json:"external_reference"`
}

// StorageBackend is the contract both the local filesystem and the object store satisfy.
//
// "Not found" is never an error: lookups report it with a nil item / URL or a
// false result. Errors are reserved for structural failures and are returned
// as *AppError.
type StorageBackend interface {
	// Get returns the file at the address, or nil when it does not exist.
	Get(ctx context.Context, bucket, fileID string, subdirs Subdirectories) (*StorageItem, error)

	// IsDirectory reports whether the address is a logical directory.
	IsDirectory(ctx context.Context, bucket, fileID string, subdirs Subdirectories) (bool, error)

	// ZipDirectory archives everything under the address. It returns nil when
	// nothing matched. An empty name defaults to DefaultArchiveName.
	ZipDirectory(ctx context.Context, bucket, fileID string, subdirs Subdirectories, name string) (*StorageItem, error)

	// ExternalURL resolves a reference a client can fetch directly. Directories
	// are archived first and the reference points at the archive.
	ExternalURL(ctx context.Context, bucket, fileID string, subdirs Subdirectories) (*ExternalURL, error)

	// Delete removes the file at the address and reports whether anything matched.
	Delete(ctx context.Context, bucket, fileID string, subdirs Subdirectories) (bool, error)

	// Save stores the item under a freshly generated identifier.
	Save(ctx context.Context, bucket string, item *StorageItem, subdirs Subdirectories) (*SaveResult, error)
}

// StorageConfig holds the settings backends consult on every operation.
type StorageConfig struct {
	// Type selects the backend: "file" or "s3".
	Type string

	// FileLocation is the root directory of the file backend.
	FileLocation string

	// FileExternalURLBase is prepended to references returned by the file backend.
	FileExternalURLBase string

	// S3Bucket is the object store bucket all logical buckets live in.
	S3Bucket string

	// S3URLExpiry is the lifetime of presigned URLs.
	S3URLExpiry time.Duration
}

// ConfigProvider supplies the current StorageConfig.
type ConfigProvider interface {
	StorageConfig() StorageConfig
}

// StaticConfig is a ConfigProvider that always returns the same settings.
type StaticConfig StorageConfig

// StorageConfig implements ConfigProvider.
func (c StaticConfig) StorageConfig() StorageConfig {
	return StorageConfig(c)
}

// MalwareScanner inspects uploaded content before it is stored.
type MalwareScanner interface {
	// Scan reports whether a threat was found in data.
	Scan(ctx context.Context, data []byte) (bool, error)
}

var (
	// ErrUnimplementedStorageType is returned when the configured storage type has no backend.
	ErrUnimplementedStorageType = errors.New("no storage backend implemented for type")

	// ErrInvalidAddress is returned when a bucket, file id or subdirectory segment is not path-safe.
	ErrInvalidAddress = errors.New("invalid storage address")
)
