// Package interfaces defines the contracts shared by the storage gateway,
// separating interface definitions from implementations.
//
// # Storage Interfaces
//
// StorageBackend: the six operations every backend implements (Get,
// IsDirectory, ZipDirectory, ExternalURL, Delete, Save), uniform across the
// local filesystem and the S3-compatible object store.
//
// ConfigProvider: supplies the StorageConfig backends read on every operation.
//
// MalwareScanner: optional content inspection invoked before uploads are stored.
//
// # Types
//
//   - StorageItem: a read-once byte stream with its MIME type and display name
//   - Subdirectories: ordered directory segments, comma-joined on the wire
//   - SaveResult / ExternalURL: JSON response shapes of save and external-url
//
// # Errors
//
// AppError carries a stable short code ("S3-GET", "S-01", ...) and an HTTP
// status. "Not found" is never an error; backends return nil/false instead.
package interfaces
