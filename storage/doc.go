// Package storage provides the file and S3 implementations of
// interfaces.StorageBackend and the factory that selects between them.
//
// Every file is addressed by a bucket, a file id and an optional list of
// subdirectories:
//
//   - FileBackend stores files at <root>/<bucket>/<sub...>/<file id>.<ext>
//   - S3Backend stores objects under the key <bucket>/<sub...>/<file id> in a
//     single configured S3 bucket
//
// # File Ids
//
// Save always generates a fresh UUID for the stored file. The file backend
// appends an extension derived from the MIME type, so a lookup may omit it:
// "<id>" finds "<id>.pdf". A file id that already carries an extension is
// checked directly first.
//
// # Directories
//
// An address that resolves to more than one object (S3) or to a real
// directory (file) is a logical directory. ZipDirectory archives it into a
// single deflate-compressed zip, held in memory, and ExternalURL stores that
// archive under the temp bucket before returning a link to it.
//
// # Backend Selection
//
//	factory := storage.NewStorageBackendFactory(logger, cfg, storage.S3Options{Region: "eu-west-1"})
//
//	backend, err := factory.StorageBackendFor("S3")
//	if err != nil {
//	    // errors.Is(err, interfaces.ErrUnimplementedStorageType)
//	}
//
// Backends are created on first use, once per process, and wrapped in an
// InstrumentedBackend that records Prometheus metrics for every call.
package storage
