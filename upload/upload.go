// Package upload saves the files of one request as a unit: either every file
// is stored or the ones already stored are deleted again.
package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ruteri/storage-gateway/interfaces"
	"github.com/ruteri/storage-gateway/metrics"
)

// File is one uploaded file and the form field it arrived under.
type File struct {
	Field string
	Item  *interfaces.StorageItem
}

// Results maps each form field to the files saved from it.
type Results map[string][]*interfaces.SaveResult

// Orchestrator runs the optional malware scan and the save of every file,
// rolling back on the first failure.
type Orchestrator struct {
	scanner interfaces.MalwareScanner
	log     *slog.Logger
}

// NewOrchestrator creates an orchestrator. scanner may be nil, in which case
// requests asking for a scan fail.
func NewOrchestrator(scanner interfaces.MalwareScanner, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		scanner: scanner,
		log:     log,
	}
}

// SaveAll stores files in order into bucket/subdirs on backend. Every item is
// consumed, whether or not it was stored.
//
// A detected threat fails with S-02 (400), a scan that could not run with S-03
// and a save failure with S-01. In each case the files saved so far are
// deleted before returning.
func (o *Orchestrator) SaveAll(ctx context.Context, backend interfaces.StorageBackend, bucket string, files []File, subdirs interfaces.Subdirectories, scan bool) (Results, error) {
	if len(files) == 0 {
		return nil, interfaces.NewAppError(interfaces.CodeNoFile, "No File in request", nil).
			WithStatus(http.StatusBadRequest)
	}

	results := make(Results, len(files))
	saved := 0

	for i, f := range files {
		if scan {
			if err := o.scan(ctx, f.Item); err != nil {
				closeItems(files[i:])
				o.rollback(ctx, backend, results)
				return nil, err
			}
		}

		result, err := backend.Save(ctx, bucket, f.Item, subdirs)
		if err != nil {
			closeItems(files[i:])
			o.log.ErrorContext(ctx, "Failed to save the requested file",
				slog.String("bucket", bucket),
				slog.String("field", f.Field),
				"err", err)
			o.rollback(ctx, backend, results)
			return nil, interfaces.NewAppError(interfaces.CodeUploadSave,
				"Failed to save the requested file. Rolling back any changes", err)
		}

		results[f.Field] = append(results[f.Field], result)
		saved++
	}

	metrics.RecordUpload("stored", saved)
	o.log.InfoContext(ctx, "Stored uploaded files",
		slog.String("bucket", bucket),
		slog.Int("files", saved))

	return results, nil
}

// scan reads the item into memory, scans it and rewinds the body for the save.
func (o *Orchestrator) scan(ctx context.Context, item *interfaces.StorageItem) error {
	if o.scanner == nil {
		return interfaces.NewAppError(interfaces.CodeScanFailed, "Virus scanning is not configured", nil)
	}

	data, err := io.ReadAll(item.Body)
	item.Close()
	if err != nil {
		return interfaces.NewAppError(interfaces.CodeScanFailed, "Failed to read uploaded document", err)
	}
	item.Body = io.NopCloser(bytes.NewReader(data))

	threat, err := o.scanner.Scan(ctx, data)
	if err != nil {
		return interfaces.NewAppError(interfaces.CodeScanFailed, "Virus scan could not be completed", err)
	}
	if threat {
		o.log.WarnContext(ctx, "Rejecting upload, threat found", slog.String("name", item.Name))
		return interfaces.NewAppError(interfaces.CodeThreatFound, "Virus scan failed on uploaded document", nil).
			WithStatus(http.StatusBadRequest)
	}
	return nil
}

// rollback deletes every saved file. Failures are logged and otherwise
// ignored, so a failed rollback may leave orphaned files behind.
func (o *Orchestrator) rollback(ctx context.Context, backend interfaces.StorageBackend, results Results) {
	removed, orphaned := 0, 0

	for field, saved := range results {
		for _, r := range saved {
			deleted, err := backend.Delete(ctx, r.Bucket, r.FileID, r.SubdirectoryList())
			if err != nil || !deleted {
				orphaned++
				o.log.ErrorContext(ctx, "Failed to roll back saved file",
					slog.String("field", field),
					slog.String("bucket", r.Bucket),
					slog.String("fileID", r.FileID),
					slog.String("subdirectory", r.Subdirectory),
					"err", errOrNotFound(err))
				continue
			}
			removed++
		}
	}

	if removed+orphaned > 0 {
		metrics.RecordUpload("rolled_back", removed)
		o.log.WarnContext(ctx, "Rolled back upload",
			slog.Int("removed", removed),
			slog.Int("orphaned", orphaned))
	}
}

func errOrNotFound(err error) error {
	if err != nil {
		return err
	}
	return errors.New("file not found")
}

func closeItems(files []File) {
	for _, f := range files {
		f.Item.Close()
	}
}
