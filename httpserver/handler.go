package httpserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/storage-gateway/interfaces"
	"github.com/ruteri/storage-gateway/storage"
	"github.com/ruteri/storage-gateway/upload"
)

const (
	// maxMemory is the share of a multipart upload held in memory; the rest
	// spills to temporary files.
	maxMemory = 32 << 20
)

// BackendProvider returns the storage backend requests should use.
// storage.StorageBackendFactory implements it.
type BackendProvider interface {
	Current() (interfaces.StorageBackend, error)
}

// Handler serves the storage API: file retrieval, external URLs, deletion
// and multi-file upload.
type Handler struct {
	backends BackendProvider
	uploader *upload.Orchestrator
	log      *slog.Logger
}

// NewHandler creates a new storage API handler.
func NewHandler(backends BackendProvider, uploader *upload.Orchestrator, log *slog.Logger) *Handler {
	return &Handler{
		backends: backends,
		uploader: uploader,
		log:      log,
	}
}

// RegisterRoutes mounts the storage API on r, relative to its prefix.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/{bucket}/{file_id}", h.HandleGetFile)
	r.Get("/{bucket}/{file_id}/external-url", h.HandleExternalURL)
	r.Delete("/{bucket}/{file_id}", h.HandleDelete)
	r.Post("/{bucket}", h.HandleSave)
}

// address extracts and validates bucket, file id and the subdirectories
// query parameter. An absent parameter yields nil subdirectories.
func address(r *http.Request) (bucket, fileID string, subdirs interfaces.Subdirectories, err error) {
	bucket = r.PathValue("bucket")
	fileID = r.PathValue("file_id")

	if raw, ok := r.URL.Query()["subdirectories"]; ok && len(raw) > 0 {
		subdirs = interfaces.ParseSubdirectories(raw[0])
	}

	if err := storage.ValidateAddress(bucket, fileID, subdirs); err != nil {
		return "", "", nil, interfaces.NewAppError(interfaces.CodeInvalidAddress, err.Error(), err).
			WithStatus(http.StatusBadRequest)
	}
	return bucket, fileID, subdirs, nil
}

// HandleGetFile streams a file, or a zip archive when the address is a
// directory.
//
// URL format: GET /v1.0/storage/{bucket}/{file_id}?subdirectories=a,b&archive_name=x.zip
//
// Archives are sent as attachments named archive_name, or archive.zip.
func (h *Handler) HandleGetFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	bucket, fileID, subdirs, err := address(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	backend, err := h.backends.Current()
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	item, attachment, err := h.retrieve(ctx, backend, bucket, fileID, subdirs, r.URL.Query().Get("archive_name"))
	if err != nil {
		writeError(w, r, h.log, interfaces.NewAppError(interfaces.CodeRetrieve, "Failed to retrieve the requested file", err))
		return
	}
	if item == nil {
		writeError(w, r, h.log, notFound())
		return
	}
	defer item.Close()

	w.Header().Set("Content-Type", item.MimeType)
	if attachment {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": item.Name}))
	}
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, item.Body)
	if err != nil {
		h.log.WarnContext(ctx, "Failed to stream file",
			slog.String("bucket", bucket),
			slog.String("fileID", fileID),
			slog.Int64("written", n),
			"err", err)
	}
}

func (h *Handler) retrieve(ctx context.Context, backend interfaces.StorageBackend, bucket, fileID string, subdirs interfaces.Subdirectories, archiveName string) (*interfaces.StorageItem, bool, error) {
	isDir, err := backend.IsDirectory(ctx, bucket, fileID, subdirs)
	if err != nil {
		return nil, false, err
	}
	if isDir {
		item, err := backend.ZipDirectory(ctx, bucket, fileID, subdirs, archiveName)
		return item, true, err
	}
	item, err := backend.Get(ctx, bucket, fileID, subdirs)
	return item, false, err
}

// HandleExternalURL returns a reference the client can fetch directly.
//
// URL format: GET /v1.0/storage/{bucket}/{file_id}/external-url?subdirectories=a,b
//
// Response: {"external_reference": "..."}
func (h *Handler) HandleExternalURL(w http.ResponseWriter, r *http.Request) {
	bucket, fileID, subdirs, err := address(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	backend, err := h.backends.Current()
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	url, err := backend.ExternalURL(r.Context(), bucket, fileID, subdirs)
	if err != nil {
		writeError(w, r, h.log, interfaces.NewAppError(interfaces.CodeRetrieve, "Failed to retrieve external url of the requested file", err))
		return
	}
	if url == nil {
		writeError(w, r, h.log, notFound())
		return
	}

	writeJSON(w, http.StatusOK, url)
}

// HandleDelete removes a file.
//
// URL format: DELETE /v1.0/storage/{bucket}/{file_id}?subdirectories=a,b
//
// Responds 204 when a file was deleted and 404 when nothing matched.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	bucket, fileID, subdirs, err := address(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	backend, err := h.backends.Current()
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	deleted, err := backend.Delete(r.Context(), bucket, fileID, subdirs)
	if err != nil {
		writeError(w, r, h.log, interfaces.NewAppError(interfaces.CodeDelete, "Failed to delete the requested file", err))
		return
	}
	if !deleted {
		writeError(w, r, h.log, notFound())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleSave stores every file of a multipart form.
//
// URL format: POST /v1.0/storage/{bucket}?subdirectories=a,b&scan=True
//
// Response: 201 with {"<field>": [SaveResult, ...], ...}. With scan set, each
// file is checked for malware first. Any failure deletes the files already
// stored by the request.
func (h *Handler) HandleSave(w http.ResponseWriter, r *http.Request) {
	bucket, _, subdirs, err := address(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	scan, _ := strconv.ParseBool(r.URL.Query().Get("scan"))

	files, cleanup, err := multipartFiles(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	defer cleanup()

	backend, err := h.backends.Current()
	if err != nil {
		for _, f := range files {
			f.Item.Close()
		}
		writeError(w, r, h.log, err)
		return
	}

	results, err := h.uploader.SaveAll(r.Context(), backend, bucket, files, subdirs, scan)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, results)
}

// multipartFiles opens every uploaded file, ordered by field name. A request
// that is not multipart or carries no files fails with NO-FILE.
func multipartFiles(r *http.Request) ([]upload.File, func(), error) {
	noFile := interfaces.NewAppError(interfaces.CodeNoFile, "No File in request", nil).
		WithStatus(http.StatusBadRequest)

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
			return nil, nil, noFile
		}
		return nil, nil, interfaces.NewAppError(interfaces.CodeNoFile, "Malformed multipart request", err).
			WithStatus(http.StatusBadRequest)
	}
	cleanup := func() { r.MultipartForm.RemoveAll() }

	fields := make([]string, 0, len(r.MultipartForm.File))
	for field := range r.MultipartForm.File {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var files []upload.File
	for _, field := range fields {
		for _, fh := range r.MultipartForm.File[field] {
			f, err := fh.Open()
			if err != nil {
				for _, opened := range files {
					opened.Item.Close()
				}
				cleanup()
				return nil, nil, interfaces.NewAppError(interfaces.CodeInternal, "Failed to read uploaded file", err)
			}

			mimeType := fh.Header.Get("Content-Type")
			if mimeType == "" {
				mimeType = storage.MimeForFilename(fh.Filename)
			}

			files = append(files, upload.File{
				Field: field,
				Item: &interfaces.StorageItem{
					Body:     f,
					MimeType: mimeType,
					Name:     fh.Filename,
				},
			})
		}
	}

	if len(files) == 0 {
		cleanup()
		return nil, nil, noFile
	}
	return files, cleanup, nil
}
