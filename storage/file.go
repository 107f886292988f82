package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/ruteri/storage-gateway/interfaces"
)

// tempBucket is the logical bucket directory archives are materialized in.
const tempBucket = "temp"

// FileBackend implements a storage backend using the local file system.
// Files live at <root>/<bucket>[/<sub>...]/<file id>.<ext>, the extension
// being derived from the MIME type declared at save time.
type FileBackend struct {
	cfg interfaces.ConfigProvider
	log *slog.Logger
}

// NewFileBackend creates a file backend and makes sure the configured root exists.
func NewFileBackend(cfg interfaces.ConfigProvider, log *slog.Logger) (*FileBackend, error) {
	root := cfg.StorageConfig().FileLocation
	if root == "" {
		return nil, errors.New("file storage location is not configured")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}

	return &FileBackend{
		cfg: cfg,
		log: log,
	}, nil
}

// Get opens the file identified by fileID. The extension may be omitted, in
// which case the directory tree is searched for the first "<fileID>.*" file.
func (b *FileBackend) Get(ctx context.Context, bucket, fileID string, subdirs interfaces.Subdirectories) (*interfaces.StorageItem, error) {
	dir := directoryPath(b.cfg.StorageConfig().FileLocation, bucket, subdirs)

	filePath, err := findFile(dir, fileID)
	if err != nil {
		b.log.WarnContext(ctx, "Failed to search for file",
			slog.String("dir", dir),
			slog.String("fileID", fileID),
			"err", err)
		return nil, nil
	}
	if filePath == "" {
		b.log.DebugContext(ctx, "File not found",
			slog.String("dir", dir),
			slog.String("fileID", fileID))
		return nil, nil
	}

	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		b.log.ErrorContext(ctx, "Failed to open file", slog.String("path", filePath), "err", err)
		return nil, interfaces.NewAppError(interfaces.CodeFileGet, "Failed to get the requested file", err)
	}

	name := filepath.Base(filePath)
	mimeType := MimeForFilename(name)
	if mimeType == defaultMimeType {
		mimeType = detectFileMime(filePath)
	}
	b.log.DebugContext(ctx, "Fetched file", slog.String("path", filePath), slog.String("mime", mimeType))

	return &interfaces.StorageItem{
		Body:     f,
		MimeType: mimeType,
		Name:     name,
	}, nil
}

// IsDirectory reports whether <dir>/<fileID> is a directory on disk.
func (b *FileBackend) IsDirectory(ctx context.Context, bucket, fileID string, subdirs interfaces.Subdirectories) (bool, error) {
	target := filepath.Join(directoryPath(b.cfg.StorageConfig().FileLocation, bucket, subdirs), fileID)

	info, err := os.Stat(target)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			b.log.WarnContext(ctx, "Failed to stat path", slog.String("path", target), "err", err)
		}
		return false, nil
	}
	return info.IsDir(), nil
}

// ZipDirectory archives the regular files directly inside <dir>/<fileID>.
// Nested directories are not descended into.
func (b *FileBackend) ZipDirectory(ctx context.Context, bucket, fileID string, subdirs interfaces.Subdirectories, name string) (*interfaces.StorageItem, error) {
	target := filepath.Join(directoryPath(b.cfg.StorageConfig().FileLocation, bucket, subdirs), fileID)

	dirEntries, err := os.ReadDir(target)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			b.log.ErrorContext(ctx, "Failed to list directory", slog.String("path", target), "err", err)
		}
		return nil, nil
	}

	var sources []archiveSource
	for _, de := range dirEntries {
		p := filepath.Join(target, de.Name())
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		sources = append(sources, func() (string, io.ReadCloser, error) {
			f, err := os.Open(p)
			if err != nil {
				return "", nil, fmt.Errorf("failed to open %s: %w", p, err)
			}
			return filepath.Base(p), f, nil
		})
	}
	if len(sources) == 0 {
		return nil, nil
	}

	buf, err := buildArchive(sources)
	if err != nil {
		b.log.ErrorContext(ctx, "Failed to zip the requested files", slog.String("path", target), "err", err)
		return nil, nil
	}

	b.log.DebugContext(ctx, "Zipped directory",
		slog.String("path", target),
		slog.Int("files", len(sources)),
		slog.Int("size", buf.Len()))

	return archiveItem(buf, name), nil
}

// ExternalURL returns a gateway link for the file. A directory is archived
// into the temp bucket first and the link points at the archive.
func (b *FileBackend) ExternalURL(ctx context.Context, bucket, fileID string, subdirs interfaces.Subdirectories) (*interfaces.ExternalURL, error) {
	isDir, err := b.IsDirectory(ctx, bucket, fileID, subdirs)
	if err != nil {
		return nil, err
	}

	if isDir {
		item, err := b.ZipDirectory(ctx, bucket, fileID, subdirs, "")
		if err != nil || item == nil {
			return nil, err
		}
		saved, err := b.Save(ctx, tempBucket, item, interfaces.Subdirectories{bucket})
		if err != nil {
			return nil, err
		}
		return &interfaces.ExternalURL{ExternalReference: saved.ExternalReference}, nil
	}

	cfg := b.cfg.StorageConfig()
	filePath, err := findFile(directoryPath(cfg.FileLocation, bucket, subdirs), fileID)
	if err != nil || filePath == "" {
		return nil, nil
	}

	return &interfaces.ExternalURL{
		ExternalReference: externalReference(cfg.FileExternalURLBase, reference(bucket, fileID, subdirs)),
	}, nil
}

// Delete removes the first file in the target directory named <fileID> or
// <fileID>.<ext>. Failures are logged and reported as false.
func (b *FileBackend) Delete(ctx context.Context, bucket, fileID string, subdirs interfaces.Subdirectories) (bool, error) {
	dir := directoryPath(b.cfg.StorageConfig().FileLocation, bucket, subdirs)

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			b.log.ErrorContext(ctx, "Failed to delete the requested file", slog.String("dir", dir), "err", err)
		}
		return false, nil
	}

	prefix := fileID + "."
	for _, de := range dirEntries {
		if de.IsDir() || (de.Name() != fileID && !strings.HasPrefix(de.Name(), prefix)) {
			continue
		}

		p := filepath.Join(dir, de.Name())
		if err := os.Remove(p); err != nil {
			b.log.ErrorContext(ctx, "Failed to delete the requested file", slog.String("path", p), "err", err)
			return false, nil
		}
		b.log.DebugContext(ctx, "Deleted file", slog.String("path", p))
		return true, nil
	}

	return false, nil
}

// Save writes the item to <dir>/<new id><ext>, creating missing directories.
// The item body is consumed and closed.
func (b *FileBackend) Save(ctx context.Context, bucket string, item *interfaces.StorageItem, subdirs interfaces.Subdirectories) (*interfaces.SaveResult, error) {
	if item == nil || item.Body == nil {
		return nil, interfaces.NewAppError(interfaces.CodeFileSave, "No content to save", nil)
	}
	defer item.Close()

	cfg := b.cfg.StorageConfig()
	fileID := uuid.NewString()
	dir := directoryPath(cfg.FileLocation, bucket, subdirs)

	if err := os.MkdirAll(dir, 0755); err != nil {
		b.log.ErrorContext(ctx, "Failed to save the requested file", slog.String("dir", dir), "err", err)
		return nil, interfaces.NewAppError(interfaces.CodeFileSave, "Failed to save the requested file", err)
	}

	filePath := filepath.Join(dir, fileID+ExtensionForMime(item.MimeType))
	if err := writeFile(filePath, item.Body); err != nil {
		b.log.ErrorContext(ctx, "Failed to save the requested file", slog.String("path", filePath), "err", err)
		return nil, interfaces.NewAppError(interfaces.CodeFileSave, "Failed to save the requested file", err)
	}

	ref := reference(bucket, fileID, subdirs)
	result := &interfaces.SaveResult{
		Bucket:            bucket,
		FileID:            fileID,
		Reference:         ref,
		ExternalReference: externalReference(cfg.FileExternalURLBase, ref),
	}
	if subdirs != nil {
		result.Subdirectory = subdirs.String()
	}

	b.log.DebugContext(ctx, "Stored file",
		slog.String("path", filePath),
		slog.String("fileID", fileID))

	return result, nil
}

func writeFile(filePath string, r io.Reader) error {
	f, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(filePath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(filePath)
		return err
	}
	return nil
}

// findFile locates fileID inside dir. It returns "" when nothing matches.
func findFile(dir, fileID string) (string, error) {
	if hasExplicitExtension(fileID) {
		p := filepath.Join(dir, fileID)
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p, nil
		}
	}

	prefix := fileID + "."
	var found string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && strings.HasPrefix(d.Name(), prefix) {
			found = p
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return found, nil
}

func externalReference(base, ref string) string {
	return strings.TrimSuffix(base, "/") + "/" + ref
}
