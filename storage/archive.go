package storage

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/ruteri/storage-gateway/interfaces"
)

// archiveSource opens one file to be placed in an archive and names its entry.
type archiveSource func() (name string, body io.ReadCloser, err error)

// buildArchive writes every source, deflate-compressed, into an in-memory zip.
// The whole archive is buffered before it is returned.
func buildArchive(sources []archiveSource) (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	for _, open := range sources {
		if err := writeArchiveEntry(zw, open); err != nil {
			zw.Close()
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return buf, nil
}

func writeArchiveEntry(zw *zip.Writer, open archiveSource) error {
	name, body, err := open()
	if err != nil {
		return err
	}
	defer body.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to add %s to archive: %w", name, err)
	}
	if _, err := io.Copy(w, body); err != nil {
		return fmt.Errorf("failed to compress %s: %w", name, err)
	}
	return nil
}

// archiveItem wraps a finished archive as a StorageItem.
func archiveItem(buf *bytes.Buffer, name string) *interfaces.StorageItem {
	if name == "" {
		name = interfaces.DefaultArchiveName
	}
	return &interfaces.StorageItem{
		Body:     io.NopCloser(bytes.NewReader(buf.Bytes())),
		MimeType: interfaces.ArchiveMimeType,
		Name:     name,
	}
}
