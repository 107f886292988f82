package storage

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/ruteri/storage-gateway/interfaces"
)

// ValidateAddress rejects bucket, file id and subdirectory segments that could
// escape the addressed directory. Empty subdirectory segments are accepted.
func ValidateAddress(bucket, fileID string, subdirs interfaces.Subdirectories) error {
	if bucket == "" {
		return fmt.Errorf("%w: empty bucket", interfaces.ErrInvalidAddress)
	}
	if err := validateSegment(bucket); err != nil {
		return err
	}
	if fileID != "" {
		if err := validateSegment(fileID); err != nil {
			return err
		}
	}
	for _, s := range subdirs {
		if s == "" {
			continue
		}
		if err := validateSegment(s); err != nil {
			return err
		}
	}
	return nil
}

func validateSegment(s string) error {
	if s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return fmt.Errorf("%w: %q", interfaces.ErrInvalidAddress, s)
	}
	return nil
}

// directoryPath returns root/bucket[/sub1/sub2/...].
func directoryPath(root, bucket string, subdirs interfaces.Subdirectories) string {
	parts := make([]string, 0, len(subdirs)+2)
	parts = append(parts, root, bucket)
	parts = append(parts, subdirs...)
	return filepath.Join(parts...)
}

// objectKey returns bucket[/sub1/sub2/...]/fileID.
func objectKey(bucket, fileID string, subdirs interfaces.Subdirectories) string {
	parts := make([]string, 0, len(subdirs)+2)
	parts = append(parts, bucket)
	parts = append(parts, subdirs...)
	parts = append(parts, fileID)
	return path.Join(parts...)
}

// reference returns bucket/fileID[?subdirectories=a,b].
func reference(bucket, fileID string, subdirs interfaces.Subdirectories) string {
	ref := bucket + "/" + fileID
	if subdirs != nil {
		ref += "?subdirectories=" + subdirs.String()
	}
	return ref
}
