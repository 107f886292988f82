package storage

import (
	"testing"

	"github.com/ruteri/storage-gateway/interfaces"
	"github.com/stretchr/testify/assert"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		bucket  string
		fileID  string
		subdirs interfaces.Subdirectories
		valid   bool
	}{
		{name: "plain", bucket: "reports", fileID: "abc", valid: true},
		{name: "with subdirectories", bucket: "reports", fileID: "abc", subdirs: interfaces.Subdirectories{"2024", "q1"}, valid: true},
		{name: "empty segments", bucket: "reports", fileID: "abc", subdirs: interfaces.ParseSubdirectories(",,,"), valid: true},
		{name: "empty file id", bucket: "reports", valid: true},
		{name: "empty bucket", bucket: "", fileID: "abc", valid: false},
		{name: "bucket traversal", bucket: "..", fileID: "abc", valid: false},
		{name: "file id with slash", bucket: "reports", fileID: "../etc/passwd", valid: false},
		{name: "file id with backslash", bucket: "reports", fileID: `a\b`, valid: false},
		{name: "dot subdirectory", bucket: "reports", fileID: "abc", subdirs: interfaces.Subdirectories{"."}, valid: false},
		{name: "parent subdirectory", bucket: "reports", fileID: "abc", subdirs: interfaces.Subdirectories{"a", ".."}, valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.bucket, tt.fileID, tt.subdirs)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, interfaces.ErrInvalidAddress)
			}
		})
	}
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "reports/abc", objectKey("reports", "abc", nil))
	assert.Equal(t, "reports/2024/q1/abc", objectKey("reports", "abc", interfaces.Subdirectories{"2024", "q1"}))
	assert.Equal(t, "docs/abc", objectKey("docs", "abc", interfaces.ParseSubdirectories(",,,")))
	assert.Equal(t, "reports/2024", objectKey("reports", "", interfaces.Subdirectories{"2024"}))
}

func TestReference(t *testing.T) {
	assert.Equal(t, "reports/abc", reference("reports", "abc", nil))
	assert.Equal(t, "reports/abc?subdirectories=2024,q1", reference("reports", "abc", interfaces.Subdirectories{"2024", "q1"}))
	assert.Equal(t, "docs/abc?subdirectories=,,,", reference("docs", "abc", interfaces.ParseSubdirectories(",,,")))
}
