package interfaces

import (
	"fmt"
	"net/http"
)

// Stable error codes carried by AppError.
const (
	CodeS3Get         = "S3-GET"
	CodeS3Save        = "S3-SAVE"
	CodeS3Zip         = "S3-ZIP"
	CodeS3Delete      = "S3-DELETE"
	CodeS3Exists      = "S3-EXISTS"
	CodeS3ExternalURL = "S3-EXTERNAL-URL"
	CodeS3List        = "S3-LIST"
	CodeFileSave      = "FILE-SAVE"
	CodeFileGet       = "FILE-GET"

	CodeRetrieve       = "G01"
	CodeDelete         = "D01"
	CodeUploadSave     = "S-01"
	CodeThreatFound    = "S-02"
	CodeScanFailed     = "S-03"
	CodeNoFile         = "NO-FILE"
	CodeInvalidAddress = "INVALID-ADDRESS"
	CodeNotFound       = "NOT-FOUND"
	CodeUnimplemented  = "UNIMPLEMENTED"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeInternal       = "INTERNAL"
)

// AppError is a failure with a short machine-readable code and the HTTP status
// it maps to.
type AppError struct {
	// Code is a stable identifier such as "S3-GET".
	Code string

	// Message is safe to show to API clients.
	Message string

	// StatusCode is the HTTP status to respond with.
	StatusCode int

	// Err is the underlying cause, if any.
	Err error
}

// NewAppError creates an AppError with the default status of 500.
func NewAppError(code, message string, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// WithStatus overrides the HTTP status and returns the receiver.
func (e *AppError) WithStatus(status int) *AppError {
	e.StatusCode = status
	return e
}

// Error implements error.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Err
}
