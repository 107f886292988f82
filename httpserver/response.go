package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ruteri/storage-gateway/interfaces"
)

// ErrorResponse is the JSON body of every failed storage API request.
type ErrorResponse struct {
	Code    string `json:"error_code"`
	Message string `json:"error_message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError renders err as an ErrorResponse. Errors that are not an
// AppError become 500 INTERNAL without exposing their message.
func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	resp := ErrorResponse{Code: interfaces.CodeInternal, Message: "Internal server error"}
	status := http.StatusInternalServerError

	var appErr *interfaces.AppError
	switch {
	case errors.As(err, &appErr):
		resp = ErrorResponse{Code: appErr.Code, Message: appErr.Message}
		status = appErr.StatusCode
	case errors.Is(err, interfaces.ErrUnimplementedStorageType):
		resp = ErrorResponse{Code: interfaces.CodeUnimplemented, Message: err.Error()}
	case errors.Is(err, interfaces.ErrInvalidAddress):
		resp = ErrorResponse{Code: interfaces.CodeInvalidAddress, Message: err.Error()}
		status = http.StatusBadRequest
	}

	if status >= http.StatusInternalServerError {
		log.ErrorContext(r.Context(), "Request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("code", resp.Code),
			"err", err)
	} else {
		log.InfoContext(r.Context(), "Request rejected",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("code", resp.Code),
			slog.Int("status", status))
	}

	writeJSON(w, status, resp)
}

func notFound() error {
	return interfaces.NewAppError(interfaces.CodeNotFound, "File not found", nil).
		WithStatus(http.StatusNotFound)
}
