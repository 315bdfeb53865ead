package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/phrazzld/unwrap-qr/internal/actor"
	"github.com/phrazzld/unwrap-qr/internal/broker"
	"github.com/phrazzld/unwrap-qr/internal/task"
)

// Request errors raised by the handlers themselves.
var (
	ErrNoFiles       = errors.New("no files in upload")
	ErrUploadTooBig  = errors.New("upload exceeds size limit")
	ErrMalformedForm = errors.New("malformed multipart form")
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		return http.StatusNotFound

	case errors.Is(err, ErrNoFiles),
		errors.Is(err, ErrMalformedForm),
		errors.Is(err, task.ErrEmptyUpload):
		return http.StatusBadRequest

	case errors.Is(err, ErrUploadTooBig):
		return http.StatusRequestEntityTooLarge

	case errors.Is(err, task.ErrDuplicateTask):
		return http.StatusConflict

	// The broker is the upstream of every submit
	case errors.Is(err, broker.ErrPublish),
		errors.Is(err, broker.ErrConnection),
		errors.Is(err, actor.ErrStopped):
		return http.StatusBadGateway

	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		return "Task not found"
	case errors.Is(err, ErrNoFiles):
		return "Upload contains no files"
	case errors.Is(err, task.ErrEmptyUpload):
		return "Uploaded file is empty"
	case errors.Is(err, ErrMalformedForm):
		return "Invalid multipart form"
	case errors.Is(err, ErrUploadTooBig):
		return "Upload is too large"
	case errors.Is(err, task.ErrDuplicateTask):
		return "Task already exists"
	case errors.Is(err, broker.ErrPublish),
		errors.Is(err, broker.ErrConnection),
		errors.Is(err, actor.ErrStopped):
		return "Failed to queue task"
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return "Request canceled"
	default:
		return "An unexpected error occurred"
	}
}
