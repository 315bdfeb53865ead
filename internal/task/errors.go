package task

import "errors"

// Common errors returned by the Registry
var (
	// ErrTaskNotFound is returned when no record exists for a correlation id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrDuplicateTask is returned when inserting an id that is already registered.
	ErrDuplicateTask = errors.New("task already registered")

	// ErrTerminalStatus is returned when updating a task that already finished.
	ErrTerminalStatus = errors.New("task already in a terminal status")

	// ErrInvalidTransition is returned for a status change that does not move forward.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrEmptyUpload is returned when submitting an upload without content.
	ErrEmptyUpload = errors.New("upload is empty")
)
