package model

import (
	"errors"
	"net/http"
	"strings"
)

// ErrorKind is the machine-readable category of a TaskError.
type ErrorKind string

const (
	KindValidation       ErrorKind = "VALIDATION_ERROR"
	KindNotFound         ErrorKind = "NOT_FOUND"
	KindUnauthorized     ErrorKind = "UNAUTHORIZED"
	KindUnauthenticated  ErrorKind = "UNAUTHENTICATED"
	KindCapacityExceeded ErrorKind = "CAPACITY_EXCEEDED"
	KindInternal         ErrorKind = "INTERNAL_ERROR"
)

// FieldError describes a single rule violation on an input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is the ordered list of field errors for one input.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// TaskError represents a domain error for tasks.
type TaskError struct {
	Kind    ErrorKind
	Message string
	Status  int
	Details []FieldError
	Err     error
}

func (e *TaskError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Is matches any TaskError of the same kind, so sentinels work with errors.Is.
func (e *TaskError) Is(target error) bool {
	var t *TaskError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrTaskNotFound     = &TaskError{Kind: KindNotFound, Message: "task not found", Status: http.StatusNotFound}
	ErrAccessDenied     = &TaskError{Kind: KindUnauthorized, Message: "access denied", Status: http.StatusForbidden}
	ErrCapacityExceeded = &TaskError{Kind: KindCapacityExceeded, Message: "task limit reached", Status: http.StatusInternalServerError}
	ErrInternal         = &TaskError{Kind: KindInternal, Message: "internal error", Status: http.StatusInternalServerError}
)

// NewValidationError builds a VALIDATION_ERROR carrying field details.
func NewValidationError(message string, fields []FieldError) *TaskError {
	return &TaskError{
		Kind:    KindValidation,
		Message: message,
		Status:  http.StatusBadRequest,
		Details: fields,
	}
}

// Wrap returns a copy of the sentinel with cause attached.
func (e *TaskError) Wrap(cause error) *TaskError {
	c := *e
	c.Err = cause
	return &c
}
