package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a stored entity with the same ID exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrDuplicateJob indicates that a caller-supplied job ID is already registered.
	ErrDuplicateJob = errors.New("duplicate job")

	// ErrNotReady indicates that a job result was requested before the job completed.
	ErrNotReady = errors.New("result not ready")

	// ErrCancelled indicates that a job was cancelled before it could finish.
	ErrCancelled = errors.New("cancelled")

	// ErrTimeout indicates that a job exceeded its wall-clock budget.
	ErrTimeout = errors.New("timeout")

	// ErrJobFailed indicates that a result was requested for a failed job.
	ErrJobFailed = errors.New("job failed")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAllSourcesFailed indicates that every document source failed during retrieval.
	ErrAllSourcesFailed = errors.New("all sources failed")

	// ErrRateLimited indicates that the request was rate limited.
	ErrRateLimited = errors.New("rate limited")

	// ErrServiceUnavailable indicates that an external service is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")
)

// StageError reports that a named pipeline stage failed.
type StageError struct {
	Stage Stage
	Cause error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *StageError) Unwrap() error {
	return e.Cause
}

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// DuplicateJobError reports a job ID collision.
type DuplicateJobError struct {
	ID string
}

// Error implements the error interface.
func (e *DuplicateJobError) Error() string {
	return fmt.Sprintf("job already exists: %s", e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *DuplicateJobError) Unwrap() error {
	return ErrDuplicateJob
}

// RateLimitError provides details about a rate limit error.
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s: retry after %s", e.Source, e.RetryAfter)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// ExternalAPIError provides details about an external API error.
type ExternalAPIError struct {
	Source     string
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *ExternalAPIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Source, e.StatusCode, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *ExternalAPIError) Unwrap() error {
	return e.Cause
}

// NewStageError creates a new StageError.
func NewStageError(stage Stage, cause error) *StageError {
	return &StageError{
		Stage: stage,
		Cause: cause,
	}
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// NewDuplicateJobError creates a new DuplicateJobError.
func NewDuplicateJobError(id string) *DuplicateJobError {
	return &DuplicateJobError{ID: id}
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(source string, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{
		Source:     source,
		RetryAfter: retryAfter,
	}
}

// NewExternalAPIError creates a new ExternalAPIError.
func NewExternalAPIError(source string, statusCode int, message string, cause error) *ExternalAPIError {
	return &ExternalAPIError{
		Source:     source,
		StatusCode: statusCode,
		Message:    message,
		Cause:      cause,
	}
}

// Error kinds reported in job payloads, metrics labels and HTTP error codes.
const (
	ErrorKindCancelled    = "cancelled"
	ErrorKindTimeout      = "timeout"
	ErrorKindStage        = "stage_error"
	ErrorKindNotFound     = "not_found"
	ErrorKindDuplicateJob = "duplicate_job"
	ErrorKindNotReady     = "not_ready"
	ErrorKindJobFailed    = "job_failed"
	ErrorKindInvalidInput = "invalid_input"
	ErrorKindInternal     = "internal"
)

// ErrorKind classifies err into one of the stable error kinds. Cancellation
// and timeout take precedence over a wrapping StageError.
func ErrorKind(err error) string {
	var stageErr *StageError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled):
		return ErrorKindCancelled
	case errors.Is(err, ErrTimeout):
		return ErrorKindTimeout
	case errors.As(err, &stageErr):
		return ErrorKindStage
	case errors.Is(err, ErrNotFound):
		return ErrorKindNotFound
	case errors.Is(err, ErrDuplicateJob):
		return ErrorKindDuplicateJob
	case errors.Is(err, ErrNotReady):
		return ErrorKindNotReady
	case errors.Is(err, ErrJobFailed):
		return ErrorKindJobFailed
	case errors.Is(err, ErrInvalidInput):
		return ErrorKindInvalidInput
	default:
		return ErrorKindInternal
	}
}
