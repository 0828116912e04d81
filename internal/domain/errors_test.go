package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStageError(t *testing.T) {
	cause := errors.New("llm unavailable")
	err := NewStageError(StageSummarize, cause)

	assert.Equal(t, "stage summarize failed: llm unavailable", err.Error())
	assert.ErrorIs(t, err, cause)

	var stageErr *StageError
	wrapped := fmt.Errorf("job analysis-1: %w", err)
	assert.True(t, errors.As(wrapped, &stageErr))
	assert.Equal(t, StageSummarize, stageErr.Stage)
}

func TestTypedErrorsUnwrapToSentinels(t *testing.T) {
	assert.ErrorIs(t, NewNotFoundError("job", "x"), ErrNotFound)
	assert.ErrorIs(t, NewDuplicateJobError("x"), ErrDuplicateJob)
	assert.ErrorIs(t, NewValidationError("query", "required"), ErrInvalidInput)
	assert.ErrorIs(t, NewRateLimitError("arxiv", time.Second), ErrRateLimited)

	cause := errors.New("connection reset")
	assert.ErrorIs(t, NewExternalAPIError("openalex", 502, "bad gateway", cause), cause)
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "job not found: abc", NewNotFoundError("job", "abc").Error())
	assert.Equal(t, "job already exists: abc", NewDuplicateJobError("abc").Error())
	assert.Equal(t, "validation error: query: required", NewValidationError("query", "required").Error())
	assert.Equal(t, "rate limited by arxiv: retry after 2s", NewRateLimitError("arxiv", 2*time.Second).Error())
	assert.Equal(t, "openalex API error (status 500): boom", NewExternalAPIError("openalex", 500, "boom", nil).Error())
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"cancelled", ErrCancelled, ErrorKindCancelled},
		{"wrapped cancelled", fmt.Errorf("%w: shutting down", ErrCancelled), ErrorKindCancelled},
		{"timeout", ErrTimeout, ErrorKindTimeout},
		{"stage", NewStageError(StageRetrieve, ErrAllSourcesFailed), ErrorKindStage},
		{"stage wrapping cancel prefers cancel", NewStageError(StageRetrieve, ErrCancelled), ErrorKindCancelled},
		{"not found", NewNotFoundError("job", "x"), ErrorKindNotFound},
		{"duplicate", NewDuplicateJobError("x"), ErrorKindDuplicateJob},
		{"not ready", ErrNotReady, ErrorKindNotReady},
		{"job failed", fmt.Errorf("%w: boom", ErrJobFailed), ErrorKindJobFailed},
		{"validation", NewValidationError("query", "empty"), ErrorKindInvalidInput},
		{"other", context.DeadlineExceeded, ErrorKindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorKind(tt.err))
		})
	}
}
