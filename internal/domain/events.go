package domain

import (
	"time"
)

// EventKind is the kind of a progress event.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventError     EventKind = "error"
)

// ProgressEvent is an immutable record of a job's progress. Events are the
// only channel from the pipeline to the broadcaster and the registry.
type ProgressEvent struct {
	JobID string
	Stage Stage
	Kind  EventKind

	// Progress is the overall job percentage implied by the event. It is
	// ignored for error events.
	Progress int

	// Current and Total are optional item counters; Total == 0 means absent.
	Current int
	Total   int

	Message string

	// TokensUsed is reported by LLM-backed stages; 0 means absent.
	TokensUsed int

	Timestamp time.Time

	// Result is set on the terminal finished/completed event.
	Result *ResultRef

	// Err is set on error events.
	Err error
}

// IsTerminal returns true if applying the event ends the job.
func (e ProgressEvent) IsTerminal() bool {
	return e.Kind == EventError || (e.Stage == StageFinished && e.Kind == EventCompleted)
}

// ImpliedProgress returns the job progress the event implies. Error events
// imply none.
func (e ProgressEvent) ImpliedProgress() (int, bool) {
	if e.Kind == EventError {
		return 0, false
	}
	return e.Progress, true
}

// StageProgress is what a stage reports from inside its band.
type StageProgress struct {
	// Fraction is the completed share of the stage in [0, 1].
	Fraction float64

	Current int
	Total   int

	TokensUsed int
	Message    string
}

// ProgressFunc receives stage progress. A non-nil return means the job is no
// longer running and the stage should stop at its earliest convenience.
type ProgressFunc func(StageProgress) error

// NopProgress is a ProgressFunc that discards all reports.
func NopProgress(StageProgress) error { return nil }
