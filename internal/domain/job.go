package domain

import (
	"time"
)

// JobOptions are the caller-supplied knobs of an analysis job. Zero values
// are replaced by service defaults when the job is submitted.
type JobOptions struct {
	// MaxPapers caps the number of documents kept after retrieval.
	MaxPapers int `json:"max_papers,omitempty"`

	// Sources restricts retrieval to the named sources. Empty means all enabled sources.
	Sources []string `json:"sources,omitempty"`

	// DedupThreshold is the near-duplicate similarity threshold in [0, 1].
	// Nil selects the service default.
	DedupThreshold *float64 `json:"dedup_threshold,omitempty"`

	// IncludeKnowledgeGraph enables entity and relation extraction during synthesis.
	IncludeKnowledgeGraph bool `json:"include_knowledge_graph,omitempty"`

	// Timeout is the wall-clock budget for the whole job. Zero selects the service default.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// ResultRef is the handle to a completed job's stored report.
type ResultRef struct {
	// ReportID identifies the report in the report repository.
	ReportID string `json:"report_id"`

	// URI is the archived copy of the report, when an archive is configured.
	URI string `json:"uri,omitempty"`

	// Documents is the number of documents retained in the report.
	Documents int `json:"documents"`
}

// Job is a snapshot of one analysis job. Snapshots are values: mutating one
// never changes the state held by the registry.
type Job struct {
	ID          string
	Query       string
	Options     JobOptions
	Status      JobStatus
	Progress    int
	Stage       Stage
	Message     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	Result      *ResultRef
	Err         error
}

// IsTerminal returns true if the job reached completed or failed.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Duration returns the elapsed time of the job. For running jobs it is
// measured up to now.
func (j *Job) Duration() time.Duration {
	if j.CompletedAt != nil {
		return j.CompletedAt.Sub(j.CreatedAt)
	}
	return time.Since(j.CreatedAt)
}

// Clone returns a deep copy of the job.
func (j Job) Clone() Job {
	out := j
	out.Options.Sources = append([]string(nil), j.Options.Sources...)
	if j.Options.DedupThreshold != nil {
		v := *j.Options.DedupThreshold
		out.Options.DedupThreshold = &v
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	if j.Result != nil {
		r := *j.Result
		out.Result = &r
	}
	return out
}
