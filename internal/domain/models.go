// Package domain provides domain models and business logic for the Research Analysis Service.
package domain

// JobStatus represents the lifecycle states of an analysis job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal returns true if the status represents a final state that will not change.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Stage identifies a step of the analysis pipeline. StageStarted and
// StageFinished are pseudo-stages that bracket the five executable stages.
type Stage string

const (
	StageStarted              Stage = "started"
	StageRetrieve             Stage = "retrieve"
	StageDeduplicate          Stage = "deduplicate"
	StageSummarize            Stage = "summarize"
	StageSynthesize           Stage = "synthesize"
	StageBuildCitationNetwork Stage = "build_citation_network"
	StageFinished             Stage = "finished"
)

// PipelineStages lists the executable stages in execution order.
var PipelineStages = []Stage{
	StageRetrieve,
	StageDeduplicate,
	StageSummarize,
	StageSynthesize,
	StageBuildCitationNetwork,
}

// IsValid reports whether s is a known stage or pseudo-stage.
func (s Stage) IsValid() bool {
	switch s {
	case StageStarted, StageFinished:
		return true
	}
	return s.Index() >= 0
}

// Index returns the position of s in PipelineStages, or -1 for pseudo-stages.
func (s Stage) Index() int {
	for i, st := range PipelineStages {
		if st == s {
			return i
		}
	}
	return -1
}

// SourceType represents the external source that provided a document.
type SourceType string

const (
	SourceTypeArXiv           SourceType = "arxiv"
	SourceTypeSemanticScholar SourceType = "semantic_scholar"
	SourceTypeOpenAlex        SourceType = "openalex"
	SourceTypeArXivListing    SourceType = "arxiv_listing"
)
