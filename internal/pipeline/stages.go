package pipeline

import (
	"context"
	"math"

	"github.com/helixir/research-analysis-service/internal/domain"
)

// Retriever fetches candidate documents for a query from the configured sources.
type Retriever interface {
	Retrieve(ctx context.Context, query string, opts domain.JobOptions, report domain.ProgressFunc) (*domain.RetrievalResult, error)
}

// Deduplicator collapses near-duplicate documents.
type Deduplicator interface {
	Deduplicate(ctx context.Context, docs []domain.Document, threshold float64, report domain.ProgressFunc) (*domain.DedupResult, error)
}

// Summarizer produces one structured summary per document.
type Summarizer interface {
	Summarize(ctx context.Context, query string, docs []domain.Document, report domain.ProgressFunc) ([]domain.Summary, error)
}

// Synthesizer combines per-document summaries into a cross-document synthesis.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, docs []domain.Document, summaries []domain.Summary, includeKnowledgeGraph bool, report domain.ProgressFunc) (*domain.Synthesis, error)
}

// CitationBuilder builds the in-set citation network of the retained documents.
type CitationBuilder interface {
	BuildNetwork(ctx context.Context, docs []domain.Document, report domain.ProgressFunc) (domain.CitationNetwork, error)
}

// Stages bundles the five stage executors. All of them must be set.
type Stages struct {
	Retriever    Retriever
	Deduplicator Deduplicator
	Summarizer   Summarizer
	Synthesizer  Synthesizer
	Citations    CitationBuilder
}

// jobState accumulates stage outputs for one job.
type jobState struct {
	job domain.Job

	retrieval *domain.RetrievalResult
	dedup     *domain.DedupResult
	summaries []domain.Summary
	synthesis *domain.Synthesis
	network   domain.CitationNetwork

	tokens int
}

// stageOutcome is what a stage reports on its completed event.
type stageOutcome struct {
	message    string
	current    int
	total      int
	tokensUsed int
}

type stageFunc func(o *Orchestrator, ctx context.Context, st *jobState, report domain.ProgressFunc) (stageOutcome, error)

// stageSpec is one row of the execution table. Band weights sum to 100.
type stageSpec struct {
	stage  domain.Stage
	weight int
	run    stageFunc
}

var stageTable = []stageSpec{
	{stage: domain.StageRetrieve, weight: 20, run: (*Orchestrator).runRetrieve},
	{stage: domain.StageDeduplicate, weight: 10, run: (*Orchestrator).runDeduplicate},
	{stage: domain.StageSummarize, weight: 30, run: (*Orchestrator).runSummarize},
	{stage: domain.StageSynthesize, weight: 20, run: (*Orchestrator).runSynthesize},
	{stage: domain.StageBuildCitationNetwork, weight: 20, run: (*Orchestrator).runCitations},
}

// maxRunningProgress is the highest progress a non-terminal event may carry.
const maxRunningProgress = 99

// bandStart returns the overall progress at which stage begins.
func bandStart(stage domain.Stage) int {
	start := 0
	for _, spec := range stageTable {
		if spec.stage == stage {
			return start
		}
		start += spec.weight
	}
	return start
}

// bandProgress maps a fraction of a stage's work to overall job progress.
func bandProgress(spec stageSpec, fraction float64) int {
	fraction = clampFraction(fraction)
	p := int(math.Floor(float64(bandStart(spec.stage)) + float64(spec.weight)*fraction))
	return min(p, maxRunningProgress)
}

func clampFraction(f float64) float64 {
	switch {
	case math.IsNaN(f) || f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
