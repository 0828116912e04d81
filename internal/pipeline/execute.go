package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/research-analysis-service/internal/domain"
)

func (o *Orchestrator) runRetrieve(ctx context.Context, st *jobState, report domain.ProgressFunc) (stageOutcome, error) {
	res, err := o.stages.Retriever.Retrieve(ctx, st.job.Query, st.job.Options, report)
	if err != nil {
		return stageOutcome{}, err
	}
	st.retrieval = res

	msg := fmt.Sprintf("Retrieved %d documents from %d sources", len(res.Documents), len(res.Sources))
	if failed := res.FailedSources(); len(failed) > 0 {
		msg += fmt.Sprintf(" (failed: %s)", strings.Join(failed, ", "))
	}
	return stageOutcome{message: msg, current: len(res.Documents), total: len(res.Documents)}, nil
}

func (o *Orchestrator) runDeduplicate(ctx context.Context, st *jobState, report domain.ProgressFunc) (stageOutcome, error) {
	threshold := o.cfg.DefaultDedupThreshold
	if st.job.Options.DedupThreshold != nil {
		threshold = *st.job.Options.DedupThreshold
	}

	res, err := o.stages.Deduplicator.Deduplicate(ctx, st.retrieval.Documents, threshold, report)
	if err != nil {
		return stageOutcome{}, err
	}
	st.dedup = res
	o.metrics.RecordDuplicatesRemoved(res.Removed())

	return stageOutcome{
		message: fmt.Sprintf("Kept %d of %d documents after removing %d duplicates",
			len(res.Representatives), len(st.retrieval.Documents), res.Removed()),
		current: len(res.Representatives),
		total:   len(st.retrieval.Documents),
	}, nil
}

func (o *Orchestrator) runSummarize(ctx context.Context, st *jobState, report domain.ProgressFunc) (stageOutcome, error) {
	summaries, err := o.stages.Summarizer.Summarize(ctx, st.job.Query, st.dedup.Representatives, report)
	if err != nil {
		return stageOutcome{}, err
	}
	st.summaries = summaries

	tokens := 0
	for _, s := range summaries {
		tokens += s.TokensUsed
	}
	return stageOutcome{
		message:    fmt.Sprintf("Summarized %d documents", len(summaries)),
		current:    len(summaries),
		total:      len(st.dedup.Representatives),
		tokensUsed: tokens,
	}, nil
}

func (o *Orchestrator) runSynthesize(ctx context.Context, st *jobState, report domain.ProgressFunc) (stageOutcome, error) {
	syn, err := o.stages.Synthesizer.Synthesize(ctx, st.job.Query, st.dedup.Representatives, st.summaries,
		st.job.Options.IncludeKnowledgeGraph, report)
	if err != nil {
		return stageOutcome{}, err
	}
	st.synthesis = syn

	return stageOutcome{
		message:    fmt.Sprintf("Synthesized %d themes and %d research gaps", len(syn.Themes), len(syn.ResearchGaps)),
		tokensUsed: syn.TokensUsed,
	}, nil
}

func (o *Orchestrator) runCitations(ctx context.Context, st *jobState, report domain.ProgressFunc) (stageOutcome, error) {
	network, err := o.stages.Citations.BuildNetwork(ctx, st.dedup.Representatives, report)
	if err != nil {
		return stageOutcome{}, err
	}
	st.network = network

	return stageOutcome{
		message: fmt.Sprintf("Built citation network with %d nodes and %d edges", network.Stats.Nodes, network.Stats.Edges),
		current: network.Stats.Edges,
		total:   network.Stats.Edges,
	}, nil
}

// assembleReport builds the final artifact from the accumulated stage outputs.
func (o *Orchestrator) assembleReport(st *jobState) *domain.Report {
	report := &domain.Report{
		ID:             uuid.NewString(),
		JobID:          st.job.ID,
		Query:          st.job.Query,
		Documents:      st.dedup.Representatives,
		Clusters:       st.dedup.Clusters,
		Summaries:      st.summaries,
		Citations:      st.network,
		SourceFailures: st.retrieval.FailedSources(),
		TokensUsed:     st.tokens,
		CreatedAt:      o.now().UTC(),
	}
	if st.synthesis != nil {
		report.Synthesis = *st.synthesis
	}
	return report
}

// storeReport persists the report and, when configured, archives a copy.
// Archive failures are logged and leave the URI empty.
func (o *Orchestrator) storeReport(ctx context.Context, logger zerolog.Logger, st *jobState) (*domain.ResultRef, error) {
	report := o.assembleReport(st)
	if err := o.reports.Save(ctx, report); err != nil {
		return nil, fmt.Errorf("saving report: %w", err)
	}

	ref := &domain.ResultRef{ReportID: report.ID, Documents: len(report.Documents)}
	if o.archive != nil {
		uri, err := o.archive.Archive(ctx, report)
		if err != nil {
			logger.Warn().Err(err).Str("report_id", report.ID).Msg("failed to archive report")
		} else {
			ref.URI = uri
		}
	}
	return ref, nil
}
