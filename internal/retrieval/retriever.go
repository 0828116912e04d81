// Package retrieval implements the retrieve stage: it searches the
// configured document sources in parallel, merges their results, scores each
// document against the query and keeps the most relevant ones.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/helixir/research-analysis-service/internal/domain"
	"github.com/helixir/research-analysis-service/internal/observability"
	"github.com/helixir/research-analysis-service/internal/papersources"
	"github.com/helixir/research-analysis-service/internal/textutil"
)

// DefaultMinRelevance drops documents that share almost no vocabulary with
// the query.
const DefaultMinRelevance = 0.05

// Config tunes retrieval.
type Config struct {
	// MinRelevance is applied only when at least one document reaches it.
	MinRelevance float64

	// YearFrom and YearTo bound publication years for every search.
	YearFrom int
	YearTo   int
}

// Retriever searches a papersources.Registry.
type Retriever struct {
	sources *papersources.Registry
	config  Config
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// New creates a Retriever. metrics may be nil.
func New(sources *papersources.Registry, cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Retriever {
	if cfg.MinRelevance <= 0 {
		cfg.MinRelevance = DefaultMinRelevance
	}
	return &Retriever{
		sources: sources,
		config:  cfg,
		logger:  logger.With().Str("component", "retrieval").Logger(),
		metrics: metrics,
	}
}

// Retrieve searches the sources selected by opts (all enabled sources when
// none are named). It fails only when every searched source failed.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts domain.JobOptions, report domain.ProgressFunc) (*domain.RetrievalResult, error) {
	if report == nil {
		report = domain.NopProgress
	}

	selected := make([]domain.SourceType, 0, len(opts.Sources))
	for _, s := range opts.Sources {
		selected = append(selected, domain.SourceType(s))
	}
	expected := len(selected)
	if expected == 0 {
		expected = len(r.sources.EnabledSources())
	}
	if expected == 0 {
		return nil, fmt.Errorf("%w: no sources configured", domain.ErrAllSourcesFailed)
	}

	params := papersources.SearchParams{
		Query:      query,
		MaxResults: opts.MaxPapers,
		YearFrom:   r.config.YearFrom,
		YearTo:     r.config.YearTo,
	}

	logger := observability.LoggerFromContext(ctx, r.logger)
	searchCtx := logger.WithContext(ctx)

	var (
		done      int
		reportErr error
		fetched   int
	)
	results := r.sources.SearchSources(searchCtx, params, selected, func(res papersources.SourceResult) {
		done++
		n := 0
		if res.Result != nil {
			n = len(res.Result.Documents)
		}
		fetched += n
		r.metrics.RecordSourceSearch(string(res.Source), n, res.Duration.Seconds(), res.Error)

		srcLogger := observability.WithSourceContext(logger, string(res.Source), query)
		if res.Error != nil {
			srcLogger.Warn().
				Err(res.Error).Dur("duration", res.Duration).Msg("source search failed")
		} else {
			srcLogger.Debug().
				Int("documents", n).Dur("duration", res.Duration).Msg("source search finished")
		}

		if reportErr != nil {
			return
		}
		reportErr = report(domain.StageProgress{
			Fraction: float64(done) / float64(expected),
			Current:  done,
			Total:    expected,
			Message:  fmt.Sprintf("Searched %s (%d documents)", res.Source, n),
		})
	})
	if reportErr != nil {
		return nil, reportErr
	}
	if ctx.Err() != nil {
		return nil, context.Cause(ctx)
	}

	outcomes := make([]domain.SourceOutcome, 0, len(results))
	var (
		merged []domain.Document
		errs   []error
	)
	seen := make(map[string]struct{}, fetched)
	for _, res := range results {
		outcome := domain.SourceOutcome{Source: string(res.Source), Duration: res.Duration, Err: res.Error}
		if res.Error != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Source, res.Error))
			outcomes = append(outcomes, outcome)
			continue
		}
		for _, doc := range res.Result.Documents {
			if _, dup := seen[doc.ID]; dup {
				continue
			}
			seen[doc.ID] = struct{}{}
			merged = append(merged, doc)
			outcome.Documents++
		}
		outcomes = append(outcomes, outcome)
	}

	if len(errs) == len(results) {
		return nil, errors.Join(append([]error{domain.ErrAllSourcesFailed}, errs...)...)
	}

	docs := r.rank(query, merged, opts.MaxPapers)
	logger.Info().
		Int("fetched", fetched).
		Int("unique", len(merged)).
		Int("kept", len(docs)).
		Int("failed_sources", len(errs)).
		Msg("retrieval finished")

	return &domain.RetrievalResult{Documents: docs, Sources: outcomes}, nil
}

// rank scores documents by TF-IDF cosine against the query, drops the
// irrelevant ones when anything relevant exists, and keeps the top
// maxPapers ordered by relevance then citation count.
func (r *Retriever) rank(query string, docs []domain.Document, maxPapers int) []domain.Document {
	if len(docs) == 0 {
		return nil
	}

	queryTokens := textutil.Tokenize(query)
	docTokens := make([][]string, len(docs))
	for i, d := range docs {
		docTokens[i] = textutil.Tokenize(d.EmbeddingText())
	}
	corpus := textutil.NewCorpus(append(docTokens, queryTokens))
	queryVec := corpus.Vector(queryTokens)

	scored := make([]domain.Document, len(docs))
	anyRelevant := false
	for i, d := range docs {
		score := textutil.Cosine(queryVec, corpus.Vector(docTokens[i]))
		scored[i] = d.WithRelevance(score)
		if score >= r.config.MinRelevance {
			anyRelevant = true
		}
	}

	if anyRelevant {
		kept := scored[:0]
		for _, d := range scored {
			if d.Relevance >= r.config.MinRelevance {
				kept = append(kept, d)
			}
		}
		scored = kept
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Relevance != scored[j].Relevance {
			return scored[i].Relevance > scored[j].Relevance
		}
		return scored[i].CitationCount > scored[j].CitationCount
	})

	if maxPapers > 0 && len(scored) > maxPapers {
		scored = scored[:maxPapers]
	}
	return scored
}
