// Package analysis implements the LLM-backed summarize and synthesize stages.
// Both stages fall back to extractive heuristics when no LLM client is
// configured.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/research-analysis-service/internal/domain"
	"github.com/helixir/research-analysis-service/internal/llm"
	"github.com/helixir/research-analysis-service/internal/observability"
	"github.com/helixir/research-analysis-service/internal/textutil"
)

const (
	stageSummarize = "summarize"

	// DefaultSummaryConcurrency bounds in-flight summary requests per job.
	DefaultSummaryConcurrency = 4

	defaultSummaryMaxTokens = 1024
	defaultRelevanceScore   = 5.0
	maxKeyFindings          = 5
	notAvailable            = "Not available"
)

const summarySystemPrompt = `You are an expert research assistant specialized in analyzing academic papers.
Extract key information from research papers and provide structured summaries.
Be concise, accurate, and focus on the most important aspects.`

// SummarizerConfig configures the summarize stage.
type SummarizerConfig struct {
	// Concurrency is the maximum number of documents summarized at once.
	Concurrency int
	// MaxTokens caps each summary response.
	MaxTokens int
}

// Summarizer produces one structured summary per document.
type Summarizer struct {
	client  llm.Client
	cfg     SummarizerConfig
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewSummarizer creates a Summarizer. A nil client selects extractive mode.
func NewSummarizer(client llm.Client, cfg SummarizerConfig, logger zerolog.Logger, metrics *observability.Metrics) *Summarizer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultSummaryConcurrency
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultSummaryMaxTokens
	}
	return &Summarizer{
		client:  client,
		cfg:     cfg,
		logger:  logger.With().Str("component", "summarizer").Logger(),
		metrics: metrics,
	}
}

// Summarize returns summaries in document order. A failed LLM call degrades
// that document to an extractive summary; the stage fails only when every
// call fails or the context ends.
func (s *Summarizer) Summarize(ctx context.Context, query string, docs []domain.Document, report domain.ProgressFunc) ([]domain.Summary, error) {
	if report == nil {
		report = domain.NopProgress
	}
	if len(docs) == 0 {
		return []domain.Summary{}, nil
	}

	logger := observability.LoggerFromContext(ctx, s.logger)
	summaries := make([]domain.Summary, len(docs))

	var (
		mu       sync.Mutex
		done     int
		tokens   int
		failures int
		firstErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for i, doc := range docs {
		g.Go(func() error {
			if err := context.Cause(gctx); err != nil {
				return err
			}

			summary, err := s.summarizeOne(gctx, query, doc)
			if err != nil {
				if gctx.Err() != nil {
					return context.Cause(gctx)
				}
				logger.Warn().Err(err).Str("document_id", doc.ID).Msg("LLM summary failed, using extractive summary")
				summary = extractiveSummary(query, doc)
			}
			summaries[i] = summary

			mu.Lock()
			defer mu.Unlock()
			done++
			tokens += summary.TokensUsed
			if err != nil {
				failures++
				if firstErr == nil {
					firstErr = err
				}
			}
			return report(domain.StageProgress{
				Fraction:   float64(done) / float64(len(docs)),
				Current:    done,
				Total:      len(docs),
				TokensUsed: tokens,
				Message:    fmt.Sprintf("Summarized %d of %d documents", done, len(docs)),
			})
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if s.client != nil && failures == len(docs) {
		return nil, fmt.Errorf("summarizing %d documents: %w", len(docs), firstErr)
	}

	logger.Info().
		Int("documents", len(docs)).
		Int("fallbacks", failures).
		Int("tokens_used", tokens).
		Msg("summarization completed")
	return summaries, nil
}

func (s *Summarizer) summarizeOne(ctx context.Context, query string, doc domain.Document) (domain.Summary, error) {
	if s.client == nil {
		return extractiveSummary(query, doc), nil
	}

	resp, err := s.client.Complete(ctx, llm.Request{
		System:    summarySystemPrompt,
		Prompt:    summaryPrompt(query, doc),
		MaxTokens: s.cfg.MaxTokens,
		JSON:      true,
	})
	if err != nil {
		return domain.Summary{}, err
	}
	s.metrics.RecordLLMRequest(stageSummarize, resp.Model, resp.TokensUsed())

	summary := parseSummary(resp.Text, doc)
	summary.TokensUsed = resp.TokensUsed()
	return summary, nil
}

func summaryPrompt(query string, doc domain.Document) string {
	if query == "" {
		query = "General research"
	}
	abstract := doc.Abstract
	if abstract == "" {
		abstract = "(no abstract available)"
	}

	var b strings.Builder
	b.WriteString("Analyze the following research paper and extract key information.\n\n")
	fmt.Fprintf(&b, "Research Query Context: %s\n\n", query)
	fmt.Fprintf(&b, "Paper Title: %s\n\n", doc.Title)
	fmt.Fprintf(&b, "Authors: %s\n\n", strings.Join(doc.AuthorNames(), ", "))
	fmt.Fprintf(&b, "Abstract: %s\n\n", abstract)
	b.WriteString(`Respond with a JSON object with these fields:
  "key_findings": 3-5 main discoveries or contributions (array of strings),
  "methodology": research approach and methods used (string),
  "results": main findings and conclusions (string),
  "limitations": acknowledged limitations or constraints (array of strings),
  "future_work": suggested research directions (array of strings),
  "relevance_score": how relevant the paper is to the research query, from 0 to 10 (number)`)
	return b.String()
}

// flexibleList accepts either a JSON array of strings or a single string.
type flexibleList []string

func (l *flexibleList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	if single = strings.TrimSpace(single); single != "" {
		*l = flexibleList{single}
	}
	return nil
}

type summaryPayload struct {
	KeyFindings    flexibleList `json:"key_findings"`
	Methodology    string       `json:"methodology"`
	Results        string       `json:"results"`
	Limitations    flexibleList `json:"limitations"`
	FutureWork     flexibleList `json:"future_work"`
	RelevanceScore *float64     `json:"relevance_score"`
}

// parseSummary decodes a model response. Unparseable output yields a minimal
// summary rather than an error.
func parseSummary(text string, doc domain.Document) domain.Summary {
	summary := domain.Summary{
		DocumentID:     doc.ID,
		Title:          doc.Title,
		Year:           doc.Year,
		RelevanceScore: defaultRelevanceScore,
	}

	var p summaryPayload
	if err := llm.DecodeJSON(text, &p); err != nil {
		summary.KeyFindings = []string{"Could not parse model output into a structured summary"}
		summary.Methodology = notAvailable
		summary.Results = notAvailable
		return summary
	}

	summary.KeyFindings = nonEmpty(p.KeyFindings)
	summary.Methodology = orNotAvailable(p.Methodology)
	summary.Results = orNotAvailable(p.Results)
	summary.Limitations = nonEmpty(p.Limitations)
	summary.FutureWork = nonEmpty(p.FutureWork)
	if p.RelevanceScore != nil {
		summary.RelevanceScore = clampScore(*p.RelevanceScore)
	}
	if len(summary.KeyFindings) == 0 {
		summary.KeyFindings = []string{notAvailable}
	}
	return summary
}

var (
	methodCues     = []string{"we propose", "we present", "we introduce", "we develop", "method", "approach", "framework", "model", "algorithm"}
	resultCues     = []string{"results", "show", "demonstrate", "outperform", "achieve", "improve", "find", "found"}
	limitationCues = []string{"limitation", "however", "limited", "future work", "remains"}
)

// extractiveSummary builds a summary from the abstract alone.
func extractiveSummary(query string, doc domain.Document) domain.Summary {
	sentences := textutil.Sentences(doc.Abstract)
	summary := domain.Summary{
		DocumentID:     doc.ID,
		Title:          doc.Title,
		Year:           doc.Year,
		Methodology:    notAvailable,
		Results:        notAvailable,
		RelevanceScore: clampScore(doc.Relevance * 10),
		Extractive:     true,
	}
	if len(sentences) == 0 {
		summary.KeyFindings = []string{doc.Title}
		return summary
	}

	queryTerms := make(map[string]struct{})
	for _, t := range textutil.Tokenize(query) {
		queryTerms[t] = struct{}{}
	}

	// Sentences mentioning the query come first; the opening sentences fill
	// in when fewer than three match.
	picked := make([]bool, len(sentences))
	count := 0
	for i, sent := range sentences {
		if count == maxKeyFindings {
			break
		}
		for _, t := range textutil.Tokenize(sent) {
			if _, ok := queryTerms[t]; ok {
				picked[i] = true
				count++
				break
			}
		}
	}
	for i := 0; i < len(sentences) && count < 3; i++ {
		if !picked[i] {
			picked[i] = true
			count++
		}
	}
	for i, ok := range picked {
		if ok {
			summary.KeyFindings = append(summary.KeyFindings, sentences[i])
		}
	}

	if s := firstWithCue(sentences, methodCues); s != "" {
		summary.Methodology = s
	}
	if s := firstWithCue(sentences[1:], resultCues); s != "" {
		summary.Results = s
	} else if len(sentences) > 1 {
		summary.Results = sentences[len(sentences)-1]
	}
	if s := firstWithCue(sentences, limitationCues); s != "" {
		summary.Limitations = []string{s}
	}
	return summary
}

func firstWithCue(sentences []string, cues []string) string {
	for _, s := range sentences {
		lower := strings.ToLower(s)
		for _, cue := range cues {
			if strings.Contains(lower, cue) {
				return s
			}
		}
	}
	return ""
}

func clampScore(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 10:
		return 10
	default:
		return v
	}
}

func nonEmpty(items []string) []string {
	var out []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

func orNotAvailable(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return notAvailable
	}
	return s
}
