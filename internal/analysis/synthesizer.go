package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/helixir/research-analysis-service/internal/domain"
	"github.com/helixir/research-analysis-service/internal/llm"
	"github.com/helixir/research-analysis-service/internal/observability"
	"github.com/helixir/research-analysis-service/internal/textutil"
)

const (
	stageSynthesize = "synthesize"

	// DefaultKeywordCount is the number of topic keywords kept per synthesis.
	DefaultKeywordCount = 20

	defaultSynthesisMaxTokens = 2048
	maxPromptFindings         = 50
	maxPromptSummaries        = 30
	maxExtractiveThemes       = 5
	maxExtractiveGaps         = 7
	maxGraphEntities          = 60
)

const synthesisSystemPrompt = `You are an expert research synthesizer who identifies patterns, trends, and gaps across multiple research papers.
Analyze the collective findings to provide high-level insights that go beyond individual papers.`

const graphSystemPrompt = `You extract knowledge graphs from research summaries.
Entities are concepts, methods, datasets, tasks, or metrics. Relations are short verbs such as "uses", "improves", or "evaluated_on".`

// SynthesizerConfig configures the synthesize stage.
type SynthesizerConfig struct {
	// KeywordCount is the number of TF-IDF topic keywords to keep.
	KeywordCount int
	// MaxTokens caps each synthesis response.
	MaxTokens int
}

// Synthesizer combines per-document summaries into a cross-document synthesis.
type Synthesizer struct {
	client  llm.Client
	cfg     SynthesizerConfig
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewSynthesizer creates a Synthesizer. A nil client selects extractive mode.
func NewSynthesizer(client llm.Client, cfg SynthesizerConfig, logger zerolog.Logger, metrics *observability.Metrics) *Synthesizer {
	if cfg.KeywordCount <= 0 {
		cfg.KeywordCount = DefaultKeywordCount
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultSynthesisMaxTokens
	}
	return &Synthesizer{
		client:  client,
		cfg:     cfg,
		logger:  logger.With().Str("component", "synthesizer").Logger(),
		metrics: metrics,
	}
}

// Synthesize computes topic keywords, the year distribution and average
// relevance locally, then asks the LLM for the narrative, themes, trends,
// contradictions and research gaps. When includeKnowledgeGraph is set a
// second call extracts entities and relations.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, docs []domain.Document, summaries []domain.Summary, includeKnowledgeGraph bool, report domain.ProgressFunc) (*domain.Synthesis, error) {
	if report == nil {
		report = domain.NopProgress
	}
	logger := observability.LoggerFromContext(ctx, s.logger)

	steps := 2
	if includeKnowledgeGraph {
		steps = 3
	}
	step := 0
	advance := func(tokens int, msg string) error {
		step++
		return report(domain.StageProgress{
			Fraction:   float64(step) / float64(steps),
			Current:    step,
			Total:      steps,
			TokensUsed: tokens,
			Message:    msg,
		})
	}

	syn := &domain.Synthesis{
		Keywords:         topicKeywords(summaries, s.cfg.KeywordCount),
		YearDistribution: yearDistribution(docs),
		AverageRelevance: averageRelevance(summaries),
	}
	if err := advance(0, fmt.Sprintf("Extracted %d topic keywords", len(syn.Keywords))); err != nil {
		return nil, err
	}

	if s.client == nil || len(summaries) == 0 {
		applyExtractiveSynthesis(syn, query, summaries)
	} else {
		if err := s.synthesizeWithLLM(ctx, query, summaries, syn); err != nil {
			return nil, err
		}
	}
	if err := advance(syn.TokensUsed, fmt.Sprintf("Identified %d themes", len(syn.Themes))); err != nil {
		return nil, err
	}

	if includeKnowledgeGraph {
		graph, tokens, err := s.knowledgeGraph(ctx, docs, summaries, syn.Keywords)
		if err != nil {
			return nil, err
		}
		syn.KnowledgeGraph = graph
		syn.TokensUsed += tokens
		if err := advance(syn.TokensUsed, fmt.Sprintf("Extracted %d entities and %d relations",
			len(graph.Entities), len(graph.Relations))); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Int("summaries", len(summaries)).
		Int("themes", len(syn.Themes)).
		Int("research_gaps", len(syn.ResearchGaps)).
		Int("tokens_used", syn.TokensUsed).
		Msg("synthesis completed")
	return syn, nil
}

type synthesisPayload struct {
	Narrative      string       `json:"narrative"`
	Themes         flexibleList `json:"themes"`
	Trends         flexibleList `json:"trends"`
	Contradictions flexibleList `json:"contradictions"`
	ResearchGaps   flexibleList `json:"research_gaps"`
}

func (s *Synthesizer) synthesizeWithLLM(ctx context.Context, query string, summaries []domain.Summary, syn *domain.Synthesis) error {
	resp, err := s.client.Complete(ctx, llm.Request{
		System:    synthesisSystemPrompt,
		Prompt:    synthesisPrompt(query, summaries),
		MaxTokens: s.cfg.MaxTokens,
		JSON:      true,
	})
	if err != nil {
		return fmt.Errorf("synthesis request: %w", err)
	}
	s.metrics.RecordLLMRequest(stageSynthesize, resp.Model, resp.TokensUsed())
	syn.TokensUsed += resp.TokensUsed()

	var p synthesisPayload
	if err := llm.DecodeJSON(resp.Text, &p); err != nil {
		// Keep the prose; the list fields stay empty.
		syn.Narrative = strings.TrimSpace(resp.Text)
		return nil
	}
	syn.Narrative = strings.TrimSpace(p.Narrative)
	syn.Themes = nonEmpty(p.Themes)
	syn.Trends = nonEmpty(p.Trends)
	syn.Contradictions = nonEmpty(p.Contradictions)
	syn.ResearchGaps = nonEmpty(p.ResearchGaps)
	return nil
}

func synthesisPrompt(query string, summaries []domain.Summary) string {
	if query == "" {
		query = "General research"
	}

	var findings, methods, results []string
	for _, sm := range summaries {
		for _, f := range sm.KeyFindings {
			if len(findings) < maxPromptFindings {
				findings = append(findings, f)
			}
		}
		if len(methods) < maxPromptSummaries && sm.Methodology != notAvailable {
			methods = append(methods, sm.Methodology)
		}
		if len(results) < maxPromptSummaries && sm.Results != notAvailable {
			results = append(results, sm.Results)
		}
	}

	var b strings.Builder
	b.WriteString("Analyze the following research papers and provide a comprehensive synthesis.\n\n")
	fmt.Fprintf(&b, "Research Query: %s\n\n", query)
	fmt.Fprintf(&b, "Total Papers Analyzed: %d\n\n", len(summaries))
	writeBullets(&b, "All Key Findings", findings)
	writeBullets(&b, "Methodologies Used", methods)
	writeBullets(&b, "Results Summary", results)
	b.WriteString(`Respond with a JSON object with these fields:
  "narrative": a few paragraphs synthesizing the field (string),
  "themes": 3-5 recurring topics or ideas (array of strings),
  "trends": emerging patterns or directions (array of strings),
  "contradictions": conflicting findings or debates (array of strings),
  "research_gaps": 5-7 areas that need more investigation (array of strings)`)
	return b.String()
}

func writeBullets(b *strings.Builder, heading string, items []string) {
	b.WriteString(heading)
	b.WriteString(":\n")
	for _, it := range items {
		b.WriteString("- ")
		b.WriteString(it)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
}

// applyExtractiveSynthesis fills the narrative fields from local statistics.
func applyExtractiveSynthesis(syn *domain.Synthesis, query string, summaries []domain.Summary) {
	for i, kw := range syn.Keywords {
		if i == maxExtractiveThemes {
			break
		}
		syn.Themes = append(syn.Themes, kw.Term)
	}

	seen := make(map[string]struct{})
	for _, sm := range summaries {
		for _, item := range append(append([]string(nil), sm.Limitations...), sm.FutureWork...) {
			key := strings.ToLower(item)
			if _, ok := seen[key]; ok || len(syn.ResearchGaps) == maxExtractiveGaps {
				continue
			}
			seen[key] = struct{}{}
			syn.ResearchGaps = append(syn.ResearchGaps, item)
		}
	}

	if trend := publicationTrend(syn.YearDistribution); trend != "" {
		syn.Trends = []string{trend}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analyzed %d documents", len(summaries))
	if query != "" {
		fmt.Fprintf(&b, " on %q", query)
	}
	if lo, hi, ok := yearSpan(syn.YearDistribution); ok {
		if lo == hi {
			fmt.Fprintf(&b, " published in %d", lo)
		} else {
			fmt.Fprintf(&b, " published between %d and %d", lo, hi)
		}
	}
	b.WriteString(".")
	if len(syn.Themes) > 0 {
		fmt.Fprintf(&b, " Recurring topics include %s.", strings.Join(syn.Themes, ", "))
	}
	if len(summaries) > 0 {
		fmt.Fprintf(&b, " Average relevance is %.1f out of 10.", syn.AverageRelevance)
	}
	syn.Narrative = b.String()
}

func publicationTrend(dist map[int]int) string {
	if len(dist) < 2 {
		return ""
	}
	peakYear, peak := 0, 0
	for year, n := range dist {
		if n > peak || (n == peak && year > peakYear) {
			peakYear, peak = year, n
		}
	}
	return fmt.Sprintf("Publication activity peaks in %d with %d documents", peakYear, peak)
}

func yearSpan(dist map[int]int) (lo, hi int, ok bool) {
	for year := range dist {
		if !ok || year < lo {
			lo = year
		}
		if !ok || year > hi {
			hi = year
		}
		ok = true
	}
	return lo, hi, ok
}

// summaryTokens tokenizes the text of a summary used for keyword extraction.
func summaryTokens(sm domain.Summary) []string {
	parts := []string{sm.Title}
	parts = append(parts, sm.KeyFindings...)
	if sm.Methodology != notAvailable {
		parts = append(parts, sm.Methodology)
	}
	if sm.Results != notAvailable {
		parts = append(parts, sm.Results)
	}
	return textutil.Tokenize(strings.Join(parts, " "))
}

func topicKeywords(summaries []domain.Summary, n int) []domain.Keyword {
	if len(summaries) == 0 {
		return nil
	}
	docs := make([][]string, 0, len(summaries))
	for _, sm := range summaries {
		docs = append(docs, summaryTokens(sm))
	}
	corpus := textutil.NewCorpus(docs)
	terms := corpus.TopTerms(docs, n)

	out := make([]domain.Keyword, 0, len(terms))
	for _, t := range terms {
		out = append(out, domain.Keyword{Term: t.Term, Score: t.Score / float64(len(docs))})
	}
	return out
}

func yearDistribution(docs []domain.Document) map[int]int {
	dist := make(map[int]int)
	for _, d := range docs {
		if d.Year > 0 {
			dist[d.Year]++
		}
	}
	if len(dist) == 0 {
		return nil
	}
	return dist
}

func averageRelevance(summaries []domain.Summary) float64 {
	if len(summaries) == 0 {
		return 0
	}
	total := 0.0
	for _, sm := range summaries {
		total += sm.RelevanceScore
	}
	return total / float64(len(summaries))
}

type graphPayload struct {
	Entities  []domain.Entity   `json:"entities"`
	Relations []domain.Relation `json:"relations"`
}

func (s *Synthesizer) knowledgeGraph(ctx context.Context, docs []domain.Document, summaries []domain.Summary, keywords []domain.Keyword) (*domain.KnowledgeGraph, int, error) {
	if s.client == nil || len(summaries) == 0 {
		return cooccurrenceGraph(docs, keywords), 0, nil
	}

	resp, err := s.client.Complete(ctx, llm.Request{
		System:    graphSystemPrompt,
		Prompt:    graphPrompt(summaries),
		MaxTokens: s.cfg.MaxTokens,
		JSON:      true,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("knowledge graph request: %w", err)
	}
	s.metrics.RecordLLMRequest(stageSynthesize, resp.Model, resp.TokensUsed())

	var p graphPayload
	if err := llm.DecodeJSON(resp.Text, &p); err != nil {
		s.logger.Warn().Err(err).Msg("unparseable knowledge graph, using keyword co-occurrence graph")
		return cooccurrenceGraph(docs, keywords), resp.TokensUsed(), nil
	}
	return normalizeGraph(p), resp.TokensUsed(), nil
}

func graphPrompt(summaries []domain.Summary) string {
	var b strings.Builder
	b.WriteString("Extract a knowledge graph from these paper summaries.\n\n")
	for i, sm := range summaries {
		if i == maxPromptSummaries {
			break
		}
		fmt.Fprintf(&b, "Paper %d: %s\n", i+1, sm.Title)
		if len(sm.KeyFindings) > 0 {
			fmt.Fprintf(&b, "Findings: %s\n", strings.Join(sm.KeyFindings, "; "))
		}
		if sm.Methodology != notAvailable {
			fmt.Fprintf(&b, "Methodology: %s\n", sm.Methodology)
		}
		b.WriteByte('\n')
	}
	b.WriteString(`Respond with a JSON object:
{"entities": [{"name": "...", "type": "concept|method|dataset|task|metric"}],
 "relations": [{"source": "<entity name>", "target": "<entity name>", "type": "..."}]}`)
	return b.String()
}

// normalizeGraph merges entities by case-insensitive name and drops relations
// whose endpoints are not entities.
func normalizeGraph(p graphPayload) *domain.KnowledgeGraph {
	graph := &domain.KnowledgeGraph{Entities: []domain.Entity{}, Relations: []domain.Relation{}}
	canonical := make(map[string]string)
	for _, e := range p.Entities {
		name := strings.TrimSpace(e.Name)
		key := strings.ToLower(name)
		if name == "" || len(graph.Entities) == maxGraphEntities {
			continue
		}
		if _, ok := canonical[key]; ok {
			continue
		}
		canonical[key] = name
		typ := strings.ToLower(strings.TrimSpace(e.Type))
		if typ == "" {
			typ = "concept"
		}
		graph.Entities = append(graph.Entities, domain.Entity{Name: name, Type: typ})
	}

	seen := make(map[domain.Relation]struct{})
	for _, r := range p.Relations {
		src, okSrc := canonical[strings.ToLower(strings.TrimSpace(r.Source))]
		dst, okDst := canonical[strings.ToLower(strings.TrimSpace(r.Target))]
		if !okSrc || !okDst || src == dst {
			continue
		}
		typ := strings.TrimSpace(r.Type)
		if typ == "" {
			typ = "related_to"
		}
		rel := domain.Relation{Source: src, Target: dst, Type: typ}
		if _, dup := seen[rel]; dup {
			continue
		}
		seen[rel] = struct{}{}
		graph.Relations = append(graph.Relations, rel)
	}
	return graph
}

// cooccurrenceGraph links keywords that appear together in a document's
// title or abstract.
func cooccurrenceGraph(docs []domain.Document, keywords []domain.Keyword) *domain.KnowledgeGraph {
	graph := &domain.KnowledgeGraph{Entities: []domain.Entity{}, Relations: []domain.Relation{}}
	terms := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		terms = append(terms, kw.Term)
		graph.Entities = append(graph.Entities, domain.Entity{Name: kw.Term, Type: "concept"})
	}

	pairs := make(map[[2]string]struct{})
	for _, d := range docs {
		present := make(map[string]struct{})
		for _, t := range textutil.Tokenize(d.EmbeddingText()) {
			present[t] = struct{}{}
		}
		var inDoc []string
		for _, t := range terms {
			if _, ok := present[t]; ok {
				inDoc = append(inDoc, t)
			}
		}
		sort.Strings(inDoc)
		for i := 0; i < len(inDoc); i++ {
			for j := i + 1; j < len(inDoc); j++ {
				pairs[[2]string{inDoc[i], inDoc[j]}] = struct{}{}
			}
		}
	}

	keys := make([][2]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})
	for _, k := range keys {
		graph.Relations = append(graph.Relations, domain.Relation{Source: k[0], Target: k[1], Type: "co_occurs_with"})
	}
	return graph
}
