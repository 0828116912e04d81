package analysis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-analysis-service/internal/domain"
	"github.com/helixir/research-analysis-service/internal/llm"
)

func testDocs() []domain.Document {
	return []domain.Document{
		{
			ID:        "arxiv:2401.00001",
			Title:     "Sparse Attention for Long Documents",
			Abstract:  "Transformers dominate NLP. We propose a sparse attention method for long documents. Experiments show a 20% improvement in speed. However, memory usage remains high.",
			Authors:   []domain.Author{{Name: "Ada Lovelace"}},
			Year:      2021,
			Relevance: 0.42,
		},
		{
			ID:        "openalex:W2",
			Title:     "Efficient Transformers: A Survey",
			Abstract:  "We survey efficient transformer variants. Low rank and sparse methods dominate.",
			Year:      2023,
			Relevance: 0.3,
		},
	}
}

func TestSummarizer_LLM(t *testing.T) {
	t.Parallel()

	client := &mockClient{}
	client.On("Complete", mock.Anything, promptMentions("Paper Title: Sparse Attention")).Return(&llm.Response{
		Text:         "```json\n{\"key_findings\":[\"Sparse attention scales linearly\"],\"methodology\":\"Block sparse kernels\",\"results\":\"2x faster\",\"limitations\":[\"Text only\"],\"future_work\":\"Try vision\",\"relevance_score\":9}\n```",
		Model:        "mock-model",
		InputTokens:  100,
		OutputTokens: 40,
	}, nil)
	client.On("Complete", mock.Anything, promptMentions("Paper Title: Efficient Transformers")).Return(&llm.Response{
		Text:         `{"key_findings":["Survey of variants"],"methodology":"","results":"Taxonomy","relevance_score":14}`,
		Model:        "mock-model",
		InputTokens:  80,
		OutputTokens: 20,
	}, nil)

	rec := &progressRecorder{}
	s := NewSummarizer(client, SummarizerConfig{Concurrency: 2}, zerolog.Nop(), nil)
	summaries, err := s.Summarize(context.Background(), "sparse attention", testDocs(), rec.report)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	first := summaries[0]
	assert.Equal(t, "arxiv:2401.00001", first.DocumentID)
	assert.Equal(t, 2021, first.Year)
	assert.Equal(t, []string{"Sparse attention scales linearly"}, first.KeyFindings)
	assert.Equal(t, "Block sparse kernels", first.Methodology)
	assert.Equal(t, []string{"Try vision"}, first.FutureWork)
	assert.Equal(t, 9.0, first.RelevanceScore)
	assert.Equal(t, 140, first.TokensUsed)
	assert.False(t, first.Extractive)

	second := summaries[1]
	assert.Equal(t, "openalex:W2", second.DocumentID)
	assert.Equal(t, notAvailable, second.Methodology)
	assert.Equal(t, 10.0, second.RelevanceScore, "score is clamped")

	events := rec.snapshot()
	require.Len(t, events, 2)
	last := events[len(events)-1]
	assert.Equal(t, 1.0, last.Fraction)
	assert.Equal(t, 2, last.Current)
	assert.Equal(t, 240, last.TokensUsed)
	client.AssertNumberOfCalls(t, "Complete", 2)
}

func TestSummarizer_RequestShape(t *testing.T) {
	t.Parallel()

	client := &mockClient{}
	client.On("Complete", mock.Anything, mock.MatchedBy(func(req llm.Request) bool {
		return req.JSON && req.MaxTokens == 512 && req.System == summarySystemPrompt &&
			containsFold(req.Prompt, "Research Query Context: graph learning") &&
			containsFold(req.Prompt, "Authors: Ada Lovelace")
	})).Return(&llm.Response{Text: `{"key_findings":["x"]}`}, nil)

	s := NewSummarizer(client, SummarizerConfig{MaxTokens: 512}, zerolog.Nop(), nil)
	_, err := s.Summarize(context.Background(), "graph learning", testDocs()[:1], nil)
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestSummarizer_UnparseableOutput(t *testing.T) {
	t.Parallel()

	client := &mockClient{}
	client.On("Complete", mock.Anything, mock.Anything).Return(&llm.Response{Text: "I am unable to comply."}, nil)

	s := NewSummarizer(client, SummarizerConfig{}, zerolog.Nop(), nil)
	summaries, err := s.Summarize(context.Background(), "q", testDocs()[:1], nil)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, notAvailable, summaries[0].Methodology)
	assert.Equal(t, defaultRelevanceScore, summaries[0].RelevanceScore)
	assert.Contains(t, summaries[0].KeyFindings[0], "Could not parse")
}

func TestSummarizer_FailedCallFallsBackToExtractive(t *testing.T) {
	t.Parallel()

	client := &mockClient{}
	client.On("Complete", mock.Anything, promptMentions("Paper Title: Sparse Attention")).
		Return(nil, &llm.APIError{Provider: "mock", StatusCode: 503, Message: "overloaded"})
	client.On("Complete", mock.Anything, promptMentions("Paper Title: Efficient Transformers")).
		Return(&llm.Response{Text: `{"key_findings":["Survey"]}`, InputTokens: 5}, nil)

	s := NewSummarizer(client, SummarizerConfig{}, zerolog.Nop(), nil)
	summaries, err := s.Summarize(context.Background(), "sparse attention", testDocs(), nil)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.True(t, summaries[0].Extractive)
	assert.False(t, summaries[1].Extractive)
}

func TestSummarizer_AllCallsFail(t *testing.T) {
	t.Parallel()

	apiErr := &llm.APIError{Provider: "mock", StatusCode: 401, Message: "bad key"}
	client := &mockClient{}
	client.On("Complete", mock.Anything, mock.Anything).Return(nil, apiErr)

	s := NewSummarizer(client, SummarizerConfig{}, zerolog.Nop(), nil)
	_, err := s.Summarize(context.Background(), "q", testDocs(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apiErr)
}

func TestSummarizer_Extractive(t *testing.T) {
	t.Parallel()

	rec := &progressRecorder{}
	s := NewSummarizer(nil, SummarizerConfig{}, zerolog.Nop(), nil)
	summaries, err := s.Summarize(context.Background(), "sparse attention", testDocs(), rec.report)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	for _, sm := range summaries {
		assert.True(t, sm.Extractive)
		assert.Zero(t, sm.TokensUsed)
	}
	assert.Len(t, rec.snapshot(), 2)
}

func TestSummarizer_ReportErrorStops(t *testing.T) {
	t.Parallel()

	stop := errors.New("job cancelled")
	rec := &progressRecorder{failAt: 1, err: stop}
	s := NewSummarizer(nil, SummarizerConfig{Concurrency: 1}, zerolog.Nop(), nil)
	_, err := s.Summarize(context.Background(), "q", testDocs(), rec.report)
	assert.ErrorIs(t, err, stop)
}

func TestSummarizer_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(domain.ErrCancelled)

	s := NewSummarizer(nil, SummarizerConfig{}, zerolog.Nop(), nil)
	_, err := s.Summarize(ctx, "q", testDocs(), nil)
	assert.ErrorIs(t, err, domain.ErrCancelled)
}

func TestSummarizer_Empty(t *testing.T) {
	t.Parallel()

	s := NewSummarizer(nil, SummarizerConfig{}, zerolog.Nop(), nil)
	summaries, err := s.Summarize(context.Background(), "q", nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, summaries)
	assert.Empty(t, summaries)
}

// slowClient tracks how many calls are in flight.
type slowClient struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (c *slowClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	return &llm.Response{Text: `{"key_findings":["ok"]}`}, nil
}

func (c *slowClient) Provider() string { return "slow" }
func (c *slowClient) Model() string    { return "slow" }

func TestSummarizer_ConcurrencyLimit(t *testing.T) {
	t.Parallel()

	docs := make([]domain.Document, 12)
	for i := range docs {
		docs[i] = domain.Document{ID: domain.DocumentID(domain.SourceTypeArXiv, string(rune('a'+i))), Title: "doc"}
	}

	client := &slowClient{}
	s := NewSummarizer(client, SummarizerConfig{Concurrency: 3}, zerolog.Nop(), nil)
	summaries, err := s.Summarize(context.Background(), "q", docs, nil)
	require.NoError(t, err)
	require.Len(t, summaries, len(docs))
	for i, sm := range summaries {
		assert.Equal(t, docs[i].ID, sm.DocumentID)
	}
	assert.LessOrEqual(t, client.peak.Load(), int32(3))
}

func TestExtractiveSummary(t *testing.T) {
	t.Parallel()

	doc := testDocs()[0]
	sm := extractiveSummary("sparse attention", doc)

	assert.Equal(t, []string{
		"Transformers dominate NLP.",
		"We propose a sparse attention method for long documents.",
		"Experiments show a 20% improvement in speed.",
	}, sm.KeyFindings)
	assert.Equal(t, "We propose a sparse attention method for long documents.", sm.Methodology)
	assert.Equal(t, "Experiments show a 20% improvement in speed.", sm.Results)
	assert.Equal(t, []string{"However, memory usage remains high."}, sm.Limitations)
	assert.InDelta(t, 4.2, sm.RelevanceScore, 1e-9)
	assert.True(t, sm.Extractive)
}

func TestExtractiveSummary_NoAbstract(t *testing.T) {
	t.Parallel()

	sm := extractiveSummary("q", domain.Document{ID: "x:1", Title: "Only a title"})
	assert.Equal(t, []string{"Only a title"}, sm.KeyFindings)
	assert.Equal(t, notAvailable, sm.Results)
}

func TestParseSummary_FlexibleLists(t *testing.T) {
	t.Parallel()

	sm := parseSummary(`{"key_findings":"one finding","limitations":["", " lim "],"future_work":[]}`, domain.Document{ID: "x:1"})
	assert.Equal(t, []string{"one finding"}, sm.KeyFindings)
	assert.Equal(t, []string{"lim"}, sm.Limitations)
	assert.Empty(t, sm.FutureWork)
	assert.Equal(t, defaultRelevanceScore, sm.RelevanceScore)
}
