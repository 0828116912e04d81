package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-analysis-service/internal/app"
	"github.com/helixir/research-analysis-service/internal/config"
	"github.com/helixir/research-analysis-service/internal/domain"
	"github.com/helixir/research-analysis-service/internal/papersources"
)

type stubSource struct {
	docs []domain.Document
}

func (s *stubSource) Search(_ context.Context, _ papersources.SearchParams) (*papersources.SearchResult, error) {
	return &papersources.SearchResult{Documents: s.docs, Source: domain.SourceTypeOpenAlex}, nil
}

func (s *stubSource) SourceType() domain.SourceType { return domain.SourceTypeOpenAlex }
func (s *stubSource) Name() string                  { return "stub" }
func (s *stubSource) IsEnabled() bool               { return true }

func testConfig() (*config.Config, error) {
	return &config.Config{
		Pipeline: config.PipelineConfig{
			DefaultTimeout:        time.Minute,
			DefaultMaxPapers:      10,
			DefaultDedupThreshold: 0.92,
			SummaryConcurrency:    2,
			KeywordCount:          10,
			EventBufferSize:       256,
		},
		LLM:       config.LLMConfig{Provider: "none"},
		Embedding: config.EmbeddingConfig{Provider: "lexical"},
		PaperSources: config.PaperSourcesConfig{
			OpenAlex: config.PaperSourceConfig{Enabled: true, BaseURL: "https://api.openalex.org", RateLimit: 10},
		},
	}, nil
}

func stubBuilder(ctx context.Context, cfg *config.Config) (*app.App, error) {
	a, err := app.New(ctx, cfg, zerolog.Nop(), app.WithLLMClient(nil))
	if err != nil {
		return nil, err
	}
	a.Sources.Register(&stubSource{docs: []domain.Document{
		{
			ID:       domain.DocumentID(domain.SourceTypeOpenAlex, "W1"),
			Source:   domain.SourceTypeOpenAlex,
			SourceID: "W1",
			Title:    "Sparse attention for long documents",
			Abstract: "We introduce a sparse attention mechanism for long document modeling. Experiments show lower memory use.",
			Year:     2022,
		},
	}})
	return a, nil
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(testConfig, stubBuilder)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestRun_PrintsProgressAndReport(t *testing.T) {
	out, err := execute(t, "run", "sparse", "attention", "--max-papers", "5")
	require.NoError(t, err)

	assert.Contains(t, out, "submitted")
	assert.Contains(t, out, "retrieve")
	assert.Contains(t, out, "finished")
	assert.Contains(t, out, "Query: sparse attention")
	assert.Contains(t, out, "Documents: 1")
}

func TestRun_JSONOutput(t *testing.T) {
	out, err := execute(t, "run", "sparse attention", "--json", "--threshold", "0.8")
	require.NoError(t, err)

	start := strings.Index(out, "{")
	require.GreaterOrEqual(t, start, 0)
	assert.Contains(t, out[start:], `"query": "sparse attention"`)
}

func TestRun_RejectsUnknownSource(t *testing.T) {
	_, err := execute(t, "run", "sparse attention", "--sources", "pubmed")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput), "got %v", err)
}

func TestRun_RequiresQuery(t *testing.T) {
	_, err := execute(t, "run")
	require.Error(t, err)
}

func TestRun_ConfigError(t *testing.T) {
	cmd := newRootCmd(func() (*config.Config, error) {
		return nil, errors.New("bad port")
	}, stubBuilder)
	cmd.SetArgs([]string{"run", "q"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestSources_ListsConfiguredSources(t *testing.T) {
	out, err := execute(t, "sources")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "SOURCE")
	assert.Contains(t, out, "openalex")
	assert.Regexp(t, `openalex\s+true\s+https://api.openalex.org\s+10.00/s`, out)
	assert.Regexp(t, `arxiv\s+false`, out)
}

func TestPrintEvent(t *testing.T) {
	var buf bytes.Buffer
	printEvent(&buf, domain.ProgressEvent{
		Stage:    domain.StageSummarize,
		Kind:     domain.EventProgress,
		Progress: 55,
		Current:  3,
		Total:    10,
		Message:  "summarized",
	})
	assert.Equal(t, "[ 55%] summarize              progress  3/10 summarized\n", buf.String())

	buf.Reset()
	printEvent(&buf, domain.ProgressEvent{
		Stage: domain.StageRetrieve,
		Kind:  domain.EventError,
		Err:   errors.New("all sources failed"),
	})
	assert.Contains(t, buf.String(), "error: all sources failed")
}
