package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-analysis-service/internal/domain"
	"github.com/helixir/research-analysis-service/internal/papersources"
	"github.com/helixir/research-analysis-service/internal/retrieval"
)

type scriptedSource struct {
	sourceType domain.SourceType
	docs       []domain.Document
	err        error
}

func (s *scriptedSource) Search(context.Context, papersources.SearchParams) (*papersources.SearchResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &papersources.SearchResult{Documents: s.docs, Source: s.sourceType}, nil
}

func (s *scriptedSource) SourceType() domain.SourceType { return s.sourceType }
func (s *scriptedSource) Name() string                  { return string(s.sourceType) }
func (s *scriptedSource) IsEnabled() bool               { return true }

func newRetrievalHarness(t *testing.T, sources ...papersources.PaperSource) *harness {
	t.Helper()
	reg := papersources.NewRegistry()
	for _, s := range sources {
		reg.Register(s)
	}
	h := newHarness(t, &fakeStages{})
	// The real retrieve stage runs over scripted sources; later stages stay fake.
	h.orch.stages.Retriever = retrieval.New(reg, retrieval.Config{}, zerolog.Nop(), nil)
	return h
}

func TestPipeline_PartialSourceSuccess(t *testing.T) {
	h := newRetrievalHarness(t,
		&scriptedSource{sourceType: domain.SourceTypeArXiv, docs: []domain.Document{
			{ID: "arxiv:1", Source: domain.SourceTypeArXiv, Title: "Graph neural networks"},
			{ID: "arxiv:2", Source: domain.SourceTypeArXiv, Title: "Message passing on graphs"},
		}},
		&scriptedSource{sourceType: domain.SourceTypeOpenAlex, err: errors.New("openalex: 503")},
	)

	id, err := h.orch.Submit(context.Background(), "graph neural networks", domain.JobOptions{})
	require.NoError(t, err)
	job := waitJob(t, h.orch, id)

	assertTerminalInvariants(t, job)
	require.Equal(t, domain.JobStatusCompleted, job.Status, "job error: %v", job.Err)

	report, err := h.orch.Report(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"openalex"}, report.SourceFailures)
	assert.NotEmpty(t, report.Documents)
}

func TestPipeline_AllSourcesFail(t *testing.T) {
	h := newRetrievalHarness(t,
		&scriptedSource{sourceType: domain.SourceTypeArXiv, err: errors.New("arxiv: timeout")},
		&scriptedSource{sourceType: domain.SourceTypeOpenAlex, err: errors.New("openalex: 503")},
	)

	id, err := h.orch.Submit(context.Background(), "graph neural networks", domain.JobOptions{})
	require.NoError(t, err)
	job := waitJob(t, h.orch, id)

	assertTerminalInvariants(t, job)
	assert.Equal(t, domain.JobStatusFailed, job.Status)

	var stageErr *domain.StageError
	require.ErrorAs(t, job.Err, &stageErr)
	assert.Equal(t, domain.StageRetrieve, stageErr.Stage)
	assert.ErrorIs(t, job.Err, domain.ErrAllSourcesFailed)
	assert.True(t, strings.Contains(job.Err.Error(), "openalex"))
}
