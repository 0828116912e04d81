package intake

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-analysis-service/internal/domain"
)

func floatPtr(f float64) *float64 { return &f }

func TestValidator_Struct(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name      string
		req       Request
		wantField string
	}{
		{
			name: "minimal request",
			req:  Request{Query: "graph neural networks"},
		},
		{
			name: "full request",
			req: Request{
				Query: "protein folding",
				JobID: "job-42:retry.1",
				Options: Options{
					MaxPapers:             25,
					Sources:               []string{"arxiv", "openalex"},
					DedupThreshold:        floatPtr(0.9),
					IncludeKnowledgeGraph: true,
					TimeoutSeconds:        600,
				},
			},
		},
		{
			name:      "missing query",
			req:       Request{},
			wantField: "query",
		},
		{
			name:      "query too long",
			req:       Request{Query: strings.Repeat("q", 2001)},
			wantField: "query",
		},
		{
			name:      "job id with spaces",
			req:       Request{Query: "q", JobID: "bad id"},
			wantField: "job_id",
		},
		{
			name:      "unknown source",
			req:       Request{Query: "q", Options: Options{Sources: []string{"arxiv", "pubmed"}}},
			wantField: "sources[1]",
		},
		{
			name:      "threshold above one",
			req:       Request{Query: "q", Options: Options{DedupThreshold: floatPtr(1.5)}},
			wantField: "dedup_threshold",
		},
		{
			name:      "negative max papers",
			req:       Request{Query: "q", Options: Options{MaxPapers: -1}},
			wantField: "max_papers",
		},
		{
			name:      "timeout above one day",
			req:       Request{Query: "q", Options: Options{TimeoutSeconds: 86401}},
			wantField: "timeout_seconds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(&tt.req)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidInput))

			var verr *domain.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.wantField, verr.Field)
			assert.NotEmpty(t, verr.Message)
		})
	}
}

func TestValidator_Messages(t *testing.T) {
	v := NewValidator()

	err := v.Struct(&Request{})
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "is required", verr.Message)

	err = v.Struct(&Request{Query: "q", Options: Options{Sources: []string{"nope"}}})
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Message, "arxiv, semantic_scholar")
}

func TestOptions_JobOptions(t *testing.T) {
	threshold := 0.8
	o := Options{
		MaxPapers:             10,
		Sources:               []string{"arxiv"},
		DedupThreshold:        &threshold,
		IncludeKnowledgeGraph: true,
		TimeoutSeconds:        90,
	}

	opts := o.JobOptions()
	assert.Equal(t, 10, opts.MaxPapers)
	assert.Equal(t, []string{"arxiv"}, opts.Sources)
	assert.True(t, opts.IncludeKnowledgeGraph)
	assert.Equal(t, 90*time.Second, opts.Timeout)
	require.NotNil(t, opts.DedupThreshold)
	assert.Equal(t, 0.8, *opts.DedupThreshold)

	// The result must not alias the request.
	threshold = 0.1
	o.Sources[0] = "openalex"
	assert.Equal(t, 0.8, *opts.DedupThreshold)
	assert.Equal(t, "arxiv", opts.Sources[0])
}

func TestOptions_JobOptionsDefaults(t *testing.T) {
	opts := Options{}.JobOptions()
	assert.Zero(t, opts.MaxPapers)
	assert.Empty(t, opts.Sources)
	assert.Nil(t, opts.DedupThreshold)
	assert.Zero(t, opts.Timeout)
}

func TestFromJobOptions(t *testing.T) {
	threshold := 0.7
	o := FromJobOptions(domain.JobOptions{
		MaxPapers:      30,
		Sources:        []string{"openalex"},
		DedupThreshold: &threshold,
		Timeout:        90 * time.Second,
	})
	assert.Equal(t, 30, o.MaxPapers)
	assert.Equal(t, []string{"openalex"}, o.Sources)
	assert.Equal(t, 90, o.TimeoutSeconds)
	require.NotNil(t, o.DedupThreshold)
	assert.Equal(t, 0.7, *o.DedupThreshold)
}

func TestValidator_EmbeddedOptions(t *testing.T) {
	type flatRequest struct {
		Query string `json:"query" validate:"required"`
		Options
	}

	err := NewValidator().Struct(&flatRequest{Query: "q", Options: Options{MaxPapers: 5000}})
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "max_papers", verr.Field)
}
