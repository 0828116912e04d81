package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-analysis-service/internal/domain"
)

func newTestReport(id, jobID, query string, created time.Time) *domain.Report {
	return &domain.Report{
		ID:    id,
		JobID: jobID,
		Query: query,
		Documents: []domain.Document{
			{ID: "arxiv:2101.00001", Source: domain.SourceTypeArXiv, Title: "Sparse attention", DOI: "10.1000/ABC", Year: 2021, Relevance: 0.4},
			{ID: "openalex:W1", Source: domain.SourceTypeOpenAlex, Title: "Dense retrieval", Year: 2022, Relevance: 0.3},
		},
		Summaries: []domain.Summary{
			{DocumentID: "arxiv:2101.00001", Title: "Sparse attention", KeyFindings: []string{"faster"}, RelevanceScore: 7},
		},
		Synthesis: domain.Synthesis{
			Narrative:        "Two documents.",
			YearDistribution: map[int]int{2021: 1, 2022: 1},
		},
		SourceFailures: []string{"semantic_scholar"},
		TokensUsed:     120,
		CreatedAt:      created,
	}
}

func TestMemoryReportRepository_SaveGet(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryReportRepository()
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	report := newTestReport("r1", "job-1", "transformer efficiency", created)

	require.NoError(t, repo.Save(ctx, report))

	got, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.JobID)
	assert.Len(t, got.Documents, 2)
	assert.Equal(t, map[int]int{2021: 1, 2022: 1}, got.Synthesis.YearDistribution)
	assert.True(t, created.Equal(got.CreatedAt))

	t.Run("stored copy is isolated from the caller", func(t *testing.T) {
		report.Documents[0].Title = "mutated"
		got.Summaries[0].KeyFindings[0] = "mutated"

		again, err := repo.Get(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, "Sparse attention", again.Documents[0].Title)
		assert.Equal(t, "faster", again.Summaries[0].KeyFindings[0])
	})

	t.Run("duplicate ID is rejected", func(t *testing.T) {
		err := repo.Save(ctx, newTestReport("r1", "job-2", "other", created))
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	})

	t.Run("missing report", func(t *testing.T) {
		_, err := repo.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestMemoryReportRepository_Validation(t *testing.T) {
	repo := NewMemoryReportRepository()
	ctx := context.Background()

	assert.ErrorIs(t, repo.Save(ctx, nil), domain.ErrInvalidInput)
	assert.ErrorIs(t, repo.Save(ctx, &domain.Report{JobID: "j"}), domain.ErrInvalidInput)
	assert.ErrorIs(t, repo.Save(ctx, &domain.Report{ID: "r"}), domain.ErrInvalidInput)
}

func TestMemoryReportRepository_GetByJobID(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryReportRepository()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Save(ctx, newTestReport("old", "job-1", "q", base)))
	require.NoError(t, repo.Save(ctx, newTestReport("new", "job-1", "q", base.Add(time.Hour))))
	require.NoError(t, repo.Save(ctx, newTestReport("other", "job-2", "q", base.Add(2*time.Hour))))

	got, err := repo.GetByJobID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.ID)

	_, err = repo.GetByJobID(ctx, "job-9")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryReportRepository_List(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryReportRepository()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		query := "graph neural networks"
		if i%2 == 0 {
			query = "Transformer efficiency"
		}
		report := newTestReport(fmt.Sprintf("r%d", i), fmt.Sprintf("job-%d", i), query, base.Add(time.Duration(i)*time.Minute))
		if i == 4 {
			report.Documents[0].DOI = "10.2000/other"
		}
		require.NoError(t, repo.Save(ctx, report))
	}

	t.Run("newest first", func(t *testing.T) {
		infos, total, err := repo.List(ctx, ReportFilter{})
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
		require.Len(t, infos, 5)
		assert.Equal(t, "r4", infos[0].ID)
		assert.Equal(t, "r0", infos[4].ID)
		assert.Equal(t, 2, infos[0].DocumentCount)
		assert.Equal(t, []string{"semantic_scholar"}, infos[0].SourceFailures)
	})

	t.Run("query filter is case-insensitive", func(t *testing.T) {
		infos, total, err := repo.List(ctx, ReportFilter{Query: "  transformer "})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		assert.Len(t, infos, 3)
	})

	t.Run("doi filter normalizes the DOI", func(t *testing.T) {
		infos, total, err := repo.List(ctx, ReportFilter{DOI: "https://doi.org/10.1000/abc"})
		require.NoError(t, err)
		assert.Equal(t, int64(4), total)
		for _, info := range infos {
			assert.NotEqual(t, "r4", info.ID)
		}
	})

	t.Run("pagination", func(t *testing.T) {
		infos, total, err := repo.List(ctx, ReportFilter{Limit: 2, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
		require.Len(t, infos, 2)
		assert.Equal(t, "r3", infos[0].ID)
		assert.Equal(t, "r2", infos[1].ID)

		infos, _, err = repo.List(ctx, ReportFilter{Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, infos)
	})
}

func TestMemoryReportRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryReportRepository()
	require.NoError(t, repo.Save(ctx, newTestReport("r1", "job-1", "q", time.Now())))

	require.NoError(t, repo.Delete(ctx, "r1"))
	_, err := repo.Get(ctx, "r1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "r1"), domain.ErrNotFound)
}

func TestMemoryReportRepository_Concurrent(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryReportRepository()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("r%d", i)
			assert.NoError(t, repo.Save(ctx, newTestReport(id, "job", "q", time.Now())))
			_, err := repo.Get(ctx, id)
			assert.NoError(t, err)
			_, _, err = repo.List(ctx, ReportFilter{Limit: 5})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	_, total, err := repo.List(ctx, ReportFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(50), total)
}

func TestApplyPaginationDefaults(t *testing.T) {
	tests := []struct {
		name                  string
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{"zero limit gets default", 0, 0, defaultFilterLimit, 0},
		{"negative limit gets default", -3, 0, defaultFilterLimit, 0},
		{"limit capped", 5000, 0, maxFilterLimit, 0},
		{"negative offset reset", 10, -1, 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, offset := tt.limit, tt.offset
			applyPaginationDefaults(&limit, &offset)
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantOffset, offset)
		})
	}
}
