package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-analysis-service/internal/domain"
)

func TestNewPgReportRepository(t *testing.T) {
	t.Run("creates repository with nil db", func(t *testing.T) {
		repo := NewPgReportRepository(nil)
		assert.NotNil(t, repo)
		assert.Nil(t, repo.db)
	})

	t.Run("creates repository with mock db", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgReportRepository(mock)
		assert.NotNil(t, repo.db)
	})
}

func TestPgReportRepository_Save(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	expectReportInsert := func(mock pgxmock.PgxPoolIface, report *domain.Report) *pgxmock.ExpectedExec {
		return mock.ExpectExec("INSERT INTO reports").
			WithArgs(
				report.ID, report.JobID, report.Query, len(report.Documents), report.TokensUsed,
				report.SourceFailures, pgxmock.AnyArg(), report.CreatedAt,
			)
	}

	t.Run("writes report and documents in one transaction", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgReportRepository(mock)
		report := newTestReport("r1", "job-1", "transformer efficiency", created)

		doi := "10.1000/abc"
		year2021, year2022 := 2021, 2022

		mock.ExpectBegin()
		expectReportInsert(mock, report).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec("INSERT INTO report_documents").
			WithArgs("r1", "arxiv:2101.00001", &doi, "Sparse attention", &year2021, 0.4).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec("INSERT INTO report_documents").
			WithArgs("r1", "openalex:W1", (*string)(nil), "Dense retrieval", &year2022, 0.3).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		require.NoError(t, repo.Save(ctx, report))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil source failures are stored as an empty array", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgReportRepository(mock)
		report := newTestReport("r2", "job-2", "q", created)
		report.Documents = nil
		report.SourceFailures = nil

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO reports").
			WithArgs("r2", "job-2", "q", 0, report.TokensUsed, []string{}, pgxmock.AnyArg(), created).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		require.NoError(t, repo.Save(ctx, report))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate ID maps to ErrAlreadyExists and rolls back", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgReportRepository(mock)
		report := newTestReport("r1", "job-1", "q", created)

		mock.ExpectBegin()
		expectReportInsert(mock, report).WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})
		mock.ExpectRollback()

		err = repo.Save(ctx, report)
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("document insert failure rolls back", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgReportRepository(mock)
		report := newTestReport("r1", "job-1", "q", created)

		mock.ExpectBegin()
		expectReportInsert(mock, report).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec("INSERT INTO report_documents").WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err = repo.Save(ctx, report)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert report document arxiv:2101.00001")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

		err = NewPgReportRepository(mock).Save(ctx, newTestReport("r1", "job-1", "q", created))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to begin transaction")
	})

	t.Run("validation happens before any statement", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		err = NewPgReportRepository(mock).Save(ctx, &domain.Report{ID: "r1"})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgReportRepository_Get(t *testing.T) {
	ctx := context.Background()
	report := newTestReport("r1", "job-1", "transformer efficiency", time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	body, err := json.Marshal(report)
	require.NoError(t, err)

	t.Run("decodes the JSONB body", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery("SELECT body FROM reports WHERE id").
			WithArgs("r1").
			WillReturnRows(pgxmock.NewRows([]string{"body"}).AddRow(body))

		got, err := NewPgReportRepository(mock).Get(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, "job-1", got.JobID)
		assert.Len(t, got.Documents, 2)
		assert.Equal(t, []string{"semantic_scholar"}, got.SourceFailures)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row is NotFound", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery("SELECT body FROM reports WHERE id").
			WithArgs("missing").
			WillReturnError(pgx.ErrNoRows)

		_, err = NewPgReportRepository(mock).Get(ctx, "missing")
		var notFound *domain.NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "report", notFound.Entity)
	})

	t.Run("corrupt body", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery("SELECT body FROM reports WHERE id").
			WithArgs("r1").
			WillReturnRows(pgxmock.NewRows([]string{"body"}).AddRow([]byte("{")))

		_, err = NewPgReportRepository(mock).Get(ctx, "r1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to unmarshal report")
	})
}

func TestPgReportRepository_GetByJobID(t *testing.T) {
	ctx := context.Background()
	body, err := json.Marshal(newTestReport("r2", "job-1", "q", time.Now().UTC()))
	require.NoError(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT body FROM reports\\s+WHERE job_id = \\$1\\s+ORDER BY created_at DESC").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"body"}).AddRow(body))
	mock.ExpectQuery("SELECT body FROM reports\\s+WHERE job_id").
		WithArgs("job-9").
		WillReturnError(pgx.ErrNoRows)

	repo := NewPgReportRepository(mock)
	got, err := repo.GetByJobID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "r2", got.ID)

	_, err = repo.GetByJobID(ctx, "job-9")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgReportRepository_List(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	columns := []string{"id", "job_id", "query", "document_count", "tokens_used", "source_failures", "created_at"}

	t.Run("without filters", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM reports WHERE TRUE").
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(2)))
		mock.ExpectQuery("FROM reports\\s+WHERE TRUE\\s+ORDER BY created_at DESC, id\\s+LIMIT \\$1 OFFSET \\$2").
			WithArgs(defaultFilterLimit, 0).
			WillReturnRows(pgxmock.NewRows(columns).
				AddRow("r2", "job-2", "q2", 4, 10, []string{}, created.Add(time.Minute)).
				AddRow("r1", "job-1", "q1", 2, 20, []string{"openalex"}, created))

		infos, total, err := NewPgReportRepository(mock).List(ctx, ReportFilter{})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		require.Len(t, infos, 2)
		assert.Equal(t, "r2", infos[0].ID)
		assert.Equal(t, 4, infos[0].DocumentCount)
		assert.Equal(t, []string{"openalex"}, infos[1].SourceFailures)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query and doi filters", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM reports WHERE TRUE AND query ILIKE \\$1 AND id IN \\(SELECT report_id FROM report_documents WHERE doi = \\$2\\)").
			WithArgs(`%50\% off%`, "10.1000/abc").
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))
		mock.ExpectQuery("LIMIT \\$3 OFFSET \\$4").
			WithArgs(`%50\% off%`, "10.1000/abc", 10, 5).
			WillReturnRows(pgxmock.NewRows(columns))

		infos, total, err := NewPgReportRepository(mock).List(ctx, ReportFilter{
			Query:  "50% off",
			DOI:    "doi:10.1000/ABC",
			Limit:  10,
			Offset: 5,
		})
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, infos)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("count failure", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("connection reset"))

		_, _, err = NewPgReportRepository(mock).List(ctx, ReportFilter{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to count reports")
	})
}

func TestPgReportRepository_Delete(t *testing.T) {
	ctx := context.Background()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM reports WHERE id").
		WithArgs("r1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM reports WHERE id").
		WithArgs("r1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	repo := NewPgReportRepository(mock)
	require.NoError(t, repo.Delete(ctx, "r1"))
	assert.ErrorIs(t, repo.Delete(ctx, "r1"), domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: pgUniqueViolation}))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("plain")))
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\%\_done\\`, escapeLike(`100%_done\`))
	assert.Equal(t, "plain", escapeLike("plain"))
}

func TestNullHelpers(t *testing.T) {
	assert.Nil(t, nullString(""))
	require.NotNil(t, nullString("x"))
	assert.Equal(t, "x", *nullString("x"))
	assert.Nil(t, nullInt(0))
	assert.Equal(t, 2021, *nullInt(2021))
}
