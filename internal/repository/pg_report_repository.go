package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/research-analysis-service/internal/domain"
)

// txBeginner is an interface for types that can begin a transaction (e.g., *pgxpool.Pool, *database.DB).
// Used by Save to write the report and its document rows atomically
// when the underlying DBTX is a pool rather than an existing transaction.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgreSQL error codes used for constraint violation detection.
const (
	pgUniqueViolation = "23505" // unique_violation
)

// Compile-time interface verification.
var _ ReportRepository = (*PgReportRepository)(nil)

// PgReportRepository is a PostgreSQL implementation of ReportRepository.
type PgReportRepository struct {
	db DBTX
}

// NewPgReportRepository creates a new PostgreSQL report repository.
func NewPgReportRepository(db DBTX) *PgReportRepository {
	return &PgReportRepository{db: db}
}

// Save inserts a report and one report_documents row per retained document.
func (r *PgReportRepository) Save(ctx context.Context, report *domain.Report) error {
	if err := validateReport(report); err != nil {
		return err
	}

	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if beginner, ok := r.db.(txBeginner); ok {
		tx, err := beginner.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for report: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		txRepo := &PgReportRepository{db: tx}
		if err := txRepo.insert(ctx, report, body); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit report: %w", err)
		}
		return nil
	}

	return r.insert(ctx, report, body)
}

func (r *PgReportRepository) insert(ctx context.Context, report *domain.Report, body []byte) error {
	failures := report.SourceFailures
	if failures == nil {
		failures = []string{}
	}

	query := `
		INSERT INTO reports (
			id, job_id, query, document_count, tokens_used,
			source_failures, body, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		report.ID, report.JobID, report.Query, len(report.Documents), report.TokensUsed,
		failures, body, report.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("report %s: %w", report.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert report: %w", err)
	}

	docQuery := `
		INSERT INTO report_documents (report_id, document_id, doi, title, year, relevance)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (report_id, document_id) DO NOTHING`

	for _, doc := range report.Documents {
		_, err := r.db.Exec(ctx, docQuery,
			report.ID, doc.ID, nullString(domain.NormalizeDOI(doc.DOI)), doc.Title, nullInt(doc.Year), doc.Relevance,
		)
		if err != nil {
			return fmt.Errorf("failed to insert report document %s: %w", doc.ID, err)
		}
	}

	return nil
}

// Get loads a report by ID.
func (r *PgReportRepository) Get(ctx context.Context, id string) (*domain.Report, error) {
	var body []byte
	err := r.db.QueryRow(ctx, `SELECT body FROM reports WHERE id = $1`, id).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("report", id)
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return decodeReport(body)
}

// GetByJobID loads the most recent report produced by a job.
func (r *PgReportRepository) GetByJobID(ctx context.Context, jobID string) (*domain.Report, error) {
	query := `
		SELECT body FROM reports
		WHERE job_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	var body []byte
	if err := r.db.QueryRow(ctx, query, jobID).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("report for job", jobID)
		}
		return nil, fmt.Errorf("failed to get report by job: %w", err)
	}
	return decodeReport(body)
}

// List returns report listings matching filter, newest first.
func (r *PgReportRepository) List(ctx context.Context, filter ReportFilter) ([]domain.ReportInfo, int64, error) {
	filter.Normalize()

	conditions := []string{"TRUE"}
	args := []interface{}{}
	argIndex := 1

	if filter.Query != "" {
		conditions = append(conditions, fmt.Sprintf("query ILIKE $%d", argIndex))
		args = append(args, "%"+escapeLike(filter.Query)+"%")
		argIndex++
	}

	if filter.DOI != "" {
		conditions = append(conditions, fmt.Sprintf("id IN (SELECT report_id FROM report_documents WHERE doi = $%d)", argIndex))
		args = append(args, filter.DOI)
		argIndex++
	}

	whereClause := strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM reports WHERE %s", whereClause)
	var totalCount int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count reports: %w", err)
	}

	selectQuery := fmt.Sprintf(`
		SELECT id, job_id, query, document_count, tokens_used, source_failures, created_at
		FROM reports
		WHERE %s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d`,
		whereClause, argIndex, argIndex+1)

	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	infos := make([]domain.ReportInfo, 0, filter.Limit)
	for rows.Next() {
		var info domain.ReportInfo
		if err := rows.Scan(
			&info.ID, &info.JobID, &info.Query, &info.DocumentCount, &info.TokensUsed,
			&info.SourceFailures, &info.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan report: %w", err)
		}
		infos = append(infos, info)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating reports: %w", err)
	}

	return infos, totalCount, nil
}

// Delete removes a report. Its document rows cascade.
func (r *PgReportRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("report", id)
	}
	return nil
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

// escapeLike escapes the ILIKE wildcards in s.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// nullString returns nil for empty strings so the column stores NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullInt returns nil for zero so the column stores NULL.
func nullInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
