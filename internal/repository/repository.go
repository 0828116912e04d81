// Package repository provides report persistence for the research analysis
// service.
//
// # Overview
//
// ReportRepository stores the final artifact of every completed job. Two
// implementations are provided:
//
//   - MemoryReportRepository: process-local, used when no database is configured
//   - PgReportRepository: PostgreSQL, the report body kept as JSONB with the
//     listing columns and retained documents broken out for filtering
//
// Reports are immutable once saved. Saving an ID twice returns
// domain.ErrAlreadyExists; loading a missing ID returns a domain.NotFoundError.
//
// # Thread Safety
//
// All repository implementations are safe for concurrent use by multiple goroutines.
//
// # Usage Pattern
//
//	db, _ := database.New(ctx, cfg, logger)
//	reports := repository.NewPgReportRepository(db)
//	orchestrator := pipeline.New(pcfg, stages, registry, broadcaster, reports, logger)
package repository

import (
	"context"
	"strings"

	"github.com/helixir/research-analysis-service/internal/database"
	"github.com/helixir/research-analysis-service/internal/domain"
)

// DBTX is the database interface supporting both pool and transaction contexts.
//
//	err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
//	    return repository.NewPgReportRepository(tx).Save(ctx, report)
//	})
type DBTX = database.DBTX

// Filter pagination defaults and limits.
const (
	defaultFilterLimit = 100
	maxFilterLimit     = 1000
)

// ReportRepository persists final reports.
type ReportRepository interface {
	// Save stores a new report.
	Save(ctx context.Context, report *domain.Report) error

	// Get loads a report by ID.
	Get(ctx context.Context, id string) (*domain.Report, error)

	// GetByJobID loads the most recent report produced by a job.
	GetByJobID(ctx context.Context, jobID string) (*domain.Report, error)

	// List returns report listings matching filter, newest first, and the
	// total number of matches.
	List(ctx context.Context, filter ReportFilter) ([]domain.ReportInfo, int64, error)

	// Delete removes a report.
	Delete(ctx context.Context, id string) error
}

// ReportFilter narrows a report listing.
type ReportFilter struct {
	// Query matches reports whose query contains it, case-insensitively.
	Query string

	// DOI matches reports that retained a document with this DOI.
	DOI string

	// Limit specifies maximum number of results (default: 100, max: 1000).
	Limit int

	// Offset specifies the starting position for pagination.
	Offset int
}

// Normalize trims the text filters and applies pagination defaults.
func (f *ReportFilter) Normalize() {
	f.Query = strings.TrimSpace(f.Query)
	f.DOI = domain.NormalizeDOI(f.DOI)
	applyPaginationDefaults(&f.Limit, &f.Offset)
}

// applyPaginationDefaults normalizes limit and offset values for filter queries.
// It clamps limit to [1, maxFilterLimit] and ensures offset >= 0.
func applyPaginationDefaults(limit, offset *int) {
	if *limit <= 0 {
		*limit = defaultFilterLimit
	}
	if *limit > maxFilterLimit {
		*limit = maxFilterLimit
	}
	if *offset < 0 {
		*offset = 0
	}
}

func validateReport(report *domain.Report) error {
	if report == nil {
		return domain.NewValidationError("report", "report cannot be nil")
	}
	if strings.TrimSpace(report.ID) == "" {
		return domain.NewValidationError("id", "report ID is required")
	}
	if strings.TrimSpace(report.JobID) == "" {
		return domain.NewValidationError("job_id", "job ID is required")
	}
	return nil
}
