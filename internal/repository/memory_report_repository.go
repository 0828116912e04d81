package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/helixir/research-analysis-service/internal/domain"
)

// Compile-time interface verification.
var _ ReportRepository = (*MemoryReportRepository)(nil)

// memoryEntry keeps the encoded report so callers never share memory with
// the stored copy.
type memoryEntry struct {
	info domain.ReportInfo
	dois map[string]struct{}
	body []byte
}

// MemoryReportRepository is a process-local ReportRepository.
type MemoryReportRepository struct {
	mu      sync.RWMutex
	reports map[string]*memoryEntry
}

// NewMemoryReportRepository creates an empty in-memory repository.
func NewMemoryReportRepository() *MemoryReportRepository {
	return &MemoryReportRepository{reports: make(map[string]*memoryEntry)}
}

// Save stores a copy of report.
func (r *MemoryReportRepository) Save(ctx context.Context, report *domain.Report) error {
	if err := validateReport(report); err != nil {
		return err
	}
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	entry := &memoryEntry{
		info: report.Info(),
		dois: make(map[string]struct{}),
		body: body,
	}
	entry.info.SourceFailures = append([]string(nil), report.SourceFailures...)
	for _, doc := range report.Documents {
		if doi := domain.NormalizeDOI(doc.DOI); doi != "" {
			entry.dois[doi] = struct{}{}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.reports[report.ID]; exists {
		return fmt.Errorf("report %s: %w", report.ID, domain.ErrAlreadyExists)
	}
	r.reports[report.ID] = entry
	return nil
}

// Get loads a report by ID.
func (r *MemoryReportRepository) Get(ctx context.Context, id string) (*domain.Report, error) {
	r.mu.RLock()
	entry, ok := r.reports[id]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.NewNotFoundError("report", id)
	}
	return decodeReport(entry.body)
}

// GetByJobID loads the most recent report produced by a job.
func (r *MemoryReportRepository) GetByJobID(ctx context.Context, jobID string) (*domain.Report, error) {
	r.mu.RLock()
	var latest *memoryEntry
	for _, entry := range r.reports {
		if entry.info.JobID != jobID {
			continue
		}
		if latest == nil || entry.info.CreatedAt.After(latest.info.CreatedAt) {
			latest = entry
		}
	}
	r.mu.RUnlock()

	if latest == nil {
		return nil, domain.NewNotFoundError("report for job", jobID)
	}
	return decodeReport(latest.body)
}

// List returns report listings matching filter, newest first.
func (r *MemoryReportRepository) List(ctx context.Context, filter ReportFilter) ([]domain.ReportInfo, int64, error) {
	filter.Normalize()
	query := strings.ToLower(filter.Query)

	r.mu.RLock()
	matched := make([]domain.ReportInfo, 0, len(r.reports))
	for _, entry := range r.reports {
		if query != "" && !strings.Contains(strings.ToLower(entry.info.Query), query) {
			continue
		}
		if filter.DOI != "" {
			if _, ok := entry.dois[filter.DOI]; !ok {
				continue
			}
		}
		matched = append(matched, entry.info)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := int64(len(matched))
	if filter.Offset >= len(matched) {
		return []domain.ReportInfo{}, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[filter.Offset:end], total, nil
}

// Delete removes a report.
func (r *MemoryReportRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reports[id]; !ok {
		return domain.NewNotFoundError("report", id)
	}
	delete(r.reports, id)
	return nil
}

func decodeReport(body []byte) (*domain.Report, error) {
	var report domain.Report
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &report, nil
}
