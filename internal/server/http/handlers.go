package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/helixir/research-analysis-service/internal/domain"
	"github.com/helixir/research-analysis-service/internal/intake"
	"github.com/helixir/research-analysis-service/internal/repository"
)

// Pagination and validation constants.
const (
	defaultPageSize    = 50
	maxPageSize        = 100
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
)

// submitAnalysisRequest is the JSON request body for submitting an analysis.
// Options are flattened into the top-level object.
type submitAnalysisRequest struct {
	Query string `json:"query" validate:"required,max=2000"`
	JobID string `json:"job_id,omitempty" validate:"omitempty,jobid"`
	intake.Options
}

// submitAnalysis handles POST /analyses.
func (s *Server) submitAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrorKindInvalidInput, "failed to read request body")
		return
	}

	var req submitAnalysisRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrorKindInvalidInput, "invalid JSON request body")
		return
	}

	req.Query = strings.TrimSpace(req.Query)
	if err := s.validator.Struct(&req); err != nil {
		writeDomainError(w, err)
		return
	}

	jobID, err := s.jobs.SubmitWithID(ctx, req.JobID, req.Query, req.Options.JobOptions())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := submitAnalysisResponse{
		JobID:   jobID,
		Status:  string(domain.JobStatusPending),
		Message: "analysis submitted",
	}
	if job, getErr := s.jobs.Get(jobID); getErr == nil {
		resp.Status = string(job.Status)
		resp.CreatedAt = job.CreatedAt
	}

	w.Header().Set("Location", "/api/v1/analyses/"+jobID)
	writeJSON(w, http.StatusAccepted, resp)
}

// listAnalyses handles GET /analyses.
func (s *Server) listAnalyses(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaginationParams(r)
	status := r.URL.Query().Get("status")
	if status != "" {
		switch domain.JobStatus(status) {
		case domain.JobStatusPending, domain.JobStatusProcessing, domain.JobStatusCompleted, domain.JobStatusFailed:
		default:
			writeError(w, http.StatusBadRequest, domain.ErrorKindInvalidInput, "unsupported status filter")
			return
		}
	}

	all := s.jobs.List()
	filtered := make([]domain.Job, 0, len(all))
	for _, j := range all {
		if status == "" || string(j.Status) == status {
			filtered = append(filtered, j)
		}
	}

	total := len(filtered)
	start := min(offset, total)
	end := min(start+limit, total)

	items := make([]jobResponse, 0, end-start)
	for _, j := range filtered[start:end] {
		items = append(items, domainJobToResponse(j))
	}

	writeJSON(w, http.StatusOK, listAnalysesResponse{
		Analyses:      items,
		NextPageToken: encodeHTTPPageToken(offset, limit, total),
		TotalCount:    total,
	})
}

// getAnalyticsSummary handles GET /analytics/summary. Counts cover the jobs
// currently held by the registry.
func (s *Server) getAnalyticsSummary(w http.ResponseWriter, _ *http.Request) {
	resp := analyticsSummaryResponse{FailuresByKind: map[string]int{}}
	for _, j := range s.jobs.List() {
		resp.TotalAnalyses++
		switch j.Status {
		case domain.JobStatusPending:
			resp.Pending++
		case domain.JobStatusProcessing:
			resp.Processing++
		case domain.JobStatusCompleted:
			resp.Completed++
			if j.Result != nil {
				resp.DocumentsAnalyzed += j.Result.Documents
			}
		case domain.JobStatusFailed:
			resp.Failed++
			kind := domain.ErrorKind(j.Err)
			if kind == "" {
				kind = domain.ErrorKindInternal
			}
			resp.FailuresByKind[kind]++
		}
	}
	if resp.TotalAnalyses > 0 {
		rate := float64(resp.Completed) / float64(resp.TotalAnalyses) * 100
		resp.SuccessRatePercent = math.Round(rate*10) / 10
	}
	writeJSON(w, http.StatusOK, resp)
}

// getAnalysis handles GET /analyses/{jobID}.
func (s *Server) getAnalysis(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domainJobToResponse(job))
}

// cancelAnalysis handles POST /analyses/{jobID}/cancel. Cancellation is
// cooperative; the job reaches failed/cancelled asynchronously.
func (s *Server) cancelAnalysis(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := s.jobs.Get(jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if job.IsTerminal() {
		writeJSON(w, http.StatusOK, cancelAnalysisResponse{
			Success:     false,
			Message:     "analysis already finished",
			FinalStatus: string(job.Status),
		})
		return
	}

	if err := s.jobs.Cancel(jobID); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, cancelAnalysisResponse{
		Success:     true,
		Message:     "cancellation requested",
		FinalStatus: string(job.Status),
	})
}

// deleteAnalysis handles DELETE /analyses/{jobID}.
func (s *Server) deleteAnalysis(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Delete(chi.URLParam(r, "jobID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getAnalysisResult handles GET /analyses/{jobID}/result.
func (s *Server) getAnalysisResult(w http.ResponseWriter, r *http.Request) {
	ref, err := s.jobs.Result(chi.URLParam(r, "jobID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

// getAnalysisReport handles GET /analyses/{jobID}/report.
func (s *Server) getAnalysisReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.jobs.Report(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// listReports handles GET /reports.
func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaginationParams(r)
	filter := repository.ReportFilter{
		Query:  r.URL.Query().Get("query"),
		DOI:    r.URL.Query().Get("doi"),
		Limit:  limit,
		Offset: offset,
	}

	reports, total, err := s.reports.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if reports == nil {
		reports = []domain.ReportInfo{}
	}

	writeJSON(w, http.StatusOK, listReportsResponse{
		Reports:       reports,
		NextPageToken: encodeHTTPPageToken(offset, limit, int(total)),
		TotalCount:    int(total),
	})
}

// getReport handles GET /reports/{reportID}.
func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.reports.Get(r.Context(), chi.URLParam(r, "reportID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// writeDomainError maps domain errors to appropriate HTTP status codes and
// writes a JSON error response. Internal error details are not leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	// A failed job wraps its own cause, which may carry any other sentinel.
	switch {
	case errors.Is(err, domain.ErrJobFailed):
		writeError(w, http.StatusConflict, domain.ErrorKindJobFailed, "job failed")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, domain.ErrorKindNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, domain.ErrorKindInvalidInput, ve.Field+" "+ve.Message)
		} else {
			writeError(w, http.StatusBadRequest, domain.ErrorKindInvalidInput, "invalid input")
		}
	case errors.Is(err, domain.ErrDuplicateJob):
		writeError(w, http.StatusConflict, domain.ErrorKindDuplicateJob, "job id already in use")
	case errors.Is(err, domain.ErrNotReady):
		writeError(w, http.StatusConflict, domain.ErrorKindNotReady, "result not ready")
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already_exists", "resource already exists")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limited")
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "unavailable", "service unavailable")
	case errors.Is(err, domain.ErrCancelled):
		writeError(w, http.StatusConflict, domain.ErrorKindCancelled, "operation cancelled")
	default:
		writeError(w, http.StatusInternalServerError, domain.ErrorKindInternal, "internal server error")
	}
}

// parsePaginationParams extracts page_size and page_token from query parameters.
// It applies default and maximum bounds to the page size.
func parsePaginationParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if pageSizeStr := r.URL.Query().Get("page_size"); pageSizeStr != "" {
		if parsed, err := strconv.Atoi(pageSizeStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if pageToken := r.URL.Query().Get("page_token"); pageToken != "" {
		decoded, err := base64.StdEncoding.DecodeString(pageToken)
		if err == nil {
			if parsed, parseErr := strconv.Atoi(string(decoded)); parseErr == nil && parsed > 0 {
				offset = parsed
			}
		}
	}

	return limit, offset
}

// encodeHTTPPageToken encodes the next offset as a base64 page token.
// Returns an empty string if there are no more results.
func encodeHTTPPageToken(offset, limit, totalCount int) string {
	nextOffset := offset + limit
	if nextOffset < totalCount {
		return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(nextOffset)))
	}
	return ""
}
