package httpserver

import (
	"time"

	"github.com/helixir/research-analysis-service/internal/domain"
	"github.com/helixir/research-analysis-service/internal/intake"
)

// Response types for JSON serialization.

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type submitAnalysisResponse struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	Message   string    `json:"message"`
}

type jobErrorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type jobResponse struct {
	JobID       string            `json:"job_id"`
	Query       string            `json:"query"`
	Status      string            `json:"status"`
	Progress    int               `json:"progress"`
	Stage       string            `json:"stage,omitempty"`
	Message     string            `json:"message,omitempty"`
	Options     intake.Options    `json:"options"`
	Result      *domain.ResultRef `json:"result,omitempty"`
	Error       *jobErrorResponse `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Duration    string            `json:"duration,omitempty"`
}

type listAnalysesResponse struct {
	Analyses      []jobResponse `json:"analyses"`
	NextPageToken string        `json:"next_page_token,omitempty"`
	TotalCount    int           `json:"total_count"`
}

type cancelAnalysisResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	FinalStatus string `json:"final_status"`
}

type analyticsSummaryResponse struct {
	TotalAnalyses      int            `json:"total_analyses"`
	Pending            int            `json:"pending"`
	Processing         int            `json:"processing"`
	Completed          int            `json:"completed"`
	Failed             int            `json:"failed"`
	FailuresByKind     map[string]int `json:"failures_by_kind"`
	DocumentsAnalyzed  int            `json:"documents_analyzed"`
	SuccessRatePercent float64        `json:"success_rate_percent"`
}

type listReportsResponse struct {
	Reports       []domain.ReportInfo `json:"reports"`
	NextPageToken string              `json:"next_page_token,omitempty"`
	TotalCount    int                 `json:"total_count"`
}

// Converter functions

func domainJobToResponse(j domain.Job) jobResponse {
	resp := jobResponse{
		JobID:       j.ID,
		Query:       j.Query,
		Status:      string(j.Status),
		Progress:    j.Progress,
		Stage:       string(j.Stage),
		Message:     j.Message,
		Options:     intake.FromJobOptions(j.Options),
		Result:      j.Result,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		CompletedAt: j.CompletedAt,
	}
	if j.Err != nil {
		resp.Error = &jobErrorResponse{
			Kind:    domain.ErrorKind(j.Err),
			Message: j.Err.Error(),
		}
	}
	if j.CompletedAt != nil {
		resp.Duration = j.Duration().String()
	}
	return resp
}
