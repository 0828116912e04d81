package analysis

import (
	"context"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/helixir/research-analysis-service/internal/domain"
	"github.com/helixir/research-analysis-service/internal/llm"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.Response), args.Error(1)
}

func (m *mockClient) Provider() string { return "mock" }
func (m *mockClient) Model() string    { return "mock-model" }

// progressRecorder collects progress callbacks.
type progressRecorder struct {
	mu     sync.Mutex
	events []domain.StageProgress
	failAt int
	err    error
}

func (r *progressRecorder) report(p domain.StageProgress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, p)
	if r.err != nil && len(r.events) >= r.failAt {
		return r.err
	}
	return nil
}

func (r *progressRecorder) snapshot() []domain.StageProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.StageProgress(nil), r.events...)
}

func promptMentions(s string) any {
	return mock.MatchedBy(func(req llm.Request) bool {
		return containsFold(req.Prompt, s)
	})
}

func systemIs(s string) any {
	return mock.MatchedBy(func(req llm.Request) bool {
		return req.System == s
	})
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
