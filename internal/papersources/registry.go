package papersources

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/helixir/research-analysis-service/internal/domain"
)

// SourceResult holds the outcome of one source's search.
type SourceResult struct {
	// Source identifies the searched source.
	Source domain.SourceType

	// Result is nil when Error is set.
	Result *SearchResult

	// Error is the search failure, if any.
	Error error

	// Duration is the wall time spent on the search.
	Duration time.Duration
}

// Registry holds the configured sources and fans searches out across them.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[domain.SourceType]PaperSource
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[domain.SourceType]PaperSource),
	}
}

// Register adds or replaces a source.
func (r *Registry) Register(source PaperSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[source.SourceType()] = source
}

// Get returns the source of the given type, or nil.
func (r *Registry) Get(sourceType domain.SourceType) PaperSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources[sourceType]
}

// EnabledSources returns the enabled sources ordered by type.
func (r *Registry) EnabledSources() []PaperSource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]PaperSource, 0, len(r.sources))
	for _, s := range r.sources {
		if s.IsEnabled() {
			sources = append(sources, s)
		}
	}
	sort.Slice(sources, func(i, j int) bool {
		return sources[i].SourceType() < sources[j].SourceType()
	})
	return sources
}

// Names returns the type names of the enabled sources.
func (r *Registry) Names() []string {
	sources := r.EnabledSources()
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = string(s.SourceType())
	}
	return names
}

// SearchSources searches the named sources concurrently, or every enabled
// source when sourceTypes is empty. Results are returned in the order the
// sources were selected; a requested source that is not registered or not
// enabled yields an error result. onResult, if non-nil, is called once per
// source as soon as its search finishes; calls are serialized.
func (r *Registry) SearchSources(ctx context.Context, params SearchParams, sourceTypes []domain.SourceType, onResult func(SourceResult)) []SourceResult {
	var (
		sources []PaperSource
		results []SourceResult
	)
	if len(sourceTypes) == 0 {
		sources = r.EnabledSources()
		results = make([]SourceResult, len(sources))
	} else {
		results = make([]SourceResult, len(sourceTypes))
		sources = make([]PaperSource, len(sourceTypes))
		for i, st := range sourceTypes {
			s := r.Get(st)
			if s == nil || !s.IsEnabled() {
				results[i] = SourceResult{Source: st, Error: fmt.Errorf("source %q is not available", st)}
				continue
			}
			sources[i] = s
		}
	}

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	notify := func(res SourceResult) {
		if onResult == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		onResult(res)
	}

	for i, s := range sources {
		if s == nil {
			notify(results[i])
			continue
		}
		g.Go(func() error {
			start := time.Now()
			result, err := s.Search(ctx, params)
			res := SourceResult{
				Source:   s.SourceType(),
				Result:   result,
				Error:    err,
				Duration: time.Since(start),
			}
			if err != nil {
				res.Result = nil
			}
			results[i] = res
			notify(res)
			// Source failures are reported per result, never through the group.
			return nil
		})
	}
	_ = g.Wait()
	return results
}
