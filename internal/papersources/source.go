// Package papersources defines the document source abstraction and the
// shared HTTP plumbing used by every source client.
//
// Each bibliographic database (arXiv, Semantic Scholar, OpenAlex, the arXiv
// listing pages) implements PaperSource and returns domain.Document values
// with source-qualified IDs:
//
//	source := semanticscholar.NewClient(cfg, nil)
//	result, err := source.Search(ctx, papersources.SearchParams{
//		Query:      "graph neural networks",
//		MaxResults: 50,
//	})
package papersources

import (
	"context"
	"time"

	"github.com/helixir/research-analysis-service/internal/domain"
)

// SearchParams defines a search against one source.
type SearchParams struct {
	// Query is the free-text topic query (required).
	Query string

	// MaxResults limits the number of documents returned. Zero uses the
	// source default; sources may cap it lower.
	MaxResults int

	// Offset is the pagination start position.
	Offset int

	// YearFrom and YearTo bound the publication year when non-zero.
	YearFrom int
	YearTo   int
}

// SearchResult is one source's answer to a search.
type SearchResult struct {
	// Documents holds the converted documents. It may be empty.
	Documents []domain.Document

	// TotalResults is the source-reported match count, possibly an estimate.
	TotalResults int

	// HasMore indicates that further pages exist.
	HasMore bool

	// Source identifies the producing source.
	Source domain.SourceType

	// SearchDuration covers network latency and parsing.
	SearchDuration time.Duration
}

// PaperSource is implemented by every document source client.
type PaperSource interface {
	// Search returns documents matching params. Implementations must honour
	// ctx cancellation and wrap failures with source context.
	Search(ctx context.Context, params SearchParams) (*SearchResult, error)

	// SourceType returns the identifier used in document IDs and selection.
	SourceType() domain.SourceType

	// Name returns a display name.
	Name() string

	// IsEnabled reports whether the source takes part in searches.
	IsEnabled() bool
}

// InYearRange reports whether year satisfies the bounds of params. Unknown
// years pass.
func (p SearchParams) InYearRange(year int) bool {
	if year <= 0 {
		return true
	}
	if p.YearFrom > 0 && year < p.YearFrom {
		return false
	}
	if p.YearTo > 0 && year > p.YearTo {
		return false
	}
	return true
}
