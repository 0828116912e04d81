// Package dedup collapses near-duplicate documents using embedding cosine
// similarity and union-find clustering.
//
// Pairs are scored (1+cos)/2 and linked when the score is strictly above the
// threshold. At threshold 0 every pair links except exactly antipodal
// embeddings, whose score is 0; they still share a cluster when a third
// document links to both.
package dedup

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/helixir/research-analysis-service/internal/domain"
)

// DefaultThreshold is the similarity above which two documents are linked.
const DefaultThreshold = 0.92

// DefaultBatchSize is the number of texts sent to the embedder per call.
const DefaultBatchSize = 32

// Embedder turns texts into vectors. The returned slice has one vector per
// input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config holds engine settings.
type Config struct {
	// BatchSize is the number of documents embedded per embedder call.
	BatchSize int
}

// Engine deduplicates document sets.
type Engine struct {
	embedder Embedder
	cfg      Config
	logger   zerolog.Logger
}

// NewEngine creates an Engine backed by embedder.
func NewEngine(embedder Embedder, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Engine{
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.With().Str("component", "dedup").Logger(),
	}
}

// Deduplicate embeds every document, links pairs whose similarity score
// (1+cos)/2 exceeds threshold, and returns one representative per
// transitive cluster. Embedding accounts for the first half of the reported
// progress and pairwise comparison for the second.
func (e *Engine) Deduplicate(ctx context.Context, docs []domain.Document, threshold float64, report domain.ProgressFunc) (*domain.DedupResult, error) {
	if threshold < 0 || threshold > 1 || math.IsNaN(threshold) {
		return nil, domain.NewValidationError("dedup_threshold", "must be between 0 and 1")
	}
	if report == nil {
		report = domain.NopProgress
	}
	if len(docs) == 0 {
		return &domain.DedupResult{}, nil
	}

	vectors, err := e.embedAll(ctx, docs, report)
	if err != nil {
		return nil, err
	}

	n := len(docs)
	uf := newUnionFind(n)
	var links []link
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, context.Cause(ctx)
		}
		for j := i + 1; j < n; j++ {
			s := Score(vectors[i], vectors[j])
			if s > threshold {
				uf.union(i, j)
				links = append(links, link{a: i, b: j, score: s})
			}
		}
		if err := report(domain.StageProgress{
			Fraction: 0.5 + 0.5*float64(i+1)/float64(n),
			Current:  i + 1,
			Total:    n,
			Message:  fmt.Sprintf("Compared %d/%d documents", i+1, n),
		}); err != nil {
			return nil, err
		}
	}

	result := buildClusters(docs, uf, links)
	e.logger.Debug().
		Int("documents", n).
		Int("clusters", len(result.Clusters)).
		Int("removed", result.Removed()).
		Float64("threshold", threshold).
		Msg("deduplication finished")
	return result, nil
}

func (e *Engine) embedAll(ctx context.Context, docs []domain.Document, report domain.ProgressFunc) ([][]float32, error) {
	n := len(docs)
	vectors := make([][]float32, 0, n)
	for start := 0; start < n; start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, n)
		texts := make([]string, 0, end-start)
		for _, d := range docs[start:end] {
			texts = append(texts, d.EmbeddingText())
		}

		batch, err := e.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embedding documents %d-%d: %w", start, end-1, err)
		}
		if len(batch) != len(texts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(batch), len(texts))
		}
		vectors = append(vectors, batch...)

		if err := report(domain.StageProgress{
			Fraction: 0.5 * float64(end) / float64(n),
			Current:  end,
			Total:    n,
			Message:  fmt.Sprintf("Embedded %d/%d documents", end, n),
		}); err != nil {
			return nil, err
		}
	}
	return vectors, nil
}

// Score maps the cosine similarity of a and b into [0, 1]. A zero or
// mismatched vector counts as cosine 0.
func Score(a, b []float32) float64 {
	return (1 + cosine(a, b)) / 2
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	c := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(-1, math.Min(1, c))
}

type link struct {
	a, b  int
	score float64
}

// buildClusters groups documents by union-find root. Clusters are ordered by
// the input position of their first member.
func buildClusters(docs []domain.Document, uf *unionFind, links []link) *domain.DedupResult {
	maxSim := make(map[int]float64)
	for _, l := range links {
		root := uf.find(l.a)
		if l.score > maxSim[root] {
			maxSim[root] = l.score
		}
	}

	order := make(map[int]int)
	var groups [][]int
	for i := range docs {
		root := uf.find(i)
		idx, ok := order[root]
		if !ok {
			idx = len(groups)
			order[root] = idx
			groups = append(groups, nil)
		}
		groups[idx] = append(groups[idx], i)
	}

	result := &domain.DedupResult{
		Representatives: make([]domain.Document, 0, len(groups)),
		Clusters:        make([]domain.DedupCluster, 0, len(groups)),
	}
	for _, members := range groups {
		best := members[0]
		ids := make([]string, 0, len(members))
		for _, m := range members {
			ids = append(ids, docs[m].ID)
			if preferred(docs[m], docs[best]) {
				best = m
			}
		}
		result.Representatives = append(result.Representatives, docs[best])
		result.Clusters = append(result.Clusters, domain.DedupCluster{
			Members:        ids,
			Representative: docs[best].ID,
			MaxSimilarity:  maxSim[uf.find(members[0])],
		})
	}
	return result
}

// preferred reports whether a ranks before b as a cluster representative:
// DOI first, then more citations, then earlier known year, then smaller ID.
func preferred(a, b domain.Document) bool {
	if a.HasDOI() != b.HasDOI() {
		return a.HasDOI()
	}
	if a.CitationCount != b.CitationCount {
		return a.CitationCount > b.CitationCount
	}
	if ay, by := yearKey(a.Year), yearKey(b.Year); ay != by {
		return ay < by
	}
	return a.ID < b.ID
}

// yearKey sorts unknown years after every known year.
func yearKey(year int) int {
	if year <= 0 {
		return math.MaxInt
	}
	return year
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
}
