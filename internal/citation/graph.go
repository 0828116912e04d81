// Package citation builds the directed citation network of a document set
// and derives rankings and statistics from it.
package citation

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/helixir/research-analysis-service/internal/domain"
)

// DefaultTopN is the ranking length stored in network snapshots.
const DefaultTopN = 10

// Evidence is one observed citation from a citing document to a cited one.
// Either side may be a document ID or a DOI.
type Evidence struct {
	From   string
	To     string
	Weight float64
}

// Graph is an immutable in-set citation graph. Rankings and statistics are
// computed on read.
type Graph struct {
	nodes []domain.Document
	index map[string]int

	// out[i] maps cited node index to accumulated weight.
	out []map[int]float64
	in  []map[int]float64
}

// Build creates a graph over docs. Evidence whose ends do not both resolve
// to documents in the set is dropped, as are self-citations. Repeated edges
// accumulate weight.
func Build(docs []domain.Document, evidence []Evidence) *Graph {
	g := &Graph{
		nodes: append([]domain.Document(nil), docs...),
		index: make(map[string]int, len(docs)*2),
		out:   make([]map[int]float64, len(docs)),
		in:    make([]map[int]float64, len(docs)),
	}
	for i, d := range g.nodes {
		g.index[d.ID] = i
		if doi := domain.NormalizeDOI(d.DOI); doi != "" {
			if _, taken := g.index[doi]; !taken {
				g.index[doi] = i
			}
		}
		g.out[i] = make(map[int]float64)
		g.in[i] = make(map[int]float64)
	}

	for _, ev := range evidence {
		from, ok := g.resolve(ev.From)
		if !ok {
			continue
		}
		to, ok := g.resolve(ev.To)
		if !ok || from == to {
			continue
		}
		w := ev.Weight
		if w <= 0 {
			w = 1
		}
		g.out[from][to] += w
		g.in[to][from] += w
	}
	return g
}

func (g *Graph) resolve(key string) (int, bool) {
	if i, ok := g.index[key]; ok {
		return i, true
	}
	i, ok := g.index[domain.NormalizeDOI(key)]
	return i, ok
}

// EvidenceFromReferences derives citation evidence from each document's
// reference list.
func EvidenceFromReferences(docs []domain.Document) []Evidence {
	var ev []Evidence
	for _, d := range docs {
		for _, ref := range d.References {
			ev = append(ev, Evidence{From: d.ID, To: ref, Weight: 1})
		}
	}
	return ev
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Edges returns all edges ordered by source then target node position.
func (g *Graph) Edges() []domain.CitationEdge {
	var edges []domain.CitationEdge
	for from := range g.nodes {
		targets := make([]int, 0, len(g.out[from]))
		for to := range g.out[from] {
			targets = append(targets, to)
		}
		sort.Ints(targets)
		for _, to := range targets {
			edges = append(edges, domain.CitationEdge{
				From:   g.nodes[from].ID,
				To:     g.nodes[to].ID,
				Weight: g.out[from][to],
			})
		}
	}
	return edges
}

// InDegree returns the number of in-set documents citing id.
func (g *Graph) InDegree(id string) int {
	i, ok := g.index[id]
	if !ok {
		return 0
	}
	return len(g.in[i])
}

// MostCited ranks documents by their external citation count.
func (g *Graph) MostCited(n int) []domain.RankedDocument {
	return g.rank(n, func(i int) int { return g.nodes[i].CitationCount })
}

// MostInfluential ranks documents by in-set in-degree.
func (g *Graph) MostInfluential(n int) []domain.RankedDocument {
	return g.rank(n, func(i int) int { return len(g.in[i]) })
}

// rank orders nodes by key descending, then year descending, then ID
// ascending, so the order is total.
func (g *Graph) rank(n int, key func(int) int) []domain.RankedDocument {
	idx := make([]int, len(g.nodes))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		ka, kb := key(idx[a]), key(idx[b])
		if ka != kb {
			return ka > kb
		}
		da, db := g.nodes[idx[a]], g.nodes[idx[b]]
		if da.Year != db.Year {
			return da.Year > db.Year
		}
		return da.ID < db.ID
	})
	if n >= 0 && n < len(idx) {
		idx = idx[:n]
	}

	out := make([]domain.RankedDocument, 0, len(idx))
	for _, i := range idx {
		d := g.nodes[i]
		out = append(out, domain.RankedDocument{
			DocumentID:    d.ID,
			Title:         d.Title,
			Year:          d.Year,
			CitationCount: d.CitationCount,
			InDegree:      len(g.in[i]),
		})
	}
	return out
}

// Stats summarizes the graph.
func (g *Graph) Stats() domain.CitationStats {
	s := domain.CitationStats{Nodes: len(g.nodes)}
	for i := range g.nodes {
		s.Edges += len(g.out[i])
		if len(g.out[i]) == 0 && len(g.in[i]) == 0 {
			s.Isolated++
		}
	}
	if s.Nodes > 1 {
		s.Density = float64(s.Edges) / float64(s.Nodes*(s.Nodes-1))
	}
	if s.Nodes > 0 {
		s.AverageInDegree = float64(s.Edges) / float64(s.Nodes)
	}
	return s
}

// CitingPapers returns the IDs of in-set documents that cite id.
func (g *Graph) CitingPapers(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.ids(g.in[i])
}

// CitedBy returns the IDs of in-set documents that id cites.
func (g *Graph) CitedBy(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.ids(g.out[i])
}

// CitationChain walks references breadth-first from id up to depth hops and
// returns the reached documents grouped by hop. The start document is not
// included.
func (g *Graph) CitationChain(id string, depth int) [][]string {
	start, ok := g.index[id]
	if !ok || depth <= 0 {
		return nil
	}

	visited := map[int]bool{start: true}
	frontier := []int{start}
	var levels [][]string
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []int
		for _, n := range frontier {
			targets := make([]int, 0, len(g.out[n]))
			for t := range g.out[n] {
				targets = append(targets, t)
			}
			sort.Ints(targets)
			for _, t := range targets {
				if !visited[t] {
					visited[t] = true
					next = append(next, t)
				}
			}
		}
		if len(next) == 0 {
			break
		}
		sort.Ints(next)
		level := make([]string, len(next))
		for k, t := range next {
			level[k] = g.nodes[t].ID
		}
		levels = append(levels, level)
		frontier = next
	}
	return levels
}

// CommonCitations returns the documents cited by both a and b.
func (g *Graph) CommonCitations(a, b string) []string {
	ia, okA := g.index[a]
	ib, okB := g.index[b]
	if !okA || !okB {
		return nil
	}
	shared := make(map[int]float64)
	for t := range g.out[ia] {
		if _, ok := g.out[ib][t]; ok {
			shared[t] = 1
		}
	}
	return g.ids(shared)
}

func (g *Graph) ids(set map[int]float64) []string {
	idx := make([]int, 0, len(set))
	for i := range set {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]string, len(idx))
	for k, i := range idx {
		out[k] = g.nodes[i].ID
	}
	return out
}

// Snapshot serialises the graph with rankings of length n.
func (g *Graph) Snapshot(n int) domain.CitationNetwork {
	nodes := make([]string, len(g.nodes))
	for i, d := range g.nodes {
		nodes[i] = d.ID
	}
	return domain.CitationNetwork{
		Nodes:           nodes,
		Edges:           g.Edges(),
		MostCited:       g.MostCited(n),
		MostInfluential: g.MostInfluential(n),
		Stats:           g.Stats(),
	}
}

// Builder is the citation-network pipeline stage.
type Builder struct {
	topN   int
	logger zerolog.Logger
}

// NewBuilder creates a Builder whose snapshots keep topN ranked entries.
func NewBuilder(topN int, logger zerolog.Logger) *Builder {
	if topN <= 0 {
		topN = DefaultTopN
	}
	return &Builder{topN: topN, logger: logger.With().Str("component", "citation").Logger()}
}

// BuildNetwork builds the citation graph of docs from their references.
func (b *Builder) BuildNetwork(ctx context.Context, docs []domain.Document, report domain.ProgressFunc) (domain.CitationNetwork, error) {
	if report == nil {
		report = domain.NopProgress
	}
	if err := ctx.Err(); err != nil {
		return domain.CitationNetwork{}, context.Cause(ctx)
	}

	evidence := EvidenceFromReferences(docs)
	if err := report(domain.StageProgress{
		Fraction: 0.5,
		Current:  len(evidence),
		Total:    len(evidence),
		Message:  fmt.Sprintf("Collected %d references from %d documents", len(evidence), len(docs)),
	}); err != nil {
		return domain.CitationNetwork{}, err
	}

	g := Build(docs, evidence)
	snap := g.Snapshot(b.topN)
	b.logger.Debug().
		Int("nodes", snap.Stats.Nodes).
		Int("edges", snap.Stats.Edges).
		Int("references", len(evidence)).
		Msg("citation network built")

	if err := report(domain.StageProgress{Fraction: 1, Message: "Ranked documents"}); err != nil {
		return domain.CitationNetwork{}, err
	}
	return snap, nil
}
