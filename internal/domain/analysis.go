package domain

import (
	"time"
)

// SourceOutcome records how a single source fared during retrieval.
type SourceOutcome struct {
	Source    string        `json:"source"`
	Documents int           `json:"documents"`
	Duration  time.Duration `json:"duration"`
	Err       error         `json:"-"`
}

// RetrievalResult is the output of the retrieve stage.
type RetrievalResult struct {
	Documents []Document
	Sources   []SourceOutcome
}

// FailedSources returns the names of sources that returned an error.
func (r RetrievalResult) FailedSources() []string {
	var failed []string
	for _, s := range r.Sources {
		if s.Err != nil {
			failed = append(failed, s.Source)
		}
	}
	return failed
}

// DedupCluster is a set of documents judged equivalent, collapsed to one
// representative.
type DedupCluster struct {
	Members        []string `json:"members"`
	Representative string   `json:"representative"`
	MaxSimilarity  float64  `json:"max_similarity"`
}

// Size returns the number of documents in the cluster.
func (c DedupCluster) Size() int {
	return len(c.Members)
}

// DedupResult is the output of the deduplicate stage.
type DedupResult struct {
	Representatives []Document
	Clusters        []DedupCluster
}

// Removed returns the number of documents collapsed away.
func (r DedupResult) Removed() int {
	total := 0
	for _, c := range r.Clusters {
		total += c.Size()
	}
	return total - len(r.Representatives)
}

// Summary is the structured summary of a single document.
type Summary struct {
	DocumentID     string   `json:"document_id"`
	Title          string   `json:"title"`
	Year           int      `json:"year,omitempty"`
	KeyFindings    []string `json:"key_findings"`
	Methodology    string   `json:"methodology"`
	Results        string   `json:"results"`
	Limitations    []string `json:"limitations,omitempty"`
	FutureWork     []string `json:"future_work,omitempty"`
	RelevanceScore float64  `json:"relevance_score"`
	Extractive     bool     `json:"extractive,omitempty"`
	TokensUsed     int      `json:"tokens_used,omitempty"`
}

// Keyword is a weighted topic term.
type Keyword struct {
	Term  string  `json:"term"`
	Score float64 `json:"score"`
}

// Entity is a knowledge graph node.
type Entity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Relation is a directed knowledge graph edge.
type Relation struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// KnowledgeGraph holds entities and relations extracted from summaries.
type KnowledgeGraph struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

// Synthesis is the cross-document synthesis of all summaries.
type Synthesis struct {
	Narrative        string          `json:"narrative"`
	Themes           []string        `json:"themes,omitempty"`
	Trends           []string        `json:"trends,omitempty"`
	Contradictions   []string        `json:"contradictions,omitempty"`
	ResearchGaps     []string        `json:"research_gaps,omitempty"`
	Keywords         []Keyword       `json:"keywords,omitempty"`
	YearDistribution map[int]int     `json:"year_distribution,omitempty"`
	AverageRelevance float64         `json:"average_relevance"`
	KnowledgeGraph   *KnowledgeGraph `json:"knowledge_graph,omitempty"`
	TokensUsed       int             `json:"tokens_used,omitempty"`
}

// CitationEdge is a directed citation from one document to another.
type CitationEdge struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Weight float64 `json:"weight"`
}

// RankedDocument is one entry of a citation ranking.
type RankedDocument struct {
	DocumentID    string `json:"document_id"`
	Title         string `json:"title"`
	Year          int    `json:"year,omitempty"`
	CitationCount int    `json:"citation_count"`
	InDegree      int    `json:"in_degree"`
}

// CitationStats summarizes a citation graph.
type CitationStats struct {
	Nodes           int     `json:"nodes"`
	Edges           int     `json:"edges"`
	Density         float64 `json:"density"`
	AverageInDegree float64 `json:"average_in_degree"`
	Isolated        int     `json:"isolated"`
}

// CitationNetwork is the serialisable view of a citation graph.
type CitationNetwork struct {
	Nodes           []string         `json:"nodes"`
	Edges           []CitationEdge   `json:"edges"`
	MostCited       []RankedDocument `json:"most_cited"`
	MostInfluential []RankedDocument `json:"most_influential"`
	Stats           CitationStats    `json:"stats"`
}

// Report is the final artifact of a completed job.
type Report struct {
	ID             string          `json:"id"`
	JobID          string          `json:"job_id"`
	Query          string          `json:"query"`
	Documents      []Document      `json:"documents"`
	Clusters       []DedupCluster  `json:"clusters"`
	Summaries      []Summary       `json:"summaries"`
	Synthesis      Synthesis       `json:"synthesis"`
	Citations      CitationNetwork `json:"citations"`
	SourceFailures []string        `json:"source_failures,omitempty"`
	TokensUsed     int             `json:"tokens_used"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ReportInfo is the listing view of a stored report.
type ReportInfo struct {
	ID             string    `json:"id"`
	JobID          string    `json:"job_id"`
	Query          string    `json:"query"`
	DocumentCount  int       `json:"document_count"`
	TokensUsed     int       `json:"tokens_used"`
	SourceFailures []string  `json:"source_failures,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Info returns the listing view of the report.
func (r *Report) Info() ReportInfo {
	return ReportInfo{
		ID:             r.ID,
		JobID:          r.JobID,
		Query:          r.Query,
		DocumentCount:  len(r.Documents),
		TokensUsed:     r.TokensUsed,
		SourceFailures: r.SourceFailures,
		CreatedAt:      r.CreatedAt,
	}
}
