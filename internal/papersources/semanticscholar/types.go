// Package semanticscholar provides a document source over the Semantic
// Scholar Graph API.
//
// Search results are enriched with each paper's outgoing references through
// the batch endpoint so the citation stage has edges to work with.
//
// API Documentation: https://api.semanticscholar.org/api-docs/
package semanticscholar

// SearchResponse is the paper search response.
type SearchResponse struct {
	Total int `json:"total"`

	Offset int `json:"offset"`

	// Next is the offset of the next page; zero when there are no more results.
	Next int `json:"next"`

	Data []PaperResult `json:"data"`
}

// PaperResult is a single paper.
type PaperResult struct {
	PaperID       string         `json:"paperId"`
	Title         string         `json:"title"`
	Abstract      string         `json:"abstract"`
	Year          int            `json:"year"`
	Venue         string         `json:"venue"`
	Journal       *Journal       `json:"journal,omitempty"`
	Authors       []Author       `json:"authors"`
	CitationCount int            `json:"citationCount"`
	URL           string         `json:"url"`
	OpenAccessPDF *OpenAccessPDF `json:"openAccessPdf,omitempty"`
	ExternalIDs   *ExternalIDs   `json:"externalIds,omitempty"`
}

// ExternalIDs holds identifiers from other registries.
type ExternalIDs struct {
	DOI   string `json:"DOI,omitempty"`
	ArXiv string `json:"ArXiv,omitempty"`
}

// Journal is journal-level publication info.
type Journal struct {
	Name string `json:"name,omitempty"`
}

// Author is a paper author.
type Author struct {
	AuthorID string `json:"authorId,omitempty"`
	Name     string `json:"name"`
}

// OpenAccessPDF points at a freely available PDF.
type OpenAccessPDF struct {
	URL string `json:"url,omitempty"`
}

// ReferenceBatchItem is one element of the batch endpoint response. Unknown
// IDs come back as JSON null.
type ReferenceBatchItem struct {
	PaperID    string      `json:"paperId"`
	References []Reference `json:"references"`
}

// Reference is a cited paper. PaperID is empty for references Semantic
// Scholar could not resolve.
type Reference struct {
	PaperID     string       `json:"paperId"`
	ExternalIDs *ExternalIDs `json:"externalIds,omitempty"`
}

// batchRequest is the body of POST /paper/batch.
type batchRequest struct {
	IDs []string `json:"ids"`
}
