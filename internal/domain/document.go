package domain

import (
	"strings"
)

// Author represents a document author with optional affiliation.
type Author struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
}

// String returns a formatted string representation of the author.
func (a Author) String() string {
	if a.Affiliation == "" {
		return a.Name
	}
	return a.Name + " (" + a.Affiliation + ")"
}

// Document is a retrieved research document. Documents are never mutated
// once created; stages that annotate them work on copies.
type Document struct {
	// ID is the source-qualified identifier, "<source>:<local id>".
	ID            string     `json:"id"`
	Source        SourceType `json:"source"`
	SourceID      string     `json:"source_id"`
	Title         string     `json:"title"`
	Abstract      string     `json:"abstract,omitempty"`
	Authors       []Author   `json:"authors,omitempty"`
	Year          int        `json:"year,omitempty"`
	CitationCount int        `json:"citation_count"`
	DOI           string     `json:"doi,omitempty"`
	URL           string     `json:"url,omitempty"`
	PDFURL        string     `json:"pdf_url,omitempty"`
	Venue         string     `json:"venue,omitempty"`

	// References are the DOIs or source-qualified IDs this document cites.
	References []string `json:"references,omitempty"`

	// Relevance is the query relevance score assigned during retrieval.
	Relevance float64 `json:"relevance"`
}

// DocumentID builds a source-qualified document identifier.
func DocumentID(source SourceType, localID string) string {
	return string(source) + ":" + strings.TrimSpace(localID)
}

// NormalizeDOI lowercases a DOI and strips resolver prefixes.
// Returns empty string for blank input.
func NormalizeDOI(doi string) string {
	d := strings.ToLower(strings.TrimSpace(doi))
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi:"} {
		d = strings.TrimPrefix(d, prefix)
	}
	return d
}

// HasDOI returns true if the document carries a DOI.
func (d Document) HasDOI() bool {
	return strings.TrimSpace(d.DOI) != ""
}

// EmbeddingText returns the text used for similarity comparisons.
func (d Document) EmbeddingText() string {
	return d.Title + "\n" + d.Abstract
}

// WithRelevance returns a copy of the document annotated with score.
func (d Document) WithRelevance(score float64) Document {
	out := d
	out.Authors = append([]Author(nil), d.Authors...)
	out.References = append([]string(nil), d.References...)
	out.Relevance = score
	return out
}

// AuthorNames returns the author names in order.
func (d Document) AuthorNames() []string {
	names := make([]string, 0, len(d.Authors))
	for _, a := range d.Authors {
		names = append(names, a.Name)
	}
	return names
}
