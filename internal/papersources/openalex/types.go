// Package openalex provides a document source over the OpenAlex works API.
//
// OpenAlex exposes referenced_works on every work, which the citation stage
// uses as outgoing edges.
//
// API Documentation: https://docs.openalex.org/
package openalex

// SearchResponse is the works search response.
type SearchResponse struct {
	Meta    Meta   `json:"meta"`
	Results []Work `json:"results"`
}

// Meta carries pagination info.
type Meta struct {
	Count   int `json:"count"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// Work is an OpenAlex work.
type Work struct {
	ID              string       `json:"id"`
	DOI             string       `json:"doi"`
	Title           string       `json:"title"`
	DisplayName     string       `json:"display_name"`
	PublicationYear int          `json:"publication_year"`
	CitedByCount    int          `json:"cited_by_count"`
	OpenAccess      *OpenAccess  `json:"open_access"`
	Authorships     []Authorship `json:"authorships"`
	PrimaryLocation *Location    `json:"primary_location"`
	ReferencedWorks []string     `json:"referenced_works"`

	// AbstractInvertedIndex maps each word to its positions in the abstract.
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
}

// OpenAccess is the work's open access status.
type OpenAccess struct {
	IsOA  bool   `json:"is_oa"`
	OAURL string `json:"oa_url"`
}

// Authorship links a work to an author.
type Authorship struct {
	Author       AuthorInfo    `json:"author"`
	Institutions []Institution `json:"institutions"`
}

// AuthorInfo is the author summary embedded in an authorship.
type AuthorInfo struct {
	DisplayName string `json:"display_name"`
}

// Institution is an affiliation.
type Institution struct {
	DisplayName string `json:"display_name"`
}

// Location is where a work is hosted.
type Location struct {
	Source         *Source `json:"source"`
	LandingPageURL string  `json:"landing_page_url"`
	PDFURL         string  `json:"pdf_url"`
}

// Source is a publication venue.
type Source struct {
	DisplayName string `json:"display_name"`
}
