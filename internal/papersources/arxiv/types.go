package arxiv

import "encoding/xml"

// Feed is the subset of the arXiv Atom response the client reads.
// Namespaced elements (opensearch:totalResults, arxiv:doi) match on local name.
type Feed struct {
	XMLName      xml.Name `xml:"feed"`
	TotalResults int      `xml:"totalResults"`
	Entries      []Entry  `xml:"entry"`
}

// Entry is one arXiv preprint.
type Entry struct {
	ID              string     `xml:"id"`        // "http://arxiv.org/abs/2301.12345v1"
	Title           string     `xml:"title"`
	Summary         string     `xml:"summary"`   // abstract
	Published       string     `xml:"published"` // "2023-01-15T18:30:00Z"
	Authors         []Author   `xml:"author"`
	Links           []Link     `xml:"link"`
	DOI             string     `xml:"doi"`
	JournalRef      string     `xml:"journal_ref"`
	PrimaryCategory Category   `xml:"primary_category"`
}

// Author is an entry author.
type Author struct {
	Name        string `xml:"name"`
	Affiliation string `xml:"affiliation"`
}

// Category is an arXiv subject category such as "cs.CL".
type Category struct {
	Term string `xml:"term,attr"`
}

// Link is an Atom link; the PDF link carries title="pdf".
type Link struct {
	Href  string `xml:"href,attr"`
	Rel   string `xml:"rel,attr"`
	Type  string `xml:"type,attr"`
	Title string `xml:"title,attr"`
}
