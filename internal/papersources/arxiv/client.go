// Package arxiv implements a document source over the arXiv Atom API.
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/research-analysis-service/internal/domain"
	"github.com/helixir/research-analysis-service/internal/papersources"
)

const (
	// DefaultBaseURL is the arXiv API base URL.
	DefaultBaseURL = "https://export.arxiv.org/api"

	// DefaultRateLimit follows arXiv's one request per three seconds guidance with a small burst.
	DefaultRateLimit = 0.34

	// DefaultBurstSize is the default token bucket size.
	DefaultBurstSize = 1

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the default page size.
	DefaultMaxResults = 50

	sourceName = "arXiv"
)

// arxivIDRegex matches "http://arxiv.org/abs/2301.12345v1" and old-style "hep-th/9901001v1" IDs.
var arxivIDRegex = regexp.MustCompile(`arxiv\.org/abs/(.+?)(?:v\d+)?$`)

// Config holds configuration for the arXiv client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RateLimit  float64
	BurstSize  int
	MaxResults int
	Enabled    bool
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
	if c.MaxResults == 0 {
		c.MaxResults = DefaultMaxResults
	}
}

// Client searches arXiv.
type Client struct {
	config     Config
	httpClient *papersources.HTTPClient
}

var _ papersources.PaperSource = (*Client)(nil)

// New creates an arXiv client. A nil httpClient builds one from cfg.
func New(cfg Config, httpClient *papersources.HTTPClient) *Client {
	cfg.applyDefaults()
	if httpClient == nil {
		httpClient = papersources.NewHTTPClient(papersources.HTTPClientConfig{
			Source:    sourceName,
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
			BurstSize: cfg.BurstSize,
		})
	}
	return &Client{config: cfg, httpClient: httpClient}
}

// Search queries arXiv across all fields, newest submissions first by relevance.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	start := time.Now()

	searchURL, err := c.buildSearchURL(params)
	if err != nil {
		return nil, fmt.Errorf("building search URL: %w", err)
	}

	body, err := c.httpClient.Get(ctx, searchURL, "application/atom+xml")
	if err != nil {
		return nil, err
	}

	var feed Feed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("arxiv: decoding feed: %w", err)
	}

	docs := make([]domain.Document, 0, len(feed.Entries))
	for i := range feed.Entries {
		doc, ok := entryToDocument(&feed.Entries[i])
		if !ok || !params.InYearRange(doc.Year) {
			continue
		}
		docs = append(docs, doc)
	}

	return &papersources.SearchResult{
		Documents:      docs,
		TotalResults:   feed.TotalResults,
		HasMore:        params.Offset+len(feed.Entries) < feed.TotalResults,
		Source:         domain.SourceTypeArXiv,
		SearchDuration: time.Since(start),
	}, nil
}

// SourceType returns domain.SourceTypeArXiv.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeArXiv
}

// Name returns the display name.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled reports whether the source is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

func (c *Client) buildSearchURL(params papersources.SearchParams) (string, error) {
	base, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	base.Path = strings.TrimRight(base.Path, "/") + "/query"

	terms := strings.Fields(params.Query)
	for i, t := range terms {
		terms[i] = "all:" + t
	}
	searchQuery := strings.Join(terms, " AND ")
	if params.YearFrom > 0 || params.YearTo > 0 {
		from, to := "*", "*"
		if params.YearFrom > 0 {
			from = fmt.Sprintf("%d01010000", params.YearFrom)
		}
		if params.YearTo > 0 {
			to = fmt.Sprintf("%d12312359", params.YearTo)
		}
		searchQuery += fmt.Sprintf(" AND submittedDate:[%s TO %s]", from, to)
	}

	limit := params.MaxResults
	if limit <= 0 || limit > c.config.MaxResults {
		limit = c.config.MaxResults
	}

	q := url.Values{}
	q.Set("search_query", searchQuery)
	q.Set("max_results", strconv.Itoa(limit))
	if params.Offset > 0 {
		q.Set("start", strconv.Itoa(params.Offset))
	}
	q.Set("sortBy", "relevance")
	q.Set("sortOrder", "descending")
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// entryToDocument converts an Atom entry. Entries without a parsable arXiv
// ID or title are skipped.
func entryToDocument(entry *Entry) (domain.Document, bool) {
	arxivID := extractArXivID(entry.ID)
	title := normalizeWhitespace(entry.Title)
	if arxivID == "" || title == "" {
		return domain.Document{}, false
	}

	year := 0
	if t, err := time.Parse(time.RFC3339, entry.Published); err == nil {
		year = t.Year()
	}

	authors := make([]domain.Author, 0, len(entry.Authors))
	for _, a := range entry.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			authors = append(authors, domain.Author{Name: name, Affiliation: strings.TrimSpace(a.Affiliation)})
		}
	}

	pdfURL := ""
	absURL := ""
	for _, link := range entry.Links {
		switch {
		case link.Title == "pdf" || link.Type == "application/pdf":
			pdfURL = link.Href
		case link.Rel == "alternate":
			absURL = link.Href
		}
	}
	if pdfURL == "" {
		pdfURL = "https://arxiv.org/pdf/" + arxivID
	}
	if absURL == "" {
		absURL = "https://arxiv.org/abs/" + arxivID
	}

	venue := normalizeWhitespace(entry.JournalRef)
	if venue == "" {
		venue = "arXiv " + entry.PrimaryCategory.Term
	}

	return domain.Document{
		ID:       domain.DocumentID(domain.SourceTypeArXiv, arxivID),
		Source:   domain.SourceTypeArXiv,
		SourceID: arxivID,
		Title:    title,
		Abstract: normalizeWhitespace(entry.Summary),
		Authors:  authors,
		Year:     year,
		DOI:      domain.NormalizeDOI(entry.DOI),
		URL:      absURL,
		PDFURL:   pdfURL,
		Venue:    strings.TrimSpace(venue),
	}, true
}

func extractArXivID(entryURL string) string {
	m := arxivIDRegex.FindStringSubmatch(strings.TrimSpace(entryURL))
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
