package openalex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/research-analysis-service/internal/domain"
	"github.com/helixir/research-analysis-service/internal/papersources"
)

const (
	// DefaultBaseURL is the default OpenAlex API base URL.
	DefaultBaseURL = "https://api.openalex.org"

	// DefaultRateLimit is the default rate limit for requests per second.
	// The polite pool (with email) allows higher rates.
	DefaultRateLimit = 10.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 10

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the default page size; OpenAlex caps it at 200.
	DefaultMaxResults = 50

	maxPerPage = 200

	openAlexIDPrefix = "https://openalex.org/"

	// maxAbstractWords guards against oversized inverted indexes.
	maxAbstractWords = 100_000

	sourceName = "OpenAlex"

	selectFields = "id,doi,title,display_name,publication_year,cited_by_count,open_access,authorships,primary_location,referenced_works,abstract_inverted_index"
)

// Config holds configuration for the OpenAlex client.
type Config struct {
	// BaseURL defaults to https://api.openalex.org.
	BaseURL string

	// Email is the contact address for the polite pool.
	// See: https://docs.openalex.org/how-to-use-the-api/rate-limits-and-authentication
	Email string

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
	if c.MaxResults <= 0 || c.MaxResults > maxPerPage {
		c.MaxResults = DefaultMaxResults
	}
}

// Client implements papersources.PaperSource for OpenAlex.
type Client struct {
	config     Config
	httpClient *papersources.HTTPClient
}

var _ papersources.PaperSource = (*Client)(nil)

// New creates a new OpenAlex client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()
	userAgent := papersources.DefaultUserAgent
	if cfg.Email != "" {
		userAgent += " (mailto:" + cfg.Email + ")"
	}
	return NewWithHTTPClient(cfg, papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Source:     sourceName,
		Timeout:    cfg.Timeout,
		RateLimit:  cfg.RateLimit,
		BurstSize:  cfg.BurstSize,
		MaxRetries: 2,
		UserAgent:  userAgent,
	}))
}

// NewWithHTTPClient creates an OpenAlex client around an existing HTTP client.
func NewWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	cfg.applyDefaults()
	return &Client{config: cfg, httpClient: httpClient}
}

// Search runs a full-text works search.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	start := time.Now()

	searchURL, perPage, err := c.buildSearchURL(params)
	if err != nil {
		return nil, fmt.Errorf("building search URL: %w", err)
	}

	body, err := c.httpClient.Get(ctx, searchURL, "application/json")
	if err != nil {
		return nil, err
	}

	var resp SearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("openalex: decoding response: %w", err)
	}

	docs := make([]domain.Document, 0, len(resp.Results))
	for i := range resp.Results {
		doc, ok := workToDocument(&resp.Results[i])
		if !ok || !params.InYearRange(doc.Year) {
			continue
		}
		docs = append(docs, doc)
	}

	page := resp.Meta.Page
	if page == 0 {
		page = 1
	}
	return &papersources.SearchResult{
		Documents:      docs,
		TotalResults:   resp.Meta.Count,
		HasMore:        page*perPage < resp.Meta.Count,
		Source:         domain.SourceTypeOpenAlex,
		SearchDuration: time.Since(start),
	}, nil
}

// SourceType returns domain.SourceTypeOpenAlex.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeOpenAlex
}

// Name returns the display name.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled reports whether the source is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// buildSearchURL converts the offset into OpenAlex's page numbering.
func (c *Client) buildSearchURL(params papersources.SearchParams) (string, int, error) {
	base, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", 0, fmt.Errorf("parsing base URL: %w", err)
	}
	u := base.JoinPath("works")

	perPage := params.MaxResults
	if perPage <= 0 || perPage > c.config.MaxResults {
		perPage = c.config.MaxResults
	}

	q := u.Query()
	q.Set("search", params.Query)
	q.Set("per-page", strconv.Itoa(perPage))
	q.Set("page", strconv.Itoa(params.Offset/perPage+1))
	q.Set("select", selectFields)
	if filters := buildFilters(params); len(filters) > 0 {
		q.Set("filter", strings.Join(filters, ","))
	}
	if c.config.Email != "" {
		q.Set("mailto", c.config.Email)
	}
	u.RawQuery = q.Encode()
	return u.String(), perPage, nil
}

func buildFilters(params papersources.SearchParams) []string {
	var filters []string
	if params.YearFrom > 0 {
		filters = append(filters, fmt.Sprintf("from_publication_date:%d-01-01", params.YearFrom))
	}
	if params.YearTo > 0 {
		filters = append(filters, fmt.Sprintf("to_publication_date:%d-12-31", params.YearTo))
	}
	return filters
}

func workToDocument(work *Work) (domain.Document, bool) {
	localID := normalizeOpenAlexID(work.ID)
	title := strings.TrimSpace(work.Title)
	if title == "" {
		title = strings.TrimSpace(work.DisplayName)
	}
	if localID == "" || title == "" {
		return domain.Document{}, false
	}

	doc := domain.Document{
		ID:            domain.DocumentID(domain.SourceTypeOpenAlex, localID),
		Source:        domain.SourceTypeOpenAlex,
		SourceID:      localID,
		Title:         title,
		Abstract:      reconstructAbstract(work.AbstractInvertedIndex),
		Year:          work.PublicationYear,
		CitationCount: work.CitedByCount,
		DOI:           domain.NormalizeDOI(work.DOI),
		URL:           work.ID,
	}

	if loc := work.PrimaryLocation; loc != nil {
		if loc.Source != nil {
			doc.Venue = loc.Source.DisplayName
		}
		if loc.LandingPageURL != "" {
			doc.URL = loc.LandingPageURL
		}
		doc.PDFURL = loc.PDFURL
	}
	if doc.PDFURL == "" && work.OpenAccess != nil && work.OpenAccess.IsOA {
		doc.PDFURL = work.OpenAccess.OAURL
	}

	doc.Authors = make([]domain.Author, 0, len(work.Authorships))
	for _, a := range work.Authorships {
		name := strings.TrimSpace(a.Author.DisplayName)
		if name == "" {
			continue
		}
		author := domain.Author{Name: name}
		if len(a.Institutions) > 0 {
			author.Affiliation = a.Institutions[0].DisplayName
		}
		doc.Authors = append(doc.Authors, author)
	}

	if len(work.ReferencedWorks) > 0 {
		doc.References = make([]string, 0, len(work.ReferencedWorks))
		for _, ref := range work.ReferencedWorks {
			if id := normalizeOpenAlexID(ref); id != "" {
				doc.References = append(doc.References, domain.DocumentID(domain.SourceTypeOpenAlex, id))
			}
		}
	}
	return doc, true
}

// normalizeOpenAlexID strips the URL prefix: "https://openalex.org/W123" becomes "W123".
func normalizeOpenAlexID(id string) string {
	return strings.TrimPrefix(strings.TrimSpace(id), openAlexIDPrefix)
}

// reconstructAbstract rebuilds abstract text from OpenAlex's inverted index.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	total := 0
	for _, positions := range invertedIndex {
		total += len(positions)
	}
	if total > maxAbstractWords {
		return ""
	}

	pairs := make([]posWord, 0, total)
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}
	slices.SortFunc(pairs, func(a, b posWord) int {
		if a.pos != b.pos {
			return a.pos - b.pos
		}
		return strings.Compare(a.word, b.word)
	})

	var b strings.Builder
	b.Grow(total * 7)
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p.word)
	}
	return b.String()
}
