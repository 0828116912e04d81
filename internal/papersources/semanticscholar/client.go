package semanticscholar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/research-analysis-service/internal/domain"
	"github.com/helixir/research-analysis-service/internal/papersources"
)

const (
	// DefaultBaseURL is the default base URL for the Semantic Scholar Graph API.
	DefaultBaseURL = "https://api.semanticscholar.org/graph/v1"

	// DefaultRateLimit is the default rate limit for unauthenticated requests.
	// With an API key, this can be increased.
	DefaultRateLimit = 1.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 1

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the search page size limit.
	DefaultMaxResults = 100

	// apiKeyHeader is the header name for the Semantic Scholar API key.
	apiKeyHeader = "x-api-key"

	paperFields     = "paperId,externalIds,title,abstract,year,venue,journal,authors,citationCount,url,openAccessPdf"
	referenceFields = "paperId,references.paperId,references.externalIds"

	// maxBatchIDs is the batch endpoint's per-request ID limit.
	maxBatchIDs = 500

	sourceName = "Semantic Scholar"
)

// Config contains configuration options for the Semantic Scholar client.
type Config struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string

	// APIKey is optional; authenticated requests have higher rate limits.
	APIKey string

	Timeout    time.Duration
	RateLimit  float64
	BurstSize  int
	MaxResults int
	Enabled    bool

	// SkipReferences disables the reference lookup after each search.
	SkipReferences bool
}

// Client implements papersources.PaperSource for Semantic Scholar.
type Client struct {
	httpClient *papersources.HTTPClient
	config     Config
}

var _ papersources.PaperSource = (*Client)(nil)

// NewClient creates a new Semantic Scholar client with the given configuration.
// If httpClient is nil, a new one will be created with the configuration settings.
func NewClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = DefaultBurstSize
	}
	if cfg.MaxResults == 0 {
		cfg.MaxResults = DefaultMaxResults
	}

	if httpClient == nil {
		httpClient = papersources.NewHTTPClient(papersources.HTTPClientConfig{
			Source:       sourceName,
			Timeout:      cfg.Timeout,
			RateLimit:    cfg.RateLimit,
			BurstSize:    cfg.BurstSize,
			MaxRetries:   2,
			APIKey:       cfg.APIKey,
			APIKeyHeader: apiKeyHeader,
		})
	}

	return &Client{
		httpClient: httpClient,
		config:     cfg,
	}
}

// Search queries Semantic Scholar and, unless disabled, attaches each
// result's references. A failed reference lookup is logged and the
// documents are returned without references.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	start := time.Now()

	searchURL, err := c.buildSearchURL(params)
	if err != nil {
		return nil, fmt.Errorf("building search URL: %w", err)
	}

	body, err := c.httpClient.Get(ctx, searchURL, "application/json")
	if err != nil {
		return nil, err
	}

	var searchResp SearchResponse
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("semantic scholar: decoding response: %w", err)
	}

	docs := make([]domain.Document, 0, len(searchResp.Data))
	for _, result := range searchResp.Data {
		if result.PaperID == "" || strings.TrimSpace(result.Title) == "" {
			continue
		}
		doc := convertToDocument(result)
		if !params.InYearRange(doc.Year) {
			continue
		}
		docs = append(docs, doc)
	}

	if !c.config.SkipReferences && len(docs) > 0 {
		if err := c.attachReferences(ctx, docs); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			zerolog.Ctx(ctx).Warn().Err(err).
				Str("source", string(domain.SourceTypeSemanticScholar)).
				Msg("reference lookup failed; continuing without references")
		}
	}

	return &papersources.SearchResult{
		Documents:      docs,
		TotalResults:   searchResp.Total,
		HasMore:        searchResp.Next > 0,
		Source:         domain.SourceTypeSemanticScholar,
		SearchDuration: time.Since(start),
	}, nil
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeSemanticScholar
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether this source is currently enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

func (c *Client) buildSearchURL(params papersources.SearchParams) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}

	searchURL := baseURL.JoinPath("paper", "search")

	q := searchURL.Query()
	q.Set("query", params.Query)
	q.Set("fields", paperFields)

	limit := params.MaxResults
	if limit <= 0 || limit > c.config.MaxResults {
		limit = c.config.MaxResults
	}
	q.Set("limit", strconv.Itoa(limit))

	if params.Offset > 0 {
		q.Set("offset", strconv.Itoa(params.Offset))
	}

	// Year ranges take the forms "2019-", "-2023" and "2019-2023".
	if params.YearFrom > 0 || params.YearTo > 0 {
		var year string
		if params.YearFrom > 0 {
			year = strconv.Itoa(params.YearFrom)
		}
		year += "-"
		if params.YearTo > 0 {
			year += strconv.Itoa(params.YearTo)
		}
		q.Set("year", year)
	}

	searchURL.RawQuery = q.Encode()
	return searchURL.String(), nil
}

// attachReferences fills docs[i].References from the batch endpoint.
func (c *Client) attachReferences(ctx context.Context, docs []domain.Document) error {
	byID := make(map[string]int, len(docs))
	ids := make([]string, 0, len(docs))
	for i := range docs {
		byID[docs[i].SourceID] = i
		ids = append(ids, docs[i].SourceID)
	}

	for len(ids) > 0 {
		n := min(len(ids), maxBatchIDs)
		items, err := c.fetchReferences(ctx, ids[:n])
		if err != nil {
			return err
		}
		for _, item := range items {
			if item == nil {
				continue
			}
			i, ok := byID[item.PaperID]
			if !ok {
				continue
			}
			docs[i].References = referenceKeys(item.References)
		}
		ids = ids[n:]
	}
	return nil
}

func (c *Client) fetchReferences(ctx context.Context, ids []string) ([]*ReferenceBatchItem, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	batchURL := baseURL.JoinPath("paper", "batch")
	q := batchURL.Query()
	q.Set("fields", referenceFields)
	batchURL.RawQuery = q.Encode()

	payload, err := json.Marshal(batchRequest{IDs: ids})
	if err != nil {
		return nil, fmt.Errorf("encoding batch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, batchURL.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing batch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, string(msg), nil)
	}

	var items []*ReferenceBatchItem
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&items); err != nil {
		return nil, fmt.Errorf("decoding batch response: %w", err)
	}
	return items, nil
}

// referenceKeys prefers the DOI so references resolve across sources, and
// falls back to the source-qualified paper ID.
func referenceKeys(refs []Reference) []string {
	keys := make([]string, 0, len(refs))
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		var key string
		switch {
		case ref.ExternalIDs != nil && ref.ExternalIDs.DOI != "":
			key = domain.NormalizeDOI(ref.ExternalIDs.DOI)
		case ref.PaperID != "":
			key = domain.DocumentID(domain.SourceTypeSemanticScholar, ref.PaperID)
		default:
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

func convertToDocument(result PaperResult) domain.Document {
	doc := domain.Document{
		ID:            domain.DocumentID(domain.SourceTypeSemanticScholar, result.PaperID),
		Source:        domain.SourceTypeSemanticScholar,
		SourceID:      result.PaperID,
		Title:         strings.TrimSpace(result.Title),
		Abstract:      strings.TrimSpace(result.Abstract),
		Year:          result.Year,
		CitationCount: result.CitationCount,
		URL:           result.URL,
		Venue:         result.Venue,
	}

	if doc.Venue == "" && result.Journal != nil {
		doc.Venue = result.Journal.Name
	}
	if doc.URL == "" {
		doc.URL = "https://www.semanticscholar.org/paper/" + result.PaperID
	}
	if result.OpenAccessPDF != nil {
		doc.PDFURL = result.OpenAccessPDF.URL
	}
	if result.ExternalIDs != nil {
		doc.DOI = domain.NormalizeDOI(result.ExternalIDs.DOI)
	}

	doc.Authors = make([]domain.Author, 0, len(result.Authors))
	for _, a := range result.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			doc.Authors = append(doc.Authors, domain.Author{Name: name})
		}
	}
	return doc
}
