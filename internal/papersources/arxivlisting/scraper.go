// Package arxivlisting is a fallback document source that scrapes the arXiv
// search result pages. It needs no API quota and is used alongside the Atom
// API client when that one is throttled.
package arxivlisting

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/helixir/research-analysis-service/internal/domain"
	"github.com/helixir/research-analysis-service/internal/papersources"
)

const (
	// DefaultBaseURL is the arXiv web front end.
	DefaultBaseURL = "https://arxiv.org"

	// DefaultRateLimit keeps at least three seconds between page fetches.
	DefaultRateLimit = 0.33

	// DefaultTimeout bounds one page fetch.
	DefaultTimeout = 30 * time.Second

	sourceName = "arXiv listing"
)

// pageSizes are the page sizes the search form accepts.
var pageSizes = []int{25, 50, 100, 200}

var (
	submittedExpr = regexp.MustCompile(`Submitted\s+\d{1,2}\s+[A-Za-z]+,?\s+(\d{4})`)
	totalExpr     = regexp.MustCompile(`of\s+([\d,]+)\s+results`)
)

// Config configures the scraper.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64
	Enabled   bool
}

// Scraper implements papersources.PaperSource over arxiv.org/search.
type Scraper struct {
	config     Config
	httpClient *papersources.HTTPClient
}

var _ papersources.PaperSource = (*Scraper)(nil)

// New creates a Scraper. A nil httpClient builds one from cfg.
func New(cfg Config, httpClient *papersources.HTTPClient) *Scraper {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if httpClient == nil {
		httpClient = papersources.NewHTTPClient(papersources.HTTPClientConfig{
			Source:    sourceName,
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
			BurstSize: 1,
		})
	}
	return &Scraper{config: cfg, httpClient: httpClient}
}

// Search fetches one result page and extracts its entries.
func (s *Scraper) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	start := time.Now()

	pageURL, size, err := s.buildSearchURL(params)
	if err != nil {
		return nil, fmt.Errorf("building search URL: %w", err)
	}

	body, err := s.httpClient.Get(ctx, pageURL, "text/html")
	if err != nil {
		return nil, err
	}

	page, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("arxiv listing: parse document: %w", err)
	}

	var docs []domain.Document
	page.Find("li.arxiv-result").Each(func(_ int, sel *goquery.Selection) {
		doc, ok := parseResult(sel, s.config.BaseURL)
		if !ok || !params.InYearRange(doc.Year) {
			return
		}
		docs = append(docs, doc)
	})

	limit := params.MaxResults
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}

	total := parseTotal(page.Find("h1.title").First().Text())
	return &papersources.SearchResult{
		Documents:      docs,
		TotalResults:   total,
		HasMore:        params.Offset+size < total,
		Source:         domain.SourceTypeArXivListing,
		SearchDuration: time.Since(start),
	}, nil
}

// SourceType returns domain.SourceTypeArXivListing.
func (s *Scraper) SourceType() domain.SourceType {
	return domain.SourceTypeArXivListing
}

// Name returns the display name.
func (s *Scraper) Name() string {
	return sourceName
}

// IsEnabled reports whether the source is enabled.
func (s *Scraper) IsEnabled() bool {
	return s.config.Enabled
}

func (s *Scraper) buildSearchURL(params papersources.SearchParams) (string, int, error) {
	base, err := url.Parse(s.config.BaseURL)
	if err != nil {
		return "", 0, fmt.Errorf("invalid base url %s: %w", s.config.BaseURL, err)
	}
	u := base.JoinPath("search/")

	size := pageSizes[len(pageSizes)-1]
	for _, ps := range pageSizes {
		if params.MaxResults <= ps {
			size = ps
			break
		}
	}

	q := u.Query()
	q.Set("query", params.Query)
	q.Set("searchtype", "all")
	q.Set("size", strconv.Itoa(size))
	if params.Offset > 0 {
		q.Set("start", strconv.Itoa(params.Offset))
	}
	u.RawQuery = q.Encode()
	return u.String(), size, nil
}

func parseResult(sel *goquery.Selection, baseURL string) (domain.Document, bool) {
	href, _ := sel.Find(`p.list-title a[href*="/abs/"]`).First().Attr("href")
	if href == "" {
		href, _ = sel.Find(`a[href*="/abs/"]`).First().Attr("href")
	}
	arxivID := ""
	if i := strings.LastIndex(href, "/abs/"); i >= 0 {
		arxivID = strings.TrimSpace(href[i+len("/abs/"):])
	}
	title := clean(sel.Find("p.title").First().Text())
	if arxivID == "" || title == "" {
		return domain.Document{}, false
	}

	var authors []domain.Author
	sel.Find("p.authors a").Each(func(_ int, a *goquery.Selection) {
		if name := clean(a.Text()); name != "" {
			authors = append(authors, domain.Author{Name: name})
		}
	})

	abstract := sel.Find("span.abstract-full").First()
	if abstract.Length() == 0 {
		abstract = sel.Find("span.abstract-short").First()
	}
	// The full abstract ends with a "△ Less" toggle link.
	abstract.Find("a").Remove()
	summary := strings.TrimPrefix(clean(abstract.Text()), "Abstract:")

	year := 0
	if m := submittedExpr.FindStringSubmatch(sel.Find("p.is-size-7").Text()); len(m) == 2 {
		year, _ = strconv.Atoi(m[1])
	}

	venue := clean(sel.Find("div.tags span.tag").First().Text())
	doi := ""
	if d, ok := sel.Find(`a[href*="doi.org/"]`).First().Attr("href"); ok {
		doi = domain.NormalizeDOI(d)
	}

	root := strings.TrimRight(baseURL, "/")
	return domain.Document{
		ID:       domain.DocumentID(domain.SourceTypeArXivListing, arxivID),
		Source:   domain.SourceTypeArXivListing,
		SourceID: arxivID,
		Title:    title,
		Abstract: strings.TrimSpace(summary),
		Authors:  authors,
		Year:     year,
		DOI:      doi,
		URL:      root + "/abs/" + arxivID,
		PDFURL:   root + "/pdf/" + arxivID,
		Venue:    venue,
	}, true
}

// parseTotal reads "Showing 1–50 of 1,234 results for all: ...".
func parseTotal(heading string) int {
	m := totalExpr.FindStringSubmatch(heading)
	if len(m) != 2 {
		return 0
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return 0
	}
	return n
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
