package semanticscholar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-analysis-service/internal/domain"
	"github.com/helixir/research-analysis-service/internal/papersources"
)

func testClient(baseURL string, cfg Config) *Client {
	cfg.BaseURL = baseURL
	cfg.Enabled = true
	cfg.RateLimit = 1000
	cfg.BurstSize = 100
	return NewClient(cfg, nil)
}

func TestNewClient(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		client := NewClient(Config{Enabled: true}, nil)

		require.NotNil(t, client)
		assert.Equal(t, DefaultBaseURL, client.config.BaseURL)
		assert.Equal(t, DefaultTimeout, client.config.Timeout)
		assert.Equal(t, DefaultRateLimit, client.config.RateLimit)
		assert.Equal(t, DefaultBurstSize, client.config.BurstSize)
		assert.Equal(t, DefaultMaxResults, client.config.MaxResults)
	})

	t.Run("uses provided HTTP client", func(t *testing.T) {
		httpClient := papersources.NewHTTPClient(papersources.HTTPClientConfig{RateLimit: 100})
		client := NewClient(Config{Enabled: true}, httpClient)
		assert.Same(t, httpClient, client.httpClient)
	})

	t.Run("identity", func(t *testing.T) {
		client := NewClient(Config{Enabled: true}, nil)
		assert.Equal(t, domain.SourceTypeSemanticScholar, client.SourceType())
		assert.Equal(t, "Semantic Scholar", client.Name())
		assert.True(t, client.IsEnabled())
		assert.False(t, NewClient(Config{}, nil).IsEnabled())
	})
}

func TestClient_Search(t *testing.T) {
	t.Run("converts results and attaches references", func(t *testing.T) {
		search := SearchResponse{
			Total: 150,
			Next:  10,
			Data: []PaperResult{
				{
					PaperID:       "abc123",
					Title:         "Graph Attention Networks",
					Abstract:      "We present graph attention networks.",
					Year:          2018,
					Venue:         "ICLR",
					Authors:       []Author{{AuthorID: "a1", Name: "Petar Velickovic"}, {Name: " "}},
					CitationCount: 9000,
					OpenAccessPDF: &OpenAccessPDF{URL: "https://example.com/gat.pdf"},
					ExternalIDs:   &ExternalIDs{DOI: "10.48550/ARXIV.1710.10903"},
				},
				{
					PaperID:  "def456",
					Title:    "Semi-Supervised Classification with GCNs",
					Year:     2017,
					Journal:  &Journal{Name: "arXiv"},
					Abstract: "A scalable approach.",
				},
				{PaperID: "", Title: "no id"},
			},
		}
		batch := []*ReferenceBatchItem{
			{
				PaperID: "abc123",
				References: []Reference{
					{PaperID: "def456"},
					{PaperID: "xyz", ExternalIDs: &ExternalIDs{DOI: "10.1000/Cited"}},
					{PaperID: "def456"},
					{},
				},
			},
			nil,
		}

		var batchCalls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			switch r.URL.Path {
			case "/paper/search":
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "graph attention", r.URL.Query().Get("query"))
				assert.Equal(t, "10", r.URL.Query().Get("limit"))
				assert.Contains(t, r.URL.Query().Get("fields"), "externalIds")
				_ = json.NewEncoder(w).Encode(search)
			case "/paper/batch":
				batchCalls.Add(1)
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, referenceFields, r.URL.Query().Get("fields"))
				var body batchRequest
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, []string{"abc123", "def456"}, body.IDs)
				_ = json.NewEncoder(w).Encode(batch)
			default:
				http.NotFound(w, r)
			}
		}))
		defer server.Close()

		client := testClient(server.URL, Config{})
		result, err := client.Search(context.Background(), papersources.SearchParams{
			Query:      "graph attention",
			MaxResults: 10,
		})

		require.NoError(t, err)
		assert.Equal(t, 150, result.TotalResults)
		assert.True(t, result.HasMore)
		assert.Equal(t, domain.SourceTypeSemanticScholar, result.Source)
		assert.EqualValues(t, 1, batchCalls.Load())

		require.Len(t, result.Documents, 2)
		gat := result.Documents[0]
		assert.Equal(t, "semantic_scholar:abc123", gat.ID)
		assert.Equal(t, "abc123", gat.SourceID)
		assert.Equal(t, "10.48550/arxiv.1710.10903", gat.DOI)
		assert.Equal(t, "ICLR", gat.Venue)
		assert.Equal(t, 9000, gat.CitationCount)
		assert.Equal(t, "https://example.com/gat.pdf", gat.PDFURL)
		assert.Equal(t, "https://www.semanticscholar.org/paper/abc123", gat.URL)
		assert.Equal(t, []string{"Petar Velickovic"}, gat.AuthorNames())
		assert.Equal(t, []string{"semantic_scholar:def456", "10.1000/cited"}, gat.References)

		gcn := result.Documents[1]
		assert.Equal(t, "arXiv", gcn.Venue)
		assert.Empty(t, gcn.References)
	})

	t.Run("sends year range", func(t *testing.T) {
		cases := []struct {
			from, to int
			want     string
		}{
			{2019, 0, "2019-"},
			{0, 2021, "-2021"},
			{2019, 2021, "2019-2021"},
		}
		for _, tc := range cases {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tc.want, r.URL.Query().Get("year"))
				_ = json.NewEncoder(w).Encode(SearchResponse{})
			}))
			client := testClient(server.URL, Config{})
			_, err := client.Search(context.Background(), papersources.SearchParams{
				Query: "q", YearFrom: tc.from, YearTo: tc.to,
			})
			require.NoError(t, err)
			server.Close()
		}
	})

	t.Run("filters out-of-range years client side", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(SearchResponse{Data: []PaperResult{
				{PaperID: "1", Title: "Old", Year: 2015},
				{PaperID: "2", Title: "New", Year: 2022},
				{PaperID: "3", Title: "Undated"},
			}})
		}))
		defer server.Close()

		client := testClient(server.URL, Config{SkipReferences: true})
		result, err := client.Search(context.Background(), papersources.SearchParams{Query: "q", YearFrom: 2020})

		require.NoError(t, err)
		require.Len(t, result.Documents, 2)
		assert.Equal(t, "New", result.Documents[0].Title)
		assert.Equal(t, "Undated", result.Documents[1].Title)
	})

	t.Run("reference lookup failure is not fatal", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/paper/batch" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"bad ids"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(SearchResponse{Data: []PaperResult{{PaperID: "1", Title: "Only"}}})
		}))
		defer server.Close()

		client := testClient(server.URL, Config{})
		result, err := client.Search(context.Background(), papersources.SearchParams{Query: "q"})

		require.NoError(t, err)
		require.Len(t, result.Documents, 1)
		assert.Empty(t, result.Documents[0].References)
	})

	t.Run("API error surfaces as ExternalAPIError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"Invalid query parameter"}`))
		}))
		defer server.Close()

		client := testClient(server.URL, Config{})
		result, err := client.Search(context.Background(), papersources.SearchParams{Query: "q"})

		require.Error(t, err)
		assert.Nil(t, result)
		var apiErr *domain.ExternalAPIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
		assert.Contains(t, err.Error(), "Invalid query parameter")
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer server.Close()
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		client := testClient(server.URL, Config{})
		_, err := client.Search(ctx, papersources.SearchParams{Query: "q"})
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestReferenceKeys(t *testing.T) {
	keys := referenceKeys([]Reference{
		{ExternalIDs: &ExternalIDs{DOI: "https://doi.org/10.1/X"}},
		{PaperID: "p1", ExternalIDs: &ExternalIDs{}},
		{PaperID: "p1"},
		{},
	})
	assert.Equal(t, []string{"10.1/x", "semantic_scholar:p1"}, keys)
}
