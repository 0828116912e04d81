package dedup

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"google.golang.org/genai"

	"github.com/helixir/research-analysis-service/internal/textutil"
)

// Compile-time interface checks.
var (
	_ Embedder = (*GeminiEmbedder)(nil)
	_ Embedder = (*LexicalEmbedder)(nil)
)

// DefaultGeminiEmbeddingModel is used when GeminiEmbedderConfig.Model is empty.
const DefaultGeminiEmbeddingModel = "gemini-embedding-001"

// GeminiEmbedderConfig configures the Gemini embedding backend.
type GeminiEmbedderConfig struct {
	APIKey string
	Model  string

	// BaseURL overrides the API endpoint.
	BaseURL string

	// TaskType is the Gemini embedding task. Defaults to SEMANTIC_SIMILARITY.
	TaskType string

	// Dimensions truncates output vectors when positive.
	Dimensions int
}

// GeminiEmbedder embeds texts through the Gemini embeddings API.
type GeminiEmbedder struct {
	models   *genai.Models
	model    string
	taskType string
	dims     int
}

// NewGeminiEmbedder creates a Gemini-backed embedder.
func NewGeminiEmbedder(ctx context.Context, cfg GeminiEmbedderConfig) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini embedder: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiEmbeddingModel
	}
	if cfg.TaskType == "" {
		cfg.TaskType = "SEMANTIC_SIMILARITY"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: creating client: %w", err)
	}
	return &GeminiEmbedder{
		models:   client.Models,
		model:    cfg.Model,
		taskType: cfg.TaskType,
		dims:     cfg.Dimensions,
	}, nil
}

// Embed sends all texts in one batch request.
func (g *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	cfg := &genai.EmbedContentConfig{TaskType: g.taskType}
	if g.dims > 0 {
		cfg.OutputDimensionality = genai.Ptr(int32(g.dims))
	}

	resp, err := g.models.EmbedContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed: got %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

// DefaultLexicalDimensions is the vector size of the lexical embedder.
const DefaultLexicalDimensions = 1024

// LexicalEmbedder is a local, dependency-free embedder. It hashes stopword
// filtered unigrams and bigrams into a fixed number of buckets with
// sublinear term weights. Vectors from separate calls are comparable.
type LexicalEmbedder struct {
	dims int
}

// NewLexicalEmbedder creates a LexicalEmbedder. Non-positive dims selects
// DefaultLexicalDimensions.
func NewLexicalEmbedder(dims int) *LexicalEmbedder {
	if dims <= 0 {
		dims = DefaultLexicalDimensions
	}
	return &LexicalEmbedder{dims: dims}
}

// Embed never fails except on context cancellation.
func (l *LexicalEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = l.vector(text)
	}
	return out, nil
}

func (l *LexicalEmbedder) vector(text string) []float32 {
	tokens := textutil.Tokenize(text)
	counts := make(map[string]float64, len(tokens)*2)
	for i, t := range tokens {
		counts[t]++
		if i > 0 {
			counts[tokens[i-1]+" "+t] += 0.5
		}
	}

	v := make([]float32, l.dims)
	for term, c := range counts {
		h := fnv.New32a()
		_, _ = h.Write([]byte(term))
		sum := h.Sum32()
		sign := float32(1)
		if sum&(1<<31) != 0 {
			sign = -1
		}
		v[int(sum%uint32(l.dims))] += sign * float32(1+math.Log(c))
	}
	return v
}
