// Package app assembles the analysis service from configuration. Both the
// long-running server and the command line tool build their object graph
// here so they run the same pipeline.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/helixir/research-analysis-service/internal/analysis"
	"github.com/helixir/research-analysis-service/internal/broadcast"
	"github.com/helixir/research-analysis-service/internal/citation"
	"github.com/helixir/research-analysis-service/internal/config"
	"github.com/helixir/research-analysis-service/internal/database"
	"github.com/helixir/research-analysis-service/internal/dedup"
	"github.com/helixir/research-analysis-service/internal/llm"
	"github.com/helixir/research-analysis-service/internal/objectstore"
	"github.com/helixir/research-analysis-service/internal/observability"
	"github.com/helixir/research-analysis-service/internal/papersources"
	"github.com/helixir/research-analysis-service/internal/papersources/arxiv"
	"github.com/helixir/research-analysis-service/internal/papersources/arxivlisting"
	"github.com/helixir/research-analysis-service/internal/papersources/openalex"
	"github.com/helixir/research-analysis-service/internal/papersources/semanticscholar"
	"github.com/helixir/research-analysis-service/internal/pipeline"
	"github.com/helixir/research-analysis-service/internal/registry"
	"github.com/helixir/research-analysis-service/internal/repository"
	"github.com/helixir/research-analysis-service/internal/retrieval"
)

// Embedding providers.
const (
	EmbeddingProviderLexical = "lexical"
	EmbeddingProviderGemini  = "gemini"
)

// App is the assembled service.
type App struct {
	Config       *config.Config
	Logger       zerolog.Logger
	Metrics      *observability.Metrics
	Jobs         *registry.Registry
	Events       *broadcast.Broadcaster
	Sources      *papersources.Registry
	Reports      repository.ReportRepository
	Orchestrator *pipeline.Orchestrator

	// DB is nil when the database is disabled.
	DB *database.DB
	// Archive is nil when object storage is disabled.
	Archive *objectstore.MinioArchive
}

// Option configures New.
type Option func(*options)

type options struct {
	metrics *observability.Metrics
	reports repository.ReportRepository
	llm     llm.Client
	llmSet  bool
}

// WithMetrics uses m instead of registering a new metrics set. Prometheus
// collectors can only be registered once per process.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithReportRepository overrides the configured report store.
func WithReportRepository(r repository.ReportRepository) Option {
	return func(o *options) {
		o.reports = r
	}
}

// WithLLMClient overrides the configured LLM provider. A nil client
// selects extractive mode.
func WithLLMClient(c llm.Client) Option {
	return func(o *options) {
		o.llm = c
		o.llmSet = true
	}
}

// New builds the service from cfg. The returned App owns its database pool;
// call Close when done. Jobs still running are not stopped by Close, use
// Orchestrator.Shutdown first.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: o.metrics,
	}
	if a.Metrics == nil && cfg.Metrics.Enabled {
		a.Metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	a.Jobs = registry.New(registry.WithShards(cfg.Pipeline.RegistryShards))
	a.Events = broadcast.New(a.Jobs, broadcast.Config{BufferSize: cfg.Pipeline.EventBufferSize}, logger, a.Metrics)
	a.Sources = NewSourceRegistry(cfg.PaperSources)

	client := o.llm
	if !o.llmSet {
		var err error
		client, err = llm.NewClient(ctx, llmFactoryConfig(cfg.LLM))
		if err != nil {
			return nil, fmt.Errorf("creating LLM client: %w", err)
		}
	}
	if client == nil {
		logger.Info().Msg("no LLM provider configured, analysis runs in extractive mode")
	}

	embedder, err := newEmbedder(ctx, cfg.Embedding)
	if err != nil {
		return nil, err
	}

	stages := pipeline.Stages{
		Retriever: retrieval.New(a.Sources, retrieval.Config{
			MinRelevance: cfg.Pipeline.MinRelevance,
			YearFrom:     cfg.Pipeline.YearFrom,
			YearTo:       cfg.Pipeline.YearTo,
		}, logger, a.Metrics),
		Deduplicator: dedup.NewEngine(embedder, dedup.Config{BatchSize: cfg.Embedding.BatchSize}, logger),
		Summarizer: analysis.NewSummarizer(client, analysis.SummarizerConfig{
			Concurrency: cfg.Pipeline.SummaryConcurrency,
		}, logger, a.Metrics),
		Synthesizer: analysis.NewSynthesizer(client, analysis.SynthesizerConfig{
			KeywordCount: cfg.Pipeline.KeywordCount,
		}, logger, a.Metrics),
		Citations: citation.NewBuilder(0, logger),
	}

	a.Reports = o.reports
	if a.Reports == nil {
		if err := a.openReports(ctx); err != nil {
			return nil, err
		}
	}

	pipelineOpts := []pipeline.Option{pipeline.WithMetrics(a.Metrics)}
	if cfg.Storage.Enabled {
		archive, err := newArchive(ctx, cfg.Storage, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Archive = archive
		pipelineOpts = append(pipelineOpts, pipeline.WithArchive(archive))
	}

	a.Orchestrator = pipeline.New(pipeline.Config{
		DefaultTimeout:        cfg.Pipeline.DefaultTimeout,
		MaxTimeout:            cfg.Pipeline.MaxTimeout,
		DefaultMaxPapers:      cfg.Pipeline.DefaultMaxPapers,
		DefaultDedupThreshold: cfg.Pipeline.DefaultDedupThreshold,
		Sources:               cfg.PaperSources.EnabledSources(),
	}, stages, a.Jobs, a.Events, a.Reports, logger, pipelineOpts...)

	logger.Info().
		Strs("sources", a.Sources.Names()).
		Bool("llm", client != nil).
		Str("embedding", embeddingProvider(cfg.Embedding)).
		Bool("database", a.DB != nil).
		Bool("archive", a.Archive != nil).
		Msg("analysis service assembled")

	return a, nil
}

// Close releases the database pool.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
		a.DB = nil
	}
}

// openReports selects the report store: PostgreSQL when the database is
// enabled, process memory otherwise.
func (a *App) openReports(ctx context.Context) error {
	cfg := a.Config.Database
	if !cfg.Enabled {
		a.Reports = repository.NewMemoryReportRepository()
		return nil
	}

	db, err := database.New(ctx, &cfg, a.Logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	if cfg.MigrationAutoRun {
		if err := migrate(db, cfg.MigrationPath, a.Logger); err != nil {
			db.Close()
			return err
		}
	}

	a.DB = db
	a.Reports = repository.NewPgReportRepository(db.Pool())
	return nil
}

func migrate(db *database.DB, path string, logger zerolog.Logger) error {
	migrator, err := database.NewMigrator(db, path, logger)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer migrator.Close()

	if err := migrator.Up(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

func newArchive(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (*objectstore.MinioArchive, error) {
	archive, err := objectstore.NewMinioArchive(objectstore.Config{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		Prefix:    cfg.Prefix,
		UseSSL:    cfg.UseSSL,
	}, logger)
	if err != nil {
		return nil, err
	}
	if cfg.CreateBucket {
		if err := archive.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("preparing report bucket: %w", err)
		}
	}
	return archive, nil
}

// NewSourceRegistry registers every enabled document source.
func NewSourceRegistry(cfg config.PaperSourcesConfig) *papersources.Registry {
	sources := papersources.NewRegistry()

	if c := cfg.ArXiv; c.Enabled {
		sources.Register(arxiv.New(arxiv.Config{
			BaseURL:    c.BaseURL,
			Timeout:    c.Timeout,
			RateLimit:  c.RateLimit,
			MaxResults: c.MaxResults,
			Enabled:    true,
		}, nil))
	}
	if c := cfg.SemanticScholar; c.Enabled {
		sources.Register(semanticscholar.NewClient(semanticscholar.Config{
			BaseURL:        c.BaseURL,
			APIKey:         c.APIKey,
			Timeout:        c.Timeout,
			RateLimit:      c.RateLimit,
			MaxResults:     c.MaxResults,
			Enabled:        true,
			SkipReferences: c.SkipReferences,
		}, nil))
	}
	if c := cfg.OpenAlex; c.Enabled {
		sources.Register(openalex.New(openalex.Config{
			BaseURL:    c.BaseURL,
			Email:      c.Email,
			Timeout:    c.Timeout,
			RateLimit:  c.RateLimit,
			MaxResults: c.MaxResults,
			Enabled:    true,
		}))
	}
	if c := cfg.ArXivListing; c.Enabled {
		sources.Register(arxivlisting.New(arxivlisting.Config{
			BaseURL:   c.BaseURL,
			Timeout:   c.Timeout,
			RateLimit: c.RateLimit,
			Enabled:   true,
		}, nil))
	}

	return sources
}

func newEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (dedup.Embedder, error) {
	switch embeddingProvider(cfg) {
	case EmbeddingProviderLexical:
		return dedup.NewLexicalEmbedder(0), nil
	case EmbeddingProviderGemini:
		embedder, err := dedup.NewGeminiEmbedder(ctx, dedup.GeminiEmbedderConfig{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		})
		if err != nil {
			return nil, fmt.Errorf("creating gemini embedder: %w", err)
		}
		return embedder, nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", cfg.Provider)
	}
}

func embeddingProvider(cfg config.EmbeddingConfig) string {
	p := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if p == "" {
		return EmbeddingProviderLexical
	}
	return p
}

func llmFactoryConfig(cfg config.LLMConfig) llm.FactoryConfig {
	return llm.FactoryConfig{
		Provider:    strings.ToLower(cfg.Provider),
		Temperature: cfg.Temperature,
		Timeout:     cfg.Timeout,
		MaxRetries:  cfg.MaxRetries,
		OpenAI: llm.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.OpenAI.Model,
			BaseURL: cfg.OpenAI.BaseURL,
		},
		Anthropic: llm.AnthropicConfig{
			APIKey:  cfg.Anthropic.APIKey,
			Model:   cfg.Anthropic.Model,
			BaseURL: cfg.Anthropic.BaseURL,
		},
		Gemini: llm.GeminiConfig{
			APIKey:  cfg.Gemini.APIKey,
			Model:   cfg.Gemini.Model,
			BaseURL: cfg.Gemini.BaseURL,
		},
	}
}
