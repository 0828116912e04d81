// Package config provides configuration management for the research analysis service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "RESEARCH"

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Config holds all configuration for the research analysis service.
type Config struct {
	// Server contains HTTP/gRPC server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Pipeline contains job orchestration defaults and limits.
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	// LLM contains LLM client settings for summarization and synthesis.
	LLM LLMConfig `mapstructure:"llm"`
	// Embedding contains the dedup embedding backend settings.
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	// PaperSources contains document source configurations.
	PaperSources PaperSourcesConfig `mapstructure:"paper_sources"`
	// Kafka contains the request intake and event forwarding settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Storage contains the object storage report archive settings.
	Storage StorageConfig `mapstructure:"storage"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// GRPCPort is the gRPC health server port (default: 9090).
	GRPCPort int `mapstructure:"grpc_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing a response. Zero
	// disables it, which event streams need.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// CORSAllowedOrigins lists the origins allowed by the CORS middleware.
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Enabled selects the PostgreSQL report store; otherwise reports are kept in memory.
	Enabled bool `mapstructure:"enabled"`
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 20).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 2).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is a directory of migration files. Empty uses the
	// migrations embedded in the binary.
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
	// StatementCacheCapacity is the size of the prepared statement cache.
	StatementCacheCapacity int `mapstructure:"statement_cache_capacity"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`
}

// PipelineConfig holds job orchestration settings.
type PipelineConfig struct {
	// DefaultTimeout is the job budget when the submitter sets none.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	// MaxTimeout caps caller-supplied timeouts.
	MaxTimeout time.Duration `mapstructure:"max_timeout"`
	// DefaultMaxPapers is used when the submitter sets no max_papers.
	DefaultMaxPapers int `mapstructure:"default_max_papers"`
	// DefaultDedupThreshold is used when the submitter sets no threshold.
	DefaultDedupThreshold float64 `mapstructure:"default_dedup_threshold"`
	// MinRelevance drops retrieved documents scoring below it.
	MinRelevance float64 `mapstructure:"min_relevance"`
	// YearFrom and YearTo restrict retrieval to a publication year range.
	YearFrom int `mapstructure:"year_from"`
	YearTo   int `mapstructure:"year_to"`
	// SummaryConcurrency bounds concurrent summary requests per job.
	SummaryConcurrency int `mapstructure:"summary_concurrency"`
	// KeywordCount is the number of topic keywords in a synthesis.
	KeywordCount int `mapstructure:"keyword_count"`
	// EventBufferSize is the per-subscriber event buffer.
	EventBufferSize int `mapstructure:"event_buffer_size"`
	// RegistryShards is the number of job registry shards.
	RegistryShards int `mapstructure:"registry_shards"`
}

// LLMConfig holds LLM client configuration.
type LLMConfig struct {
	// Provider is the LLM provider (anthropic, gemini, openai, none).
	Provider string `mapstructure:"provider"`
	// Timeout is the timeout for LLM API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries is the maximum number of retries for failed calls.
	MaxRetries int `mapstructure:"max_retries"`
	// Temperature is the LLM temperature setting.
	Temperature float64 `mapstructure:"temperature"`
	// OpenAI contains OpenAI-specific settings.
	OpenAI LLMProviderConfig `mapstructure:"openai"`
	// Anthropic contains Anthropic-specific settings.
	Anthropic LLMProviderConfig `mapstructure:"anthropic"`
	// Gemini contains Google Gemini-specific settings.
	Gemini LLMProviderConfig `mapstructure:"gemini"`
}

// LLMProviderConfig holds the settings of a single LLM provider.
type LLMProviderConfig struct {
	// APIKey is loaded from RESEARCH_LLM_<PROVIDER>_API_KEY only.
	APIKey string `mapstructure:"-"`
	// Model is the model identifier.
	Model string `mapstructure:"model"`
	// BaseURL overrides the API endpoint.
	BaseURL string `mapstructure:"base_url"`
}

// EmbeddingConfig holds the dedup embedding backend settings.
type EmbeddingConfig struct {
	// Provider is "lexical" (local hashed TF-IDF) or "gemini".
	Provider string `mapstructure:"provider"`
	// APIKey is loaded from RESEARCH_EMBEDDING_API_KEY, falling back to the Gemini LLM key.
	APIKey string `mapstructure:"-"`
	// Model is the embedding model for remote providers.
	Model string `mapstructure:"model"`
	// Dimensions is the vector size.
	Dimensions int `mapstructure:"dimensions"`
	// BatchSize is the number of documents embedded per call.
	BatchSize int `mapstructure:"batch_size"`
}

// PaperSourcesConfig holds configuration for all document sources.
type PaperSourcesConfig struct {
	// ArXiv contains arXiv Atom API settings.
	ArXiv PaperSourceConfig `mapstructure:"arxiv"`
	// SemanticScholar contains Semantic Scholar Graph API settings.
	SemanticScholar PaperSourceConfig `mapstructure:"semantic_scholar"`
	// OpenAlex contains OpenAlex API settings.
	OpenAlex PaperSourceConfig `mapstructure:"openalex"`
	// ArXivListing contains arxiv.org search page scraper settings.
	ArXivListing PaperSourceConfig `mapstructure:"arxiv_listing"`
}

// PaperSourceConfig holds configuration for a single document source.
type PaperSourceConfig struct {
	// Enabled controls whether this source is used.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is loaded from RESEARCH_PAPER_SOURCES_<SOURCE>_API_KEY only.
	APIKey string `mapstructure:"-"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the timeout for API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// MaxResults is the maximum results per query.
	MaxResults int `mapstructure:"max_results"`
	// Email is sent to APIs with a polite pool (OpenAlex).
	Email string `mapstructure:"email"`
	// SkipReferences disables reference lookups where a source needs a second call.
	SkipReferences bool `mapstructure:"skip_references"`
}

// KafkaConfig holds Kafka settings.
type KafkaConfig struct {
	// Enabled controls whether Kafka intake and forwarding are active.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// EventsTopic receives every progress event, keyed by job id.
	EventsTopic string `mapstructure:"events_topic"`
	// RequestsTopic carries analysis requests consumed by the intake listener.
	RequestsTopic string `mapstructure:"requests_topic"`
	// GroupID is the consumer group of the intake listener.
	GroupID string `mapstructure:"group_id"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// StorageConfig holds the S3-compatible report archive settings.
type StorageConfig struct {
	// Enabled turns on report archiving.
	Enabled bool `mapstructure:"enabled"`
	// Endpoint is the host[:port] of the object store.
	Endpoint string `mapstructure:"endpoint"`
	// AccessKey is loaded from RESEARCH_STORAGE_ACCESS_KEY only.
	AccessKey string `mapstructure:"-"`
	// SecretKey is loaded from RESEARCH_STORAGE_SECRET_KEY only.
	SecretKey string `mapstructure:"-"`
	// Bucket holds archived reports.
	Bucket string `mapstructure:"bucket"`
	// Region is the bucket region.
	Region string `mapstructure:"region"`
	// Prefix is prepended to every object key.
	Prefix string `mapstructure:"prefix"`
	// UseSSL selects https.
	UseSSL bool `mapstructure:"use_ssl"`
	// CreateBucket creates the bucket on startup when missing.
	CreateBucket bool `mapstructure:"create_bucket"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	if c.StatementCacheCapacity > 0 {
		params.Set("statement_cache_capacity", fmt.Sprintf("%d", c.StatementCacheCapacity))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// GRPCAddress returns the gRPC server address.
func (c *ServerConfig) GRPCAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/research-analysis-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Secrets use mapstructure:"-" and never come from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func envKey(parts ...string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.Join(parts, "_"))
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.LLM.OpenAI.APIKey = os.Getenv(envKey("llm", "openai", "api_key"))
	cfg.LLM.Anthropic.APIKey = os.Getenv(envKey("llm", "anthropic", "api_key"))
	cfg.LLM.Gemini.APIKey = os.Getenv(envKey("llm", "gemini", "api_key"))

	cfg.Embedding.APIKey = os.Getenv(envKey("embedding", "api_key"))
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.LLM.Gemini.APIKey
	}

	cfg.PaperSources.SemanticScholar.APIKey = os.Getenv(envKey("paper_sources", "semantic_scholar", "api_key"))
	cfg.PaperSources.OpenAlex.APIKey = os.Getenv(envKey("paper_sources", "openalex", "api_key"))

	cfg.Storage.AccessKey = os.Getenv(envKey("storage", "access_key"))
	cfg.Storage.SecretKey = os.Getenv(envKey("storage", "secret_key"))
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors_allowed_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "research")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "research_analysis")
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "")
	v.SetDefault("database.migration_auto_run", false)
	v.SetDefault("database.statement_cache_capacity", 512)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "research_analysis")

	// Pipeline defaults
	v.SetDefault("pipeline.default_timeout", "30m")
	v.SetDefault("pipeline.max_timeout", "2h")
	v.SetDefault("pipeline.default_max_papers", 50)
	v.SetDefault("pipeline.default_dedup_threshold", 0.92)
	v.SetDefault("pipeline.min_relevance", 0.05)
	v.SetDefault("pipeline.year_from", 0)
	v.SetDefault("pipeline.year_to", 0)
	v.SetDefault("pipeline.summary_concurrency", 4)
	v.SetDefault("pipeline.keyword_count", 20)
	v.SetDefault("pipeline.event_buffer_size", 64)
	v.SetDefault("pipeline.registry_shards", 32)

	// LLM defaults. API keys come from the environment only (see loadSecrets).
	v.SetDefault("llm.provider", "none")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("llm.anthropic.base_url", "")
	v.SetDefault("llm.gemini.model", "gemini-2.5-flash")
	v.SetDefault("llm.gemini.base_url", "")

	// Embedding defaults
	v.SetDefault("embedding.provider", "lexical")
	v.SetDefault("embedding.model", "gemini-embedding-001")
	v.SetDefault("embedding.dimensions", 768)
	v.SetDefault("embedding.batch_size", 32)

	// Paper sources defaults - arXiv
	v.SetDefault("paper_sources.arxiv.enabled", true)
	v.SetDefault("paper_sources.arxiv.base_url", "https://export.arxiv.org/api")
	v.SetDefault("paper_sources.arxiv.timeout", "30s")
	v.SetDefault("paper_sources.arxiv.rate_limit", 0.34) // arXiv asks for one request every 3 seconds
	v.SetDefault("paper_sources.arxiv.max_results", 50)

	// Paper sources defaults - Semantic Scholar
	v.SetDefault("paper_sources.semantic_scholar.enabled", true)
	v.SetDefault("paper_sources.semantic_scholar.base_url", "https://api.semanticscholar.org/graph/v1")
	v.SetDefault("paper_sources.semantic_scholar.timeout", "30s")
	v.SetDefault("paper_sources.semantic_scholar.rate_limit", 1.0)
	v.SetDefault("paper_sources.semantic_scholar.max_results", 50)
	v.SetDefault("paper_sources.semantic_scholar.skip_references", false)

	// Paper sources defaults - OpenAlex
	v.SetDefault("paper_sources.openalex.enabled", true)
	v.SetDefault("paper_sources.openalex.base_url", "https://api.openalex.org")
	v.SetDefault("paper_sources.openalex.timeout", "30s")
	v.SetDefault("paper_sources.openalex.rate_limit", 10.0)
	v.SetDefault("paper_sources.openalex.max_results", 50)
	v.SetDefault("paper_sources.openalex.email", "")

	// Paper sources defaults - arXiv listing scraper (off by default, the Atom API covers the same corpus)
	v.SetDefault("paper_sources.arxiv_listing.enabled", false)
	v.SetDefault("paper_sources.arxiv_listing.base_url", "https://arxiv.org")
	v.SetDefault("paper_sources.arxiv_listing.timeout", "30s")
	v.SetDefault("paper_sources.arxiv_listing.rate_limit", 0.34)
	v.SetDefault("paper_sources.arxiv_listing.max_results", 50)

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.events_topic", "research.analysis.events")
	v.SetDefault("kafka.requests_topic", "research.analysis.requests")
	v.SetDefault("kafka.group_id", "research-analysis-service")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")

	// Storage defaults
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.bucket", "research-reports")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.prefix", "reports/")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.create_bucket", true)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.GRPCPort <= 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.Server.GRPCPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	// Validate database config
	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("invalid database port: %d", c.Database.Port)
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
		}
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Validate pipeline config
	p := c.Pipeline
	if p.DefaultTimeout <= 0 {
		return fmt.Errorf("pipeline default_timeout must be positive")
	}
	if p.MaxTimeout > 0 && p.MaxTimeout < p.DefaultTimeout {
		return fmt.Errorf("pipeline max_timeout (%s) must be >= default_timeout (%s)", p.MaxTimeout, p.DefaultTimeout)
	}
	if p.DefaultMaxPapers <= 0 {
		return fmt.Errorf("pipeline default_max_papers must be positive")
	}
	if p.DefaultDedupThreshold < 0 || p.DefaultDedupThreshold > 1 {
		return fmt.Errorf("pipeline default_dedup_threshold must be between 0 and 1")
	}
	if p.MinRelevance < 0 || p.MinRelevance > 1 {
		return fmt.Errorf("pipeline min_relevance must be between 0 and 1")
	}
	if p.YearFrom > 0 && p.YearTo > 0 && p.YearFrom > p.YearTo {
		return fmt.Errorf("pipeline year_from (%d) must be <= year_to (%d)", p.YearFrom, p.YearTo)
	}

	// Validate that the configured LLM provider has its required API key set.
	switch strings.ToLower(c.LLM.Provider) {
	case "", "none":
	case "openai":
		if c.LLM.OpenAI.APIKey == "" {
			return fmt.Errorf("LLM provider %q requires %s to be set", c.LLM.Provider, envKey("llm", "openai", "api_key"))
		}
	case "anthropic":
		if c.LLM.Anthropic.APIKey == "" {
			return fmt.Errorf("LLM provider %q requires %s to be set", c.LLM.Provider, envKey("llm", "anthropic", "api_key"))
		}
	case "gemini":
		if c.LLM.Gemini.APIKey == "" {
			return fmt.Errorf("LLM provider %q requires %s to be set", c.LLM.Provider, envKey("llm", "gemini", "api_key"))
		}
	default:
		return fmt.Errorf("unsupported LLM provider: %q", c.LLM.Provider)
	}

	switch strings.ToLower(c.Embedding.Provider) {
	case "lexical":
	case "gemini":
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("embedding provider %q requires %s to be set", c.Embedding.Provider, envKey("embedding", "api_key"))
		}
	default:
		return fmt.Errorf("unsupported embedding provider: %q", c.Embedding.Provider)
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required when kafka is enabled")
		}
		if c.Kafka.EventsTopic == "" && c.Kafka.RequestsTopic == "" {
			return fmt.Errorf("kafka needs an events_topic or a requests_topic")
		}
	}

	if c.Storage.Enabled {
		if c.Storage.Endpoint == "" {
			return fmt.Errorf("storage endpoint is required when storage is enabled")
		}
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage bucket is required when storage is enabled")
		}
	}

	return nil
}

// EnabledSources returns the names of the enabled document sources.
func (c *PaperSourcesConfig) EnabledSources() []string {
	var names []string
	for _, s := range []struct {
		name string
		cfg  PaperSourceConfig
	}{
		{"arxiv", c.ArXiv},
		{"semantic_scholar", c.SemanticScholar},
		{"openalex", c.OpenAlex},
		{"arxiv_listing", c.ArXivListing},
	} {
		if s.cfg.Enabled {
			names = append(names, s.name)
		}
	}
	return names
}
