// ABOUTME: Configuration loading and parsing for docforge-gateway
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing and defaults

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete docforge-gateway configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Providers  []ProviderConfig `yaml:"providers"`
	Retry      RetryConfig      `yaml:"retry"`
	Generation GenerationConfig `yaml:"generation"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	Events     EventsConfig     `yaml:"events"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Templates  TemplatesConfig  `yaml:"templates"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"` // gRPC health service; empty disables it
}

// DatabaseConfig holds the SQLite registry location
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string        `yaml:"level"`
	Format string        `yaml:"format"`
	File   LogFileConfig `yaml:"file"`
}

// LogFileConfig enables a rotating JSON log file alongside console output
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// RetrievalConfig controls the context retriever and its vector store backend
type RetrievalConfig struct {
	Backend  string  `yaml:"backend"` // qdrant, pgvector, memory
	TopK     int     `yaml:"top_k"`
	MinScore float64 `yaml:"min_score"`

	Timeout           time.Duration `yaml:"-"`
	EmbeddingCacheTTL time.Duration `yaml:"-"`

	TimeoutRaw           string `yaml:"timeout"`
	EmbeddingCacheTTLRaw string `yaml:"embedding_cache_ttl"`

	Qdrant   QdrantConfig   `yaml:"qdrant"`
	PGVector PGVectorConfig `yaml:"pgvector"`
}

// QdrantConfig points at a Qdrant REST endpoint
type QdrantConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// PGVectorConfig points at a Postgres database with the pgvector extension
type PGVectorConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// EmbeddingsConfig configures the query embedder
type EmbeddingsConfig struct {
	Kind       string `yaml:"kind"` // openai, hash
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// ProviderConfig describes one language-model backend. Priority follows list order.
type ProviderConfig struct {
	Name        string  `yaml:"name"`
	Kind        string  `yaml:"kind"` // openai, anthropic, vertex, mock
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	Project     string  `yaml:"project"`  // vertex only
	Location    string  `yaml:"location"` // vertex only

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// RetryConfig controls per-provider retries before failover
type RetryConfig struct {
	MaxAttempts int     `yaml:"max_attempts"`
	Multiplier  float64 `yaml:"multiplier"`
	Jitter      float64 `yaml:"jitter"`

	InitialBackoff time.Duration `yaml:"-"`
	MaxBackoff     time.Duration `yaml:"-"`

	InitialBackoffRaw string `yaml:"initial_backoff"`
	MaxBackoffRaw     string `yaml:"max_backoff"`
}

// GenerationConfig controls section generation and fan-out
type GenerationConfig struct {
	MaxConcurrency  int `yaml:"max_concurrency"`
	MinContentChars int `yaml:"min_content_chars"`
	ContextExcerpts int `yaml:"context_excerpts"`
	MaxContextChars int `yaml:"max_context_chars"`

	SectionTimeout    time.Duration `yaml:"-"`
	SectionTimeoutRaw string        `yaml:"section_timeout"`
}

// SessionsConfig controls section leases
type SessionsConfig struct {
	LockBackend string `yaml:"lock_backend"` // memory, redis
	RedisURL    string `yaml:"redis_url"`

	LeaseTTL    time.Duration `yaml:"-"`
	LeaseTTLRaw string        `yaml:"lease_ttl"`
}

// EventsConfig configures publication of terminal generation events
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// TracingConfig configures the OTLP trace exporter
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// TemplatesConfig points at an optional TOML catalog that overrides the built-in one
type TemplatesConfig struct {
	Path string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and omitted fields get defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8090"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.File.Path != "" {
		if c.Logging.File.MaxSizeMB == 0 {
			c.Logging.File.MaxSizeMB = 100
		}
		if c.Logging.File.MaxBackups == 0 {
			c.Logging.File.MaxBackups = 5
		}
		if c.Logging.File.MaxAgeDays == 0 {
			c.Logging.File.MaxAgeDays = 28
		}
	}

	r := &c.Retrieval
	if r.Backend == "" {
		r.Backend = "memory"
	}
	if r.TopK == 0 {
		r.TopK = 10
	}
	if r.MinScore == 0 {
		r.MinScore = 0.3
	}
	if r.Timeout == 0 {
		r.Timeout = 5 * time.Second
	}
	if r.EmbeddingCacheTTL == 0 {
		r.EmbeddingCacheTTL = time.Hour
	}
	if r.PGVector.Table == "" {
		r.PGVector.Table = "protocol_chunks"
	}

	e := &c.Embeddings
	if e.Kind == "" {
		e.Kind = "hash"
	}
	if e.BaseURL == "" && e.Kind == "openai" {
		e.BaseURL = "https://api.openai.com/v1"
	}
	if e.Model == "" {
		e.Model = "text-embedding-3-small"
	}
	if e.Dimensions == 0 {
		e.Dimensions = 1536
	}

	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Name == "" {
			p.Name = p.Kind
		}
		if p.BaseURL == "" {
			switch p.Kind {
			case "openai":
				p.BaseURL = "https://api.openai.com/v1"
			case "anthropic":
				p.BaseURL = "https://api.anthropic.com"
			}
		}
		if p.MaxTokens == 0 {
			p.MaxTokens = 8192
		}
		if p.Temperature == 0 {
			p.Temperature = 0.1
		}
		if p.Timeout == 0 {
			p.Timeout = 60 * time.Second
		}
		if p.Kind == "vertex" && p.Location == "" {
			p.Location = "us-central1"
		}
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = 2
	}
	if c.Retry.InitialBackoff == 0 {
		c.Retry.InitialBackoff = 500 * time.Millisecond
	}
	if c.Retry.MaxBackoff == 0 {
		c.Retry.MaxBackoff = 8 * time.Second
	}

	g := &c.Generation
	if g.MaxConcurrency == 0 {
		g.MaxConcurrency = 4
	}
	if g.MinContentChars == 0 {
		g.MinContentChars = 40
	}
	if g.ContextExcerpts == 0 {
		g.ContextExcerpts = 5
	}
	if g.MaxContextChars == 0 {
		g.MaxContextChars = 12000
	}
	if g.SectionTimeout == 0 {
		g.SectionTimeout = 3 * time.Minute
	}

	if c.Sessions.LockBackend == "" {
		c.Sessions.LockBackend = "memory"
	}
	if c.Sessions.LeaseTTL == 0 {
		c.Sessions.LeaseTTL = 10 * time.Minute
	}

	if c.Events.SubjectPrefix == "" {
		c.Events.SubjectPrefix = "docforge"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "docforge-gateway"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	switch c.Retrieval.Backend {
	case "memory":
	case "qdrant":
		if c.Retrieval.Qdrant.URL == "" {
			return fmt.Errorf("retrieval.qdrant.url is required when backend is qdrant")
		}
	case "pgvector":
		if c.Retrieval.PGVector.DSN == "" {
			return fmt.Errorf("retrieval.pgvector.dsn is required when backend is pgvector")
		}
	default:
		return fmt.Errorf("retrieval.backend must be qdrant, pgvector or memory, got %q", c.Retrieval.Backend)
	}
	if c.Retrieval.MinScore < 0 || c.Retrieval.MinScore > 1 {
		return fmt.Errorf("retrieval.min_score must be within [0, 1], got %v", c.Retrieval.MinScore)
	}
	if c.Retrieval.TopK < 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}

	switch c.Embeddings.Kind {
	case "hash":
	case "openai":
		if c.Embeddings.APIKey == "" {
			return fmt.Errorf("embeddings.api_key is required when kind is openai")
		}
	default:
		return fmt.Errorf("embeddings.kind must be openai or hash, got %q", c.Embeddings.Kind)
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if seen[p.Name] {
			return fmt.Errorf("providers[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true

		switch p.Kind {
		case "openai", "anthropic":
			if p.APIKey == "" {
				return fmt.Errorf("providers[%d] (%s): api_key is required", i, p.Name)
			}
			if p.Model == "" {
				return fmt.Errorf("providers[%d] (%s): model is required", i, p.Name)
			}
		case "vertex":
			if p.Project == "" {
				return fmt.Errorf("providers[%d] (%s): project is required", i, p.Name)
			}
			if p.Model == "" {
				return fmt.Errorf("providers[%d] (%s): model is required", i, p.Name)
			}
		case "mock":
		default:
			return fmt.Errorf("providers[%d]: unknown kind %q", i, p.Kind)
		}
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter >= 1 {
		return fmt.Errorf("retry.jitter must be within [0, 1), got %v", c.Retry.Jitter)
	}
	if c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		return fmt.Errorf("retry.max_backoff must not be shorter than retry.initial_backoff")
	}

	if c.Generation.MaxConcurrency < 1 {
		return fmt.Errorf("generation.max_concurrency must be at least 1, got %d", c.Generation.MaxConcurrency)
	}

	switch c.Sessions.LockBackend {
	case "memory":
	case "redis":
		if c.Sessions.RedisURL == "" {
			return fmt.Errorf("sessions.redis_url is required when lock_backend is redis")
		}
	default:
		return fmt.Errorf("sessions.lock_backend must be memory or redis, got %q", c.Sessions.LockBackend)
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"retrieval.timeout", cfg.Retrieval.TimeoutRaw, &cfg.Retrieval.Timeout},
		{"retrieval.embedding_cache_ttl", cfg.Retrieval.EmbeddingCacheTTLRaw, &cfg.Retrieval.EmbeddingCacheTTL},
		{"retry.initial_backoff", cfg.Retry.InitialBackoffRaw, &cfg.Retry.InitialBackoff},
		{"retry.max_backoff", cfg.Retry.MaxBackoffRaw, &cfg.Retry.MaxBackoff},
		{"generation.section_timeout", cfg.Generation.SectionTimeoutRaw, &cfg.Generation.SectionTimeout},
		{"sessions.lease_ttl", cfg.Sessions.LeaseTTLRaw, &cfg.Sessions.LeaseTTL},
	}
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		fields = append(fields, struct {
			name string
			raw  string
			dst  *time.Duration
		}{fmt.Sprintf("providers[%d].timeout", i), p.TimeoutRaw, &p.Timeout})
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
