// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults, duration parsing and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalConfig = `
database:
  path: "./test.db"
providers:
  - name: scripted
    kind: mock
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8090"
  grpc_addr: "0.0.0.0:50051"

database:
  path: "./test.db"

logging:
  level: "debug"
  format: "json"

retrieval:
  backend: qdrant
  top_k: 8
  min_score: 0.45
  timeout: "2s"
  qdrant:
    url: "http://qdrant:6333"

providers:
  - name: primary
    kind: openai
    model: gpt-4o-mini
    api_key: sk-test
    timeout: "30s"
  - name: fallback
    kind: anthropic
    model: claude-sonnet-4-20250514
    api_key: ant-test

retry:
  max_attempts: 5
  initial_backoff: "250ms"
  max_backoff: "4s"

generation:
  max_concurrency: 2
  section_timeout: "90s"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8090" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8090")
	}
	if cfg.Retrieval.Backend != "qdrant" {
		t.Errorf("Retrieval.Backend = %q, want %q", cfg.Retrieval.Backend, "qdrant")
	}
	if cfg.Retrieval.TopK != 8 {
		t.Errorf("Retrieval.TopK = %d, want 8", cfg.Retrieval.TopK)
	}
	if cfg.Retrieval.MinScore != 0.45 {
		t.Errorf("Retrieval.MinScore = %v, want 0.45", cfg.Retrieval.MinScore)
	}
	if cfg.Retrieval.Timeout != 2*time.Second {
		t.Errorf("Retrieval.Timeout = %v, want 2s", cfg.Retrieval.Timeout)
	}
	if len(cfg.Providers) != 2 {
		t.Fatalf("len(Providers) = %d, want 2", len(cfg.Providers))
	}
	if cfg.Providers[0].Timeout != 30*time.Second {
		t.Errorf("Providers[0].Timeout = %v, want 30s", cfg.Providers[0].Timeout)
	}
	if cfg.Providers[1].BaseURL != "https://api.anthropic.com" {
		t.Errorf("Providers[1].BaseURL = %q, want default anthropic URL", cfg.Providers[1].BaseURL)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("Retry.MaxAttempts = %d, want 5", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.InitialBackoff != 250*time.Millisecond {
		t.Errorf("Retry.InitialBackoff = %v, want 250ms", cfg.Retry.InitialBackoff)
	}
	if cfg.Generation.MaxConcurrency != 2 {
		t.Errorf("Generation.MaxConcurrency = %d, want 2", cfg.Generation.MaxConcurrency)
	}
	if cfg.Generation.SectionTimeout != 90*time.Second {
		t.Errorf("Generation.SectionTimeout = %v, want 90s", cfg.Generation.SectionTimeout)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Retrieval.Backend != "memory" {
		t.Errorf("Retrieval.Backend = %q, want memory", cfg.Retrieval.Backend)
	}
	if cfg.Retrieval.TopK != 10 {
		t.Errorf("Retrieval.TopK = %d, want 10", cfg.Retrieval.TopK)
	}
	if cfg.Retrieval.MinScore != 0.3 {
		t.Errorf("Retrieval.MinScore = %v, want 0.3", cfg.Retrieval.MinScore)
	}
	if cfg.Providers[0].MaxTokens != 8192 {
		t.Errorf("Providers[0].MaxTokens = %d, want 8192", cfg.Providers[0].MaxTokens)
	}
	if cfg.Providers[0].Temperature != 0.1 {
		t.Errorf("Providers[0].Temperature = %v, want 0.1", cfg.Providers[0].Temperature)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Retry.MaxAttempts = %d, want 3", cfg.Retry.MaxAttempts)
	}
	if cfg.Generation.ContextExcerpts != 5 {
		t.Errorf("Generation.ContextExcerpts = %d, want 5", cfg.Generation.ContextExcerpts)
	}
	if cfg.Sessions.LockBackend != "memory" {
		t.Errorf("Sessions.LockBackend = %q, want memory", cfg.Sessions.LockBackend)
	}
	if cfg.Events.SubjectPrefix != "docforge" {
		t.Errorf("Events.SubjectPrefix = %q, want docforge", cfg.Events.SubjectPrefix)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("DOCFORGE_TEST_OPENAI_KEY", "sk-from-env")

	cfg, err := Load(writeConfig(t, `
database:
  path: "./test.db"
providers:
  - name: primary
    kind: openai
    model: gpt-4o-mini
    api_key: "${DOCFORGE_TEST_OPENAI_KEY}"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Providers[0].APIKey != "sk-from-env" {
		t.Errorf("Providers[0].APIKey = %q, want %q", cfg.Providers[0].APIKey, "sk-from-env")
	}
}

func TestLoad_UnsetEnvVarFailsValidation(t *testing.T) {
	_, err := Load(writeConfig(t, `
database:
  path: "./test.db"
providers:
  - name: primary
    kind: openai
    model: gpt-4o-mini
    api_key: "${DOCFORGE_TEST_DEFINITELY_UNSET}"
`))
	if err == nil {
		t.Fatal("Load() should fail when the api key expands to empty")
	}
	if !strings.Contains(err.Error(), "api_key is required") {
		t.Errorf("error = %v, want api_key message", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() should fail for a missing file")
	}
	if !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("error = %v, want reading config file", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "database: [unclosed"))
	if err == nil {
		t.Fatal("Load() should fail for invalid YAML")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
retrieval:
  timeout: "soon"
`))
	if err == nil {
		t.Fatal("Load() should fail for an invalid duration")
	}
	if !strings.Contains(err.Error(), "retrieval.timeout") {
		t.Errorf("error = %v, want it to name retrieval.timeout", err)
	}
}

func TestLoad_InvalidProviderDuration(t *testing.T) {
	_, err := Load(writeConfig(t, `
database:
  path: "./test.db"
providers:
  - name: scripted
    kind: mock
    timeout: "forever"
`))
	if err == nil {
		t.Fatal("Load() should fail for an invalid provider timeout")
	}
	if !strings.Contains(err.Error(), "providers[0].timeout") {
		t.Errorf("error = %v, want it to name providers[0].timeout", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing database", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"no providers", func(c *Config) { c.Providers = nil }, "at least one provider"},
		{"duplicate provider", func(c *Config) {
			c.Providers = append(c.Providers, c.Providers[0])
		}, "duplicate name"},
		{"unknown provider kind", func(c *Config) { c.Providers[0].Kind = "carrier-pigeon" }, "unknown kind"},
		{"vertex without project", func(c *Config) {
			c.Providers[0].Kind = "vertex"
			c.Providers[0].Model = "gemini-1.5-pro"
		}, "project is required"},
		{"qdrant without url", func(c *Config) { c.Retrieval.Backend = "qdrant" }, "retrieval.qdrant.url"},
		{"pgvector without dsn", func(c *Config) { c.Retrieval.Backend = "pgvector" }, "retrieval.pgvector.dsn"},
		{"unknown backend", func(c *Config) { c.Retrieval.Backend = "faiss" }, "retrieval.backend"},
		{"threshold out of range", func(c *Config) { c.Retrieval.MinScore = 1.5 }, "min_score"},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "max_attempts"},
		{"jitter out of range", func(c *Config) { c.Retry.Jitter = 1 }, "jitter"},
		{"backoff inverted", func(c *Config) { c.Retry.MaxBackoff = time.Millisecond }, "max_backoff"},
		{"redis without url", func(c *Config) { c.Sessions.LockBackend = "redis" }, "redis_url"},
		{"tracing without endpoint", func(c *Config) { c.Tracing.Enabled = true }, "tracing.endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(minimalConfig))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			tt.mutate(cfg)

			err = cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("DOCFORGE_TEST_A", "alpha")
	t.Setenv("DOCFORGE_TEST_B", "beta")

	tests := []struct {
		input string
		want  string
	}{
		{"${DOCFORGE_TEST_A}", "alpha"},
		{"${DOCFORGE_TEST_A}-${DOCFORGE_TEST_B}", "alpha-beta"},
		{"no vars here", "no vars here"},
		{"${DOCFORGE_TEST_UNSET_VALUE}", ""},
	}

	for _, tt := range tests {
		if got := expandEnvVars(tt.input); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
