// Package config handles configuration loading for docforge-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion. Every omitted field receives a default, then Validate checks
// the result and reports the first problem it finds.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from DOCFORGE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/docforge/gateway.yaml
//  3. ~/.config/docforge/gateway.yaml
//
// # Environment Variable Expansion
//
//	providers:
//	  - name: primary
//	    kind: openai
//	    api_key: "${OPENAI_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
// Retrieval (relevance threshold and result count are tunable):
//
//	retrieval:
//	  backend: qdrant        # qdrant, pgvector, memory
//	  top_k: 10
//	  min_score: 0.3
//	  timeout: "5s"
//	  qdrant:
//	    url: "http://localhost:6333"
//
// Providers are tried in list order:
//
//	providers:
//	  - name: primary
//	    kind: openai
//	    model: gpt-4o-mini
//	    api_key: "${OPENAI_API_KEY}"
//	  - name: fallback
//	    kind: anthropic
//	    model: claude-sonnet-4-20250514
//	    api_key: "${ANTHROPIC_API_KEY}"
//
// Retry and failover:
//
//	retry:
//	  max_attempts: 3
//	  initial_backoff: "500ms"
//	  max_backoff: "8s"
//	  multiplier: 2
//	  jitter: 0.2
//
// Generation:
//
//	generation:
//	  max_concurrency: 4
//	  section_timeout: "3m"
//	  min_content_chars: 40
//
// Zero values mean "use the default", so min_score, temperature and the
// numeric limits cannot be configured to exactly zero.
package config
