// ABOUTME: Provider capability shared by every language-model backend
// ABOUTME: A provider streams text increments for one request through a callback

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/2389/docforge-gateway/internal/config"
)

// Request is a provider-agnostic generation request.
type Request struct {
	System      string
	User        string
	MaxTokens   int      // zero means the provider's configured default
	Temperature *float64 // nil means the provider's configured default
}

// Provider streams one response. Implementations call onDelta for every
// non-empty text increment in order and return nil once the response is
// complete. An error from onDelta aborts the stream and is returned as is.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request, onDelta func(text string) error) error
}

// FromConfig builds the provider described by cfg.
func FromConfig(ctx context.Context, cfg config.ProviderConfig, httpClient *http.Client, logger *slog.Logger) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch cfg.Kind {
	case "openai":
		p, err = NewOpenAI(OpenAIOptions{
			Name:        cfg.Name,
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			HTTPClient:  httpClient,
		})
	case "anthropic":
		p, err = NewAnthropic(AnthropicOptions{
			Name:        cfg.Name,
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			HTTPClient:  httpClient,
		})
	case "vertex":
		p, err = NewVertex(ctx, VertexOptions{
			Name:        cfg.Name,
			Project:     cfg.Project,
			Location:    cfg.Location,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Logger:      logger,
		})
	case "mock":
		p = &Mock{ProviderName: cfg.Name, ChunkSize: 16}
	default:
		return nil, fmt.Errorf("provider %q: unknown kind %q", cfg.Name, cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func pickMaxTokens(req Request, fallback int) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return fallback
}

func pickTemperature(req Request, fallback float64) float64 {
	if req.Temperature != nil {
		return *req.Temperature
	}
	return fallback
}
