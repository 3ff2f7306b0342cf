// ABOUTME: Anthropic Messages API provider with SSE streaming
// ABOUTME: Forwards content_block_delta text and maps overload/rate-limit error events to transient failures

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/2389/docforge-gateway/internal/sse"
)

const anthropicVersion = "2023-06-01"

// AnthropicOptions configures an Anthropic provider.
type AnthropicOptions struct {
	Name        string
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	HTTPClient  *http.Client
}

// Anthropic streams responses from the Messages API.
type Anthropic struct {
	name        string
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	http        *http.Client
}

type messagesRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type messagesEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(opts AnthropicOptions) (*Anthropic, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("anthropic: base url is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("anthropic: model is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	name := opts.Name
	if name == "" {
		name = "anthropic"
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &Anthropic{
		name:        name,
		baseURL:     baseURL,
		apiKey:      strings.TrimSpace(opts.APIKey),
		model:       opts.Model,
		maxTokens:   maxTokens,
		temperature: opts.Temperature,
		http:        hc,
	}, nil
}

// Name returns the configured provider name.
func (a *Anthropic) Name() string { return a.name }

// Stream posts a streaming message request and forwards text deltas.
func (a *Anthropic) Stream(ctx context.Context, req Request, onDelta func(string) error) error {
	body := messagesRequest{
		Model:       a.model,
		System:      req.System,
		Messages:    []chatMessage{{Role: "user", Content: req.User}},
		MaxTokens:   pickMaxTokens(req, a.maxTokens),
		Temperature: pickTemperature(req, a.temperature),
		Stream:      true,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("anthropic: encoding request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("anthropic: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	if a.apiKey != "" {
		httpReq.Header.Set("x-api-key", a.apiKey)
	}

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return transportError(a.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(a.name, resp.StatusCode, b)
	}

	stopped := false
	err = sse.Read(resp.Body, func(event, data string) error {
		var ev messagesEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return &ProviderError{Provider: a.name, Err: fmt.Errorf("decoding %s event: %w", event, err)}
		}
		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				return onDelta(ev.Delta.Text)
			}
		case "message_stop":
			stopped = true
		case "error":
			return &ProviderError{
				Provider:  a.name,
				Transient: transientErrorType(ev.Error.Type),
				Err:       fmt.Errorf("%s: %s", ev.Error.Type, ev.Error.Message),
			}
		}
		return nil
	})
	if err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) || ctx.Err() != nil {
			return err
		}
		return transportError(a.name, err)
	}
	if !stopped {
		return &ProviderError{Provider: a.name, Transient: true, Err: io.ErrUnexpectedEOF}
	}
	return nil
}

func transientErrorType(t string) bool {
	switch t {
	case "overloaded_error", "rate_limit_error", "api_error", "timeout_error":
		return true
	}
	return false
}
