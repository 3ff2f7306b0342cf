// ABOUTME: OpenAI-compatible chat completions provider with SSE streaming
// ABOUTME: Works against api.openai.com or any server exposing /chat/completions

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

const maxErrorBody = 4096

// OpenAIOptions configures an OpenAI-compatible provider.
type OpenAIOptions struct {
	Name        string
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	HTTPClient  *http.Client
}

// OpenAI streams chat completions.
type OpenAI struct {
	name        string
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	http        *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOpenAI creates an OpenAI-compatible provider.
func NewOpenAI(opts OpenAIOptions) (*OpenAI, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("openai: base url is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("openai: model is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	name := opts.Name
	if name == "" {
		name = "openai"
	}
	return &OpenAI{
		name:        name,
		baseURL:     baseURL,
		apiKey:      strings.TrimSpace(opts.APIKey),
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		http:        hc,
	}, nil
}

// Name returns the configured provider name.
func (o *OpenAI) Name() string { return o.name }

// Stream posts a streaming chat completion and forwards content deltas.
func (o *OpenAI) Stream(ctx context.Context, req Request, onDelta func(string) error) error {
	body := chatRequest{
		Model:       o.model,
		MaxTokens:   pickMaxTokens(req, o.maxTokens),
		Temperature: pickTemperature(req, o.temperature),
		Stream:      true,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.User})

	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("openai: encoding request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("openai: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.http.Do(httpReq)
	if err != nil {
		return transportError(o.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(o.name, resp.StatusCode, b)
	}

	done := false
	err = sse.Read(resp.Body, func(_ string, data string) error {
		if done {
			return nil
		}
		if strings.TrimSpace(data) == "[DONE]" {
			done = true
			return nil
		}
		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return &ProviderError{Provider: o.name, Err: fmt.Errorf("decoding chunk: %w", err)}
		}
		if chunk.Error != nil {
			return &ProviderError{Provider: o.name, Transient: true, Err: errors.New(chunk.Error.Message)}
		}
		for _, c := range chunk.Choices {
			if c.Delta.Content == "" {
				continue
			}
			if err := onDelta(c.Delta.Content); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) || ctx.Err() != nil {
			return err
		}
		return transportError(o.name, err)
	}
	if !done {
		return &ProviderError{Provider: o.name, Transient: true, Err: io.ErrUnexpectedEOF}
	}
	return nil
}
