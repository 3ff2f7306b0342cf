// ABOUTME: Vertex AI (Gemini) provider using the genai streaming iterator
// ABOUTME: gRPC Unavailable/ResourceExhausted/DeadlineExceeded are treated as transient

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// VertexOptions configures a Vertex AI provider.
type VertexOptions struct {
	Name        string
	Project     string
	Location    string
	Model       string
	MaxTokens   int
	Temperature float64
	Logger      *slog.Logger
}

// Vertex streams Gemini responses through Vertex AI.
type Vertex struct {
	name        string
	client      *genai.Client
	model       string
	maxTokens   int
	temperature float64
	logger      *slog.Logger
}

// NewVertex creates a Vertex AI client using application default credentials.
func NewVertex(ctx context.Context, opts VertexOptions) (*Vertex, error) {
	if opts.Project == "" || opts.Location == "" {
		return nil, errors.New("vertex: project and location are required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("vertex: model is required")
	}
	client, err := genai.NewClient(ctx, opts.Project, opts.Location)
	if err != nil {
		return nil, fmt.Errorf("vertex: genai.NewClient: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := opts.Name
	if name == "" {
		name = "vertex"
	}
	return &Vertex{
		name:        name,
		client:      client,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		logger:      logger.With("component", "vertex", "provider", name),
	}, nil
}

// Name returns the configured provider name.
func (v *Vertex) Name() string { return v.name }

// Stream runs GenerateContentStream and forwards text parts as they arrive.
func (v *Vertex) Stream(ctx context.Context, req Request, onDelta func(string) error) error {
	model := v.client.GenerativeModel(v.model)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr(float32(pickTemperature(req, v.temperature))),
	}
	if n := pickMaxTokens(req, v.maxTokens); n > 0 {
		model.GenerationConfig.MaxOutputTokens = genai.Ptr(int32(n))
	}

	iter := model.GenerateContentStream(ctx, genai.Text(req.User))
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return v.classify(ctx, err)
		}
		for _, c := range resp.Candidates {
			if c.Content == nil {
				continue
			}
			for _, part := range c.Content.Parts {
				txt, ok := part.(genai.Text)
				if !ok || txt == "" {
					continue
				}
				if err := onDelta(string(txt)); err != nil {
					return err
				}
			}
		}
	}
}

// Close releases the underlying client.
func (v *Vertex) Close() error {
	return v.client.Close()
}

func (v *Vertex) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
		return &ProviderError{Provider: v.name, Transient: true, Err: err}
	case codes.Unknown:
		return &ProviderError{Provider: v.name, Transient: IsTransient(err), Err: err}
	default:
		return &ProviderError{Provider: v.name, Err: err}
	}
}
