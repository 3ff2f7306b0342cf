// ABOUTME: Tests for the HTTP streaming providers and embedding clients against httptest servers
// ABOUTME: Covers request shape, SSE decoding, status classification and truncated streams

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/docforge-gateway/internal/config"
)

func streamText(t *testing.T, p Provider, req Request) (string, error) {
	t.Helper()
	var b strings.Builder
	err := p.Stream(context.Background(), req, func(s string) error {
		b.WriteString(s)
		return nil
	})
	return b.String(), err
}

func TestOpenAI_Stream(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"You may \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"feel tired.\"},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p, err := NewOpenAI(OpenAIOptions{Name: "primary", BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Model: "gpt-4o", MaxTokens: 512, Temperature: 0.1})
	require.NoError(t, err)

	temp := 0.0
	text, err := streamText(t, p, Request{System: "be precise", User: "Generate the Risks section.", Temperature: &temp})
	require.NoError(t, err)
	assert.Equal(t, "You may feel tired.", text)

	assert.Equal(t, "gpt-4o", got.Model)
	assert.True(t, got.Stream)
	assert.Equal(t, 512, got.MaxTokens)
	assert.Equal(t, 0.0, got.Temperature)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, chatMessage{Role: "system", Content: "be precise"}, got.Messages[0])
	assert.Equal(t, "user", got.Messages[1].Role)
}

func TestOpenAI_StatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, `{"error":{"message":"nope","type":"test_error"}}`)
			}))
			defer srv.Close()

			p, err := NewOpenAI(OpenAIOptions{BaseURL: srv.URL, Model: "m"})
			require.NoError(t, err)
			_, err = streamText(t, p, Request{User: "x"})

			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.status, pe.StatusCode)
			assert.Equal(t, tc.transient, pe.Transient)
			assert.Contains(t, pe.Error(), "test_error: nope")
		})
	}
}

func TestOpenAI_TruncatedStreamIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"half\"}}]}\n\n")
	}))
	defer srv.Close()

	p, err := NewOpenAI(OpenAIOptions{BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)
	text, err := streamText(t, p, Request{User: "x"})
	assert.Equal(t, "half", text)
	assert.True(t, IsTransient(err))
}

func TestAnthropic_Stream(t *testing.T) {
	var got messagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\"}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Benefits \"}}\n\n")
		fmt.Fprint(w, "event: ping\ndata: {\"type\":\"ping\"}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"are uncertain.\"}}\n\n")
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	p, err := NewAnthropic(AnthropicOptions{Name: "fallback", BaseURL: srv.URL, APIKey: "key", Model: "claude-sonnet-4-5"})
	require.NoError(t, err)

	text, err := streamText(t, p, Request{System: "sys", User: "Generate the Benefits section."})
	require.NoError(t, err)
	assert.Equal(t, "Benefits are uncertain.", text)
	assert.Equal(t, "sys", got.System)
	assert.Equal(t, 8192, got.MaxTokens)
	assert.True(t, got.Stream)
	assert.Equal(t, "fallback", p.Name())
}

func TestAnthropic_OverloadedEventIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n")
	}))
	defer srv.Close()

	p, err := NewAnthropic(AnthropicOptions{BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)
	_, err = streamText(t, p, Request{User: "x"})

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Transient)
	assert.Contains(t, err.Error(), "overloaded_error")
}

func TestAnthropic_Status529IsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
	}))
	defer srv.Close()

	p, err := NewAnthropic(AnthropicOptions{BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)
	_, err = streamText(t, p, Request{User: "x"})
	assert.True(t, IsTransient(err))
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		var req embeddingsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"a", "b"}, req.Input)
		fmt.Fprint(w, `{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`)
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(srv.URL, "k", "text-embedding-3-small", 0, nil)
	require.NoError(t, err)
	vectors, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vectors)
}

func TestHashEmbedder(t *testing.T) {
	h := NewHashEmbedder(64)
	vectors, err := h.Embed(context.Background(), []string{
		"Risks and side effects of the study drug",
		"risks, side effects; study drug!",
		"",
	})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Len(t, vectors[0], 64)

	again, err := h.Embed(context.Background(), []string{"Risks and side effects of the study drug"})
	require.NoError(t, err)
	assert.Equal(t, vectors[0], again[0])

	var dot float64
	for i := range vectors[0] {
		dot += float64(vectors[0][i]) * float64(vectors[1][i])
	}
	assert.Greater(t, dot, 0.7)
	for _, x := range vectors[2] {
		assert.Zero(t, x)
	}
}

func TestFromConfig(t *testing.T) {
	p, err := FromConfig(context.Background(), config.ProviderConfig{Name: "local", Kind: "mock"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "local", p.Name())

	p, err = FromConfig(context.Background(), config.ProviderConfig{Name: "oa", Kind: "openai", BaseURL: "http://localhost", Model: "m"}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, p)

	_, err = FromConfig(context.Background(), config.ProviderConfig{Name: "oa", Kind: "openai"}, nil, nil)
	assert.Error(t, err)

	_, err = FromConfig(context.Background(), config.ProviderConfig{Name: "x", Kind: "cohere"}, nil, nil)
	assert.ErrorContains(t, err, "unknown kind")
}
