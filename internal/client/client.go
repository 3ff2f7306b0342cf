// ABOUTME: HTTP client for the docforge gateway API
// ABOUTME: JSON calls for protocols and sessions plus SSE streaming of generation runs

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/2389/docforge-gateway/internal/gateway"
	"github.com/2389/docforge-gateway/internal/generation"
	"github.com/2389/docforge-gateway/internal/session"
	"github.com/2389/docforge-gateway/internal/sse"
	"github.com/2389/docforge-gateway/internal/store"
)

// APIError is a non-2xx response from the gateway.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway error (%d): %s", e.StatusCode, e.Message)
}

// Client talks to a running gateway.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a Client for baseURL. A nil httpClient uses a default client.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  httpClient,
	}
}

// Health returns the body of GET /health.
func (c *Client) Health(ctx context.Context) (string, error) {
	return c.text(ctx, "/health")
}

// Ready returns the body of GET /ready; not-ready is an *APIError.
func (c *Client) Ready(ctx context.Context) (string, error) {
	return c.text(ctx, "/ready")
}

// CreateProtocol registers a protocol, ingesting text when it is non-empty.
func (c *Client) CreateProtocol(ctx context.Context, req gateway.CreateProtocolRequest) (*gateway.CreateProtocolResponse, error) {
	var resp gateway.CreateProtocolResponse
	if err := c.do(ctx, http.MethodPost, "/api/protocols", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListProtocols returns every registered protocol.
func (c *Client) ListProtocols(ctx context.Context) ([]store.Protocol, error) {
	var out []store.Protocol
	if err := c.do(ctx, http.MethodGet, "/api/protocols", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Protocol returns a protocol and its sessions.
func (c *Client) Protocol(ctx context.Context, id string) (*gateway.ProtocolSummaryResponse, error) {
	var resp gateway.ProtocolSummaryResponse
	if err := c.do(ctx, http.MethodGet, "/api/protocols/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteProtocol removes a protocol, its sessions and its vector collection.
func (c *Client) DeleteProtocol(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/protocols/"+url.PathEscape(id), nil, nil)
}

// ProtocolByCollection returns the protocol owning a vector collection.
func (c *Client) ProtocolByCollection(ctx context.Context, collection string) (*store.Protocol, error) {
	var p store.Protocol
	if err := c.do(ctx, http.MethodGet, "/api/collections/"+url.PathEscape(collection), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Diagnostics reports backend reachability and counts.
func (c *Client) Diagnostics(ctx context.Context) (*gateway.Diagnostics, error) {
	var d gateway.Diagnostics
	if err := c.do(ctx, http.MethodGet, "/api/diagnostics", nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Ingest adds text to a protocol's collection.
func (c *Client) Ingest(ctx context.Context, protocolID, text string) (int, error) {
	var resp gateway.IngestResponse
	path := "/api/protocols/" + url.PathEscape(protocolID) + "/documents"
	if err := c.do(ctx, http.MethodPost, path, gateway.IngestRequest{Text: text}, &resp); err != nil {
		return 0, err
	}
	return resp.Chunks, nil
}

// DocumentTypes lists the document templates the gateway knows.
func (c *Client) DocumentTypes(ctx context.Context) ([]gateway.DocumentTypeInfo, error) {
	var out []gateway.DocumentTypeInfo
	if err := c.do(ctx, http.MethodGet, "/api/document-types", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Session returns a session snapshot.
func (c *Client) Session(ctx context.Context, id string) (*session.Snapshot, error) {
	var snap session.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(id), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Approve marks a ready section as approved.
func (c *Client) Approve(ctx context.Context, sessionID, section string) (*session.Section, error) {
	var sec session.Section
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/sections/" + url.PathEscape(section) + "/approve"
	if err := c.do(ctx, http.MethodPost, path, nil, &sec); err != nil {
		return nil, err
	}
	return &sec, nil
}

// Export returns the rendered document in format ("markdown" or "html").
func (c *Client) Export(ctx context.Context, sessionID, format string) ([]byte, error) {
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/export"
	if format != "" {
		path += "?format=" + url.QueryEscape(format)
	}
	resp, err := c.send(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Generate starts a run and calls onEvent for every event until the stream
// ends. It returns the session ID. An error from onEvent stops reading.
func (c *Client) Generate(ctx context.Context, req gateway.GenerateRequest, onEvent func(generation.Event) error) (string, error) {
	return c.stream(ctx, "/api/generate", req, onEvent)
}

// Regenerate regenerates sections of an existing session.
func (c *Client) Regenerate(ctx context.Context, sessionID string, sections []string, onEvent func(generation.Event) error) (string, error) {
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/regenerate"
	return c.stream(ctx, path, gateway.RegenerateRequest{Sections: sections}, onEvent)
}

func (c *Client) stream(ctx context.Context, path string, body any, onEvent func(generation.Event) error) (string, error) {
	resp, err := c.send(ctx, http.MethodPost, path, body, "text/event-stream")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	sessionID := resp.Header.Get("X-Session-ID")
	err = sse.Read(resp.Body, func(_, data string) error {
		var e generation.Event
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return fmt.Errorf("decoding event: %w", err)
		}
		if onEvent == nil {
			return nil
		}
		return onEvent(e)
	})
	if err != nil {
		return sessionID, fmt.Errorf("reading event stream: %w", err)
	}
	return sessionID, nil
}

func (c *Client) text(ctx context.Context, path string) (string, error) {
	resp, err := c.send(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	return string(body), nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	resp, err := c.send(ctx, method, path, in, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// send performs a request and converts non-2xx responses into *APIError.
func (c *Client) send(ctx context.Context, method, path string, in any, accept string) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		return nil, errorFrom(resp)
	}
	return resp, nil
}

// errorFrom extracts the error message from a failed response.
func errorFrom(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}
