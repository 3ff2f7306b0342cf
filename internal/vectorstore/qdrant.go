// ABOUTME: Qdrant REST adapter for similarity search over protocol chunk collections
// ABOUTME: Uses POST /collections/{name}/points/search and maps payload text/chunk_index to excerpts

package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/docforge-gateway/internal/retrieval"
)

const maxErrorBodyBytes = 1024

// pointIDNamespace makes point IDs deterministic per (collection, chunk) so re-ingesting overwrites.
var pointIDNamespace = uuid.MustParse("6f1c2f4e-8d0a-4b7e-9a53-2c1d5e7f9b10")

// ErrCollectionNotFound is returned when the protocol's collection does not exist.
var ErrCollectionNotFound = errors.New("collection not found")

// APIError is a non-2xx response from Qdrant.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("qdrant: status=%d", e.StatusCode)
	}
	return fmt.Sprintf("qdrant: status=%d body=%s", e.StatusCode, e.Body)
}

// Qdrant searches a Qdrant server over its REST API.
type Qdrant struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type qdrantPoint struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

type qdrantSearchRequest struct {
	Vector         []float32 `json:"vector"`
	Limit          int       `json:"limit"`
	WithPayload    bool      `json:"with_payload"`
	ScoreThreshold *float64  `json:"score_threshold,omitempty"`
}

// NewQdrant creates a Qdrant adapter. A nil httpClient uses a client with a 30s timeout.
func NewQdrant(baseURL, apiKey string, httpClient *http.Client, logger *slog.Logger) (*Qdrant, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("qdrant: url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("qdrant: invalid url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Qdrant{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    httpClient,
		logger:  logger.With("component", "qdrant"),
	}, nil
}

// Search returns up to topK points scoring at least minScore.
func (q *Qdrant) Search(ctx context.Context, collection string, vector []float32, topK int, minScore float64) ([]retrieval.Excerpt, error) {
	req := qdrantSearchRequest{
		Vector:      vector,
		Limit:       topK,
		WithPayload: true,
	}
	if minScore > 0 {
		req.ScoreThreshold = &minScore
	}

	var points []qdrantPoint
	path := "/collections/" + url.PathEscape(collection) + "/points/search"
	if err := q.doJSON(ctx, http.MethodPost, path, req, &points); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
		}
		return nil, err
	}

	excerpts := make([]retrieval.Excerpt, 0, len(points))
	for _, p := range points {
		text := payloadString(p.Payload, "text", "content")
		if text == "" {
			continue
		}
		excerpts = append(excerpts, retrieval.Excerpt{
			Text:  text,
			Score: p.Score,
			Source: retrieval.Source{
				Collection: collection,
				ChunkIndex: payloadInt(p.Payload, "chunk_index"),
				PointID:    decodePointID(p.ID),
			},
		})
	}
	q.logger.Debug("search complete", "collection", collection, "points", len(points), "excerpts", len(excerpts))
	return excerpts, nil
}

type qdrantUpsertRequest struct {
	Points []qdrantUpsertPoint `json:"points"`
}

type qdrantUpsertPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// Insert upserts one chunk into collection and waits for it to be indexed.
func (q *Qdrant) Insert(ctx context.Context, collection string, chunkIndex int, text string, vector []float32) error {
	req := qdrantUpsertRequest{Points: []qdrantUpsertPoint{{
		ID:     uuid.NewSHA1(pointIDNamespace, []byte(collection+"/"+strconv.Itoa(chunkIndex))).String(),
		Vector: vector,
		Payload: map[string]any{
			"text":        text,
			"chunk_index": chunkIndex,
		},
	}}}
	path := "/collections/" + url.PathEscape(collection) + "/points?wait=true"
	return q.doJSON(ctx, http.MethodPut, path, req, nil)
}

// DeleteCollection drops collection. A missing collection is ignored.
func (q *Qdrant) DeleteCollection(ctx context.Context, collection string) error {
	err := q.doJSON(ctx, http.MethodDelete, "/collections/"+url.PathEscape(collection), nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	q.logger.Info("collection deleted", "collection", collection)
	return nil
}

type qdrantCollections struct {
	Collections []struct {
		Name string `json:"name"`
	} `json:"collections"`
}

// Collections lists the server's collections.
func (q *Qdrant) Collections(ctx context.Context) ([]string, error) {
	var out qdrantCollections
	if err := q.doJSON(ctx, http.MethodGet, "/collections", nil, &out); err != nil {
		return nil, err
	}
	names := make([]string, len(out.Collections))
	for i, c := range out.Collections {
		names[i] = c.Name
	}
	return names, nil
}

// Close releases idle connections.
func (q *Qdrant) Close() error {
	q.http.CloseIdleConnections()
	return nil
}

func (q *Qdrant) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return fmt.Errorf("qdrant: encoding request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, &body)
	if err != nil {
		return fmt.Errorf("qdrant: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.http.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var env qdrantEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("qdrant: decoding response: %w", err)
	}
	if status := envelopeStatus(env.Status); status != "" && status != "ok" {
		return fmt.Errorf("qdrant: status %q", status)
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("qdrant: decoding result: %w", err)
	}
	return nil
}

// envelopeStatus handles both the string form ("ok") and the object form ({"error": "..."}).
func envelopeStatus(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Error != "" {
		return obj.Error
	}
	return string(raw)
}

func decodePointID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return string(raw)
}

func payloadString(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := payload[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func payloadInt(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}
