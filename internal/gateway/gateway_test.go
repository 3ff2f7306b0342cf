// ABOUTME: Tests for the HTTP API: protocols, streaming generation, approval, export and error mapping
// ABOUTME: Services are assembled from in-memory stores and scripted providers

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/docforge-gateway/internal/config"
	"github.com/2389/docforge-gateway/internal/generation"
	"github.com/2389/docforge-gateway/internal/llm"
	"github.com/2389/docforge-gateway/internal/notify"
	"github.com/2389/docforge-gateway/internal/retrieval"
	"github.com/2389/docforge-gateway/internal/session"
	"github.com/2389/docforge-gateway/internal/sse"
	"github.com/2389/docforge-gateway/internal/store"
	"github.com/2389/docforge-gateway/internal/templates"
	"github.com/2389/docforge-gateway/internal/vectorstore"
)

const protocolText = `This is a randomized, double-blind study of Example Drug in adults with
moderate asthma. Participants will attend eight clinic visits over twelve weeks.

Eligible participants are aged 18 to 65 and have used an inhaler for at least
one year. Pregnant women are excluded.

Risks include headache, nausea and mild throat irritation. Participants may
benefit from improved asthma control.`

func newTestServices(t *testing.T, providers ...llm.Provider) *Services {
	t.Helper()

	ms := store.NewMockStore()
	vectors := vectorstore.NewMemory()
	embedder := llm.NewHashEmbedder(64)
	sessions := session.NewStore(session.Options{})

	svc := &Services{
		Store:    ms,
		Vectors:  vectors,
		Embedder: embedder,
		Catalog:  templates.Builtin(),
		Sessions: sessions,
		Notifier: notify.Nop{},
	}
	t.Cleanup(func() { _ = svc.Close() })
	if len(providers) == 0 {
		return svc
	}

	backends := make([]llm.Backend, len(providers))
	for i, p := range providers {
		backends[i] = llm.Backend{Provider: p}
	}
	gw, err := llm.NewGateway(backends, llm.RetryPolicy{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	svc.LLM = gw
	svc.Providers = gw.Providers()

	retriever := retrieval.New(vectors, embedder, retrieval.Options{})
	generator := generation.NewGenerator(retriever, gw, ms, generation.GeneratorOptions{TopK: 3})
	svc.Orchestrator = generation.NewOrchestrator(ms, svc.Catalog, sessions, generator, generation.OrchestratorOptions{})
	return svc
}

func newTestGateway(t *testing.T, providers ...llm.Provider) *Gateway {
	t.Helper()
	if len(providers) == 0 {
		providers = []llm.Provider{&llm.Mock{ProviderName: "primary", ChunkSize: 24}}
	}
	svc := newTestServices(t, providers...)
	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	gw, err := New(cfg, svc, nil)
	require.NoError(t, err)
	return gw
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequestWithContext(t.Context(), method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func readEvents(t *testing.T, rec *httptest.ResponseRecorder) []generation.Event {
	t.Helper()
	var events []generation.Event
	err := sse.Read(strings.NewReader(rec.Body.String()), func(name, data string) error {
		var e generation.Event
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return err
		}
		assert.Equal(t, string(e.Type), name)
		events = append(events, e)
		return nil
	})
	require.NoError(t, err)
	return events
}

func createProtocol(t *testing.T, h http.Handler) *store.Protocol {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/protocols", CreateProtocolRequest{
		StudyAcronym:  "asthma-01",
		ProtocolTitle: "A Study of Example Drug in Moderate Asthma",
		Text:          protocolText,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeJSON[CreateProtocolResponse](t, rec)
	require.NotNil(t, resp.Protocol)
	assert.Positive(t, resp.Chunks)
	return resp.Protocol
}

func generateICF(t *testing.T, h http.Handler, protocolID string) (string, []generation.Event) {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/generate", GenerateRequest{
		ProtocolID:   protocolID,
		DocumentType: "icf",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	id := rec.Header().Get("X-Session-ID")
	require.NotEmpty(t, id)
	return id, readEvents(t, rec)
}

func TestHealthAndReady(t *testing.T) {
	gw := newTestGateway(t)
	h := gw.Handler()

	rec := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready (1 providers)", rec.Body.String())
}

func TestReadyWithoutProviders(t *testing.T) {
	svc := newTestServices(t)
	svc.Orchestrator = &generation.Orchestrator{}
	gw, err := New(&config.Config{}, svc, nil)
	require.NoError(t, err)

	rec := do(t, gw.Handler(), http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type closingProvider struct {
	*llm.Mock
	closed bool
}

func (c *closingProvider) Close() error {
	c.closed = true
	return nil
}

func TestServicesCloseReleasesProviders(t *testing.T) {
	vertex := &closingProvider{Mock: &llm.Mock{ProviderName: "vertex"}}
	svc := newTestServices(t, vertex)
	require.NoError(t, svc.Close())
	assert.True(t, vertex.closed)
}

func TestBuildServicesClosesOnProviderError(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Path = t.TempDir() + "/docforge.db"
	cfg.Retrieval.Backend = "memory"
	cfg.Embeddings.Kind = "hash"
	cfg.Providers = []config.ProviderConfig{
		{Name: "local", Kind: "mock"},
		{Name: "bad", Kind: "carrier-pigeon"},
	}
	svc, err := BuildServices(t.Context(), cfg, nil)
	require.Error(t, err)
	assert.Nil(t, svc)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestNewRejectsIncompleteServices(t *testing.T) {
	_, err := New(&config.Config{}, &Services{}, nil)
	require.Error(t, err)
}

func TestProtocolLifecycle(t *testing.T) {
	gw := newTestGateway(t)
	h := gw.Handler()

	p := createProtocol(t, h)
	assert.Equal(t, "ASTHMA-01", p.StudyAcronym)
	assert.True(t, strings.HasPrefix(p.CollectionName, "ASTHMA-01-"))

	rec := do(t, h, http.MethodGet, "/api/protocols", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeJSON[[]store.Protocol](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, p.ID, list[0].ID)

	rec = do(t, h, http.MethodPost, "/api/protocols/"+p.ID+"/documents", IngestRequest{Text: "An additional amendment paragraph."})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decodeJSON[IngestResponse](t, rec).Chunks)

	rec = do(t, h, http.MethodGet, "/api/protocols/"+p.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decodeJSON[ProtocolSummaryResponse](t, rec)
	assert.Equal(t, p.ID, summary.Protocol.ID)
	assert.Empty(t, summary.Sessions)
}

func TestCreateProtocolValidation(t *testing.T) {
	gw := newTestGateway(t)
	h := gw.Handler()

	rec := do(t, h, http.MethodPost, "/api/protocols", CreateProtocolRequest{ProtocolTitle: "no acronym"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeJSON[map[string]string](t, rec)["error"], "StudyAcronym")

	req := httptest.NewRequestWithContext(t.Context(), http.MethodPost, "/api/protocols", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rec = do(t, h, http.MethodPost, "/api/protocols/missing/documents", IngestRequest{Text: "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocumentTypes(t *testing.T) {
	gw := newTestGateway(t)
	rec := do(t, gw.Handler(), http.MethodGet, "/api/document-types", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	types := decodeJSON[[]DocumentTypeInfo](t, rec)
	var icf *DocumentTypeInfo
	for i := range types {
		if types[i].Name == "icf" {
			icf = &types[i]
		}
	}
	require.NotNil(t, icf)
	require.Len(t, icf.Sections, 7)
	assert.Equal(t, "summary", icf.Sections[0].Name)
}

func TestGenerateStreamsWholeDocument(t *testing.T) {
	gw := newTestGateway(t)
	h := gw.Handler()
	p := createProtocol(t, h)

	id, events := generateICF(t, h, p.ID)
	require.NotEmpty(t, events)

	completed := map[string]bool{}
	for _, e := range events {
		assert.Equal(t, id, e.SessionID)
		if e.Type == generation.EventSectionComplete {
			completed[e.Section] = true
			assert.NotEmpty(t, e.Content)
		}
	}
	assert.Len(t, completed, 7)

	last := events[len(events)-1]
	assert.Equal(t, generation.EventSessionComplete, last.Type)
	assert.Equal(t, session.SessionCompleted, last.Status)

	rec := do(t, h, http.MethodGet, "/api/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeJSON[session.Snapshot](t, rec)
	require.Len(t, snap.Sections, 7)
	for _, s := range snap.Sections {
		assert.Equal(t, session.StatusReady, s.Status, s.Key)
	}

	rec = do(t, h, http.MethodGet, "/api/protocols/"+p.ID, nil)
	summary := decodeJSON[ProtocolSummaryResponse](t, rec)
	require.Len(t, summary.Sessions, 1)
	assert.Equal(t, id, summary.Sessions[0].ID)

	rec = do(t, h, http.MethodGet, "/api/sessions/"+id+"/attempts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	attempts := decodeJSON[[]AttemptResponse](t, rec)
	assert.Len(t, attempts, 7)
	for _, a := range attempts {
		assert.Equal(t, "primary", a.Provider)
		assert.Equal(t, store.OutcomeSuccess, a.Outcome)
	}
}

func TestGenerateErrors(t *testing.T) {
	gw := newTestGateway(t)
	h := gw.Handler()
	p := createProtocol(t, h)

	tests := []struct {
		name string
		body GenerateRequest
		want int
	}{
		{"missing fields", GenerateRequest{}, http.StatusBadRequest},
		{"unknown protocol", GenerateRequest{ProtocolID: "nope", DocumentType: "icf"}, http.StatusNotFound},
		{"unknown document type", GenerateRequest{ProtocolID: p.ID, DocumentType: "brochure"}, http.StatusBadRequest},
		{"unknown section", GenerateRequest{ProtocolID: p.ID, DocumentType: "icf", Sections: []string{"appendix"}}, http.StatusBadRequest},
		{"unknown session", GenerateRequest{SessionID: "missing"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/generate", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestGenerateOnFinishedSessionConflicts(t *testing.T) {
	gw := newTestGateway(t)
	h := gw.Handler()
	p := createProtocol(t, h)
	id, _ := generateICF(t, h, p.ID)

	rec := do(t, h, http.MethodPost, "/api/generate", GenerateRequest{SessionID: id, Sections: []string{"risks"}})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/generate", GenerateRequest{SessionID: id})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestRegenerateSection(t *testing.T) {
	gw := newTestGateway(t)
	h := gw.Handler()
	p := createProtocol(t, h)
	id, _ := generateICF(t, h, p.ID)

	rec := do(t, h, http.MethodPost, "/api/sessions/"+id+"/regenerate", RegenerateRequest{Sections: []string{"risks"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	events := readEvents(t, rec)

	for _, e := range events {
		if e.Section != "" {
			assert.Equal(t, "risks", e.Section)
		}
	}
	assert.Equal(t, generation.EventSectionStart, events[0].Type)
	assert.Equal(t, generation.EventSessionComplete, events[len(events)-1].Type)

	rec = do(t, h, http.MethodPost, "/api/sessions/missing/regenerate", RegenerateRequest{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIdempotencyKeyRejectsReplay(t *testing.T) {
	gw := newTestGateway(t)
	h := gw.Handler()
	p := createProtocol(t, h)
	body := GenerateRequest{ProtocolID: p.ID, DocumentType: "icf", Sections: []string{"summary"}}

	rec := do(t, h, http.MethodPost, "/api/generate", body, IdempotencyHeader, "req-1")
	require.Equal(t, http.StatusOK, rec.Code)
	id := rec.Header().Get("X-Session-ID")

	rec = do(t, h, http.MethodPost, "/api/generate", body, IdempotencyHeader, "req-1")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), id)

	// a failed start does not consume the key
	rec = do(t, h, http.MethodPost, "/api/generate", GenerateRequest{ProtocolID: "nope", DocumentType: "icf"}, IdempotencyHeader, "req-2")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/generate", body, IdempotencyHeader, "req-2")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestApproveAndExport(t *testing.T) {
	gw := newTestGateway(t)
	h := gw.Handler()
	p := createProtocol(t, h)
	id, _ := generateICF(t, h, p.ID)

	rec := do(t, h, http.MethodPost, "/api/sessions/"+id+"/sections/summary/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, session.StatusApproved, decodeJSON[session.Section](t, rec).Status)

	rec = do(t, h, http.MethodPost, "/api/sessions/"+id+"/sections/summary/approve", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/sessions/"+id+"/sections/appendix/approve", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/sessions/"+id+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/markdown")
	md := rec.Body.String()
	assert.True(t, strings.HasPrefix(md, "# ASTHMA-01: "), md)
	assert.Contains(t, md, "_A Study of Example Drug in Moderate Asthma_")
	assert.Equal(t, 6, strings.Count(md, "> Draft: awaiting review"))

	rec = do(t, h, http.MethodGet, "/api/sessions/"+id+"/export?format=html", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "<h2>")

	rec = do(t, h, http.MethodGet, "/api/sessions/"+id+"/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/sessions/missing/export", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProviderFailureStreamsSectionErrors(t *testing.T) {
	failing := &llm.Mock{ProviderName: "down", Respond: func(int, llm.Request) (string, error) {
		return "", &llm.ProviderError{Provider: "down", StatusCode: http.StatusServiceUnavailable, Transient: true, Err: errors.New("unavailable")}
	}}
	gw := newTestGateway(t, failing)
	h := gw.Handler()
	p := createProtocol(t, h)

	rec := do(t, h, http.MethodPost, "/api/generate", GenerateRequest{
		ProtocolID:   p.ID,
		DocumentType: "icf",
		Sections:     []string{"summary", "risks"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	events := readEvents(t, rec)

	failed := 0
	for _, e := range events {
		if e.Type == generation.EventSectionError {
			failed++
			assert.NotEmpty(t, e.Message)
		}
	}
	assert.Equal(t, 2, failed)
	assert.Equal(t, session.SessionPartiallyFailed, events[len(events)-1].Status)
}

func TestWatchUnknownSession(t *testing.T) {
	gw := newTestGateway(t)
	rec := do(t, gw.Handler(), http.MethodGet, "/api/sessions/missing/watch", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWatchStreamsChanges(t *testing.T) {
	gw := newTestGateway(t)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	h := gw.Handler()
	p := createProtocol(t, h)

	rec := do(t, h, http.MethodPost, "/api/generate", GenerateRequest{ProtocolID: p.ID, DocumentType: "icf", Sections: []string{"summary"}})
	require.Equal(t, http.StatusOK, rec.Code)
	id := rec.Header().Get("X-Session-ID")

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/api/sessions/"+id+"/watch", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	changes := make(chan session.Change, 16)
	go func() {
		_ = sse.Read(resp.Body, func(name, data string) error {
			var c session.Change
			if err := json.Unmarshal([]byte(data), &c); err == nil && name == "section_status" {
				changes <- c
			}
			return nil
		})
		close(changes)
	}()

	rec = do(t, h, http.MethodPost, "/api/sessions/"+id+"/sections/summary/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case c := <-changes:
		assert.Equal(t, id, c.SessionID)
		assert.Equal(t, "summary", c.Section)
		assert.Equal(t, session.StatusApproved, c.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("no change received")
	}
}

func TestDeleteProtocol(t *testing.T) {
	gw := newTestGateway(t)
	h := gw.Handler()
	p := createProtocol(t, h)
	id, _ := generateICF(t, h, p.ID)

	rec := do(t, h, http.MethodGet, "/api/collections/"+p.CollectionName, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, p.ID, decodeJSON[store.Protocol](t, rec).ID)

	rec = do(t, h, http.MethodDelete, "/api/protocols/"+p.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/protocols/"+p.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/collections/"+p.CollectionName, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/sessions/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/api/protocols/"+p.ID, nil).Code)

	names, err := gw.services.Vectors.Collections(t.Context())
	require.NoError(t, err)
	assert.NotContains(t, names, p.CollectionName)
}

func TestDeleteProtocolWhileGeneratingConflicts(t *testing.T) {
	gw := newTestGateway(t)
	h := gw.Handler()
	p := createProtocol(t, h)

	snap, err := gw.services.Sessions.Create(p.ID, "icf", []session.SectionSpec{{Key: "summary", Title: "Summary"}})
	require.NoError(t, err)
	w, err := gw.services.Sessions.Acquire(t.Context(), snap.ID, "summary", session.ModeGenerate)
	require.NoError(t, err)
	require.NoError(t, w.Start(t.Context()))

	rec := do(t, h, http.MethodDelete, "/api/protocols/"+p.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/protocols/"+p.ID, nil).Code)

	_, err = w.Complete("A finished summary for the participant.", 6)
	require.NoError(t, err)
	w.Release()
	rec = do(t, h, http.MethodDelete, "/api/protocols/"+p.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDiagnostics(t *testing.T) {
	gw := newTestGateway(t)
	h := gw.Handler()
	p := createProtocol(t, h)
	require.NoError(t, gw.services.Vectors.Insert(t.Context(), "scratch", 0, "stray", []float32{1}))

	rec := do(t, h, http.MethodGet, "/api/diagnostics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	d := decodeJSON[Diagnostics](t, rec)
	assert.Equal(t, "memory", d.VectorBackend)
	assert.True(t, d.VectorReachable)
	assert.Equal(t, 2, d.TotalCollections)
	assert.Equal(t, []string{p.CollectionName}, d.ProtocolCollections)
	assert.Equal(t, 1, d.Protocols)
	assert.Equal(t, []string{"primary"}, d.Providers)
}

type unreachableVectors struct {
	*vectorstore.Memory
}

func (unreachableVectors) Collections(context.Context) ([]string, error) {
	return nil, errors.New("connection refused")
}

func TestDiagnosticsReportsUnreachableVectorStore(t *testing.T) {
	gw := newTestGateway(t)
	gw.services.Vectors = unreachableVectors{Memory: vectorstore.NewMemory()}

	rec := do(t, gw.Handler(), http.MethodGet, "/api/diagnostics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	d := decodeJSON[Diagnostics](t, rec)
	assert.False(t, d.VectorReachable)
	assert.Equal(t, "connection refused", d.VectorError)
	assert.Empty(t, d.ProtocolCollections)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(&session.ConcurrentGenerationError{SessionID: "s", Section: "risks"}))
	assert.Equal(t, http.StatusNotFound, statusFor(store.ErrNotFound))
	assert.Equal(t, http.StatusBadRequest, statusFor(generation.ErrInvalidRequest))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
