// ABOUTME: Construction of every generation component from configuration
// ABOUTME: Opens stores, vector backend, embedder, providers, session leases and the event publisher

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/2389/docforge-gateway/internal/config"
	"github.com/2389/docforge-gateway/internal/generation"
	"github.com/2389/docforge-gateway/internal/llm"
	"github.com/2389/docforge-gateway/internal/notify"
	"github.com/2389/docforge-gateway/internal/prompt"
	"github.com/2389/docforge-gateway/internal/retrieval"
	"github.com/2389/docforge-gateway/internal/session"
	"github.com/2389/docforge-gateway/internal/store"
	"github.com/2389/docforge-gateway/internal/templates"
	"github.com/2389/docforge-gateway/internal/vectorstore"
)

// Services holds the components the HTTP API drives.
type Services struct {
	Store         store.Store
	Vectors       vectorstore.Store
	VectorBackend string
	Embedder      llm.Embedder
	Catalog       *templates.Catalog
	Sessions      *session.Store
	Providers     []string
	LLM           *llm.Gateway
	Orchestrator  *generation.Orchestrator
	Notifier      notify.Notifier

	// ChunkChars bounds ingested chunk size; zero uses the retrieval default.
	ChunkChars int
}

// initStore opens the SQLite registry, honoring DOCFORGE_DB_PATH.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("DOCFORGE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

func initCatalog(cfg *config.Config) (*templates.Catalog, error) {
	if cfg.Templates.Path == "" {
		return templates.Builtin(), nil
	}
	c, err := templates.Load(cfg.Templates.Path)
	if err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}
	return c, nil
}

func initLocker(ctx context.Context, cfg *config.Config) (session.Locker, error) {
	if cfg.Sessions.LockBackend != "redis" {
		return session.NewMemoryLocker(), nil
	}
	l, err := session.NewRedisLocker(ctx, cfg.Sessions.RedisURL, "docforge")
	if err != nil {
		return nil, fmt.Errorf("connecting lease backend: %w", err)
	}
	return l, nil
}

// initProviders builds the provider gateway. Providers already opened are
// closed when a later one fails.
func initProviders(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*llm.Gateway, error) {
	httpClient := &http.Client{}
	backends := make([]llm.Backend, 0, len(cfg.Providers))
	closeOpened := func() {
		for _, b := range backends {
			if c, ok := b.Provider.(io.Closer); ok {
				_ = c.Close()
			}
		}
	}
	for _, pc := range cfg.Providers {
		p, err := llm.FromConfig(ctx, pc, httpClient, logger)
		if err != nil {
			closeOpened()
			return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
		}
		backends = append(backends, llm.Backend{Provider: p, Timeout: pc.Timeout})
	}
	gw, err := llm.NewGateway(backends, llm.RetryPolicy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
		Multiplier:     cfg.Retry.Multiplier,
		Jitter:         cfg.Retry.Jitter,
	}, logger)
	if err != nil {
		closeOpened()
		return nil, err
	}
	return gw, nil
}

// BuildServices opens every backend named in cfg. On error, whatever was
// already opened is closed.
func BuildServices(ctx context.Context, cfg *config.Config, logger *slog.Logger) (svc *Services, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	svc = &Services{}
	defer func() {
		if err != nil {
			_ = svc.Close()
			svc = nil
		}
	}()

	if svc.Store, err = initStore(cfg); err != nil {
		return nil, err
	}
	if svc.Catalog, err = initCatalog(cfg); err != nil {
		return nil, err
	}
	if svc.Vectors, err = vectorstore.Open(ctx, cfg.Retrieval, logger); err != nil {
		return nil, fmt.Errorf("opening vector store: %w", err)
	}
	svc.VectorBackend = cfg.Retrieval.Backend
	if svc.Embedder, err = llm.NewEmbedder(cfg.Embeddings, &http.Client{}); err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	gw, err := initProviders(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	svc.LLM = gw
	svc.Providers = gw.Providers()

	locker, err := initLocker(ctx, cfg)
	if err != nil {
		return nil, err
	}
	svc.Sessions = session.NewStore(session.Options{
		Locker:   locker,
		LeaseTTL: cfg.Sessions.LeaseTTL,
		Logger:   logger,
	})

	if svc.Notifier, err = notify.FromConfig(cfg.Events, logger); err != nil {
		return nil, fmt.Errorf("connecting event publisher: %w", err)
	}

	retriever := retrieval.New(svc.Vectors, svc.Embedder, retrieval.Options{
		Timeout:  cfg.Retrieval.Timeout,
		CacheTTL: cfg.Retrieval.EmbeddingCacheTTL,
		Logger:   logger,
	})
	generator := generation.NewGenerator(retriever, gw, svc.Store, generation.GeneratorOptions{
		TopK:            cfg.Retrieval.TopK,
		MinScore:        cfg.Retrieval.MinScore,
		MinContentChars: cfg.Generation.MinContentChars,
		SectionTimeout:  cfg.Generation.SectionTimeout,
		Prompt: prompt.Options{
			MaxExcerpts:     cfg.Generation.ContextExcerpts,
			MaxContextChars: cfg.Generation.MaxContextChars,
		},
		Logger: logger,
	})
	svc.Orchestrator = generation.NewOrchestrator(svc.Store, svc.Catalog, svc.Sessions, generator, generation.OrchestratorOptions{
		MaxConcurrency: cfg.Generation.MaxConcurrency,
		Notifier:       svc.Notifier,
		Logger:         logger,
	})
	return svc, nil
}

// AddProtocol registers a protocol and, when text is given, ingests it into
// the protocol's vector collection. It returns the stored chunk count.
func (s *Services) AddProtocol(ctx context.Context, acronym, title, text string) (*store.Protocol, int, error) {
	p, err := store.NewProtocol(acronym, title, time.Time{})
	if err != nil {
		return nil, 0, err
	}
	if err := s.Store.CreateProtocol(ctx, p); err != nil {
		return nil, 0, fmt.Errorf("saving protocol: %w", err)
	}
	if text == "" {
		return p, 0, nil
	}
	n, err := s.Ingest(ctx, p, text)
	if err != nil {
		return p, 0, err
	}
	return p, n, nil
}

// Ingest chunks and embeds text into p's collection.
func (s *Services) Ingest(ctx context.Context, p *store.Protocol, text string) (int, error) {
	n, err := retrieval.Ingest(ctx, s.Vectors, s.Embedder, p.CollectionName, text, s.ChunkChars)
	if err != nil {
		return 0, fmt.Errorf("ingesting protocol %s: %w", p.ID, err)
	}
	return n, nil
}

// DeleteProtocol removes a protocol, its sessions and its vector collection.
// It fails with *session.ConcurrentGenerationError while any section of the
// protocol is being generated.
func (s *Services) DeleteProtocol(ctx context.Context, id string) (*store.Protocol, error) {
	p, err := s.Store.GetProtocol(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Sessions.RemoveProtocol(p.ID); err != nil {
		return nil, err
	}
	if err := s.Store.DeleteProtocol(ctx, p.ID); err != nil {
		return nil, fmt.Errorf("deleting protocol %s: %w", p.ID, err)
	}
	if err := s.Vectors.DeleteCollection(ctx, p.CollectionName); err != nil {
		return nil, fmt.Errorf("deleting collection %s: %w", p.CollectionName, err)
	}
	return p, nil
}

// Diagnostics reports backend reachability and registry counts.
type Diagnostics struct {
	VectorBackend       string   `json:"vector_backend"`
	VectorReachable     bool     `json:"vector_reachable"`
	VectorError         string   `json:"vector_error,omitempty"`
	TotalCollections    int      `json:"total_collections"`
	ProtocolCollections []string `json:"protocol_collections"`
	Protocols           int      `json:"protocols"`
	StoreError          string   `json:"store_error,omitempty"`
	Sessions            int      `json:"sessions"`
	Providers           []string `json:"providers"`
}

// Diagnose gathers Diagnostics. Backend failures are reported in the
// result, never returned.
func (s *Services) Diagnose(ctx context.Context) Diagnostics {
	d := Diagnostics{
		VectorBackend:       s.VectorBackend,
		ProtocolCollections: []string{},
		Sessions:            s.Sessions.Len(),
		Providers:           s.Providers,
	}
	if d.VectorBackend == "" {
		d.VectorBackend = "memory"
	}
	if d.Providers == nil {
		d.Providers = []string{}
	}

	owned := map[string]bool{}
	protocols, err := s.Store.ListProtocols(ctx)
	if err != nil {
		d.StoreError = err.Error()
	}
	d.Protocols = len(protocols)
	for _, p := range protocols {
		owned[p.CollectionName] = true
	}

	names, err := s.Vectors.Collections(ctx)
	if err != nil {
		d.VectorError = err.Error()
		return d
	}
	d.VectorReachable = true
	d.TotalCollections = len(names)
	for _, name := range names {
		if owned[name] {
			d.ProtocolCollections = append(d.ProtocolCollections, name)
		}
	}
	return d
}

// Close releases every opened backend.
func (s *Services) Close() error {
	var errs []error
	if s.Sessions != nil {
		errs = appendCloseError(errs, "sessions close", s.Sessions.Close())
	}
	if s.Notifier != nil {
		errs = appendCloseError(errs, "notifier close", s.Notifier.Close())
	}
	if s.LLM != nil {
		errs = appendCloseError(errs, "providers close", s.LLM.Close())
	}
	if s.Vectors != nil {
		errs = appendCloseError(errs, "vector store close", s.Vectors.Close())
	}
	if s.Store != nil {
		errs = appendCloseError(errs, "store close", s.Store.Close())
	}
	return errors.Join(errs...)
}
