// ABOUTME: Gateway that serves the generation HTTP API and the gRPC health service
// ABOUTME: Owns listener setup, server lifecycle and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/patrickmn/go-cache"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/docforge-gateway/internal/config"
)

// GenerationService is the gRPC health service name reporting whether
// generation can be served.
const GenerationService = "docforge.Generation"

const idempotencyTTL = 10 * time.Minute

// Gateway serves the docforge HTTP API.
type Gateway struct {
	config     *config.Config
	services   *Services
	httpServer *http.Server
	grpcServer *grpc.Server // nil when server.grpc_addr is empty
	health     *health.Server
	validate   *validator.Validate
	logger     *slog.Logger

	// idempotency remembers Idempotency-Key headers of started runs
	idempotency *cache.Cache

	// requests is the base context of every HTTP request; cancelled on
	// shutdown so open streams end
	requests       context.Context
	cancelRequests context.CancelFunc
}

// New creates a Gateway over already-built services.
func New(cfg *config.Config, svc *Services, logger *slog.Logger) (*Gateway, error) {
	if svc == nil || svc.Orchestrator == nil || svc.Sessions == nil || svc.Store == nil || svc.Catalog == nil {
		return nil, errors.New("gateway: incomplete services")
	}
	if logger == nil {
		logger = slog.Default()
	}

	gw := &Gateway{
		config:      cfg,
		services:    svc,
		health:      health.NewServer(),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("component", "gateway"),
		idempotency: cache.New(idempotencyTTL, 2*idempotencyTTL),
	}
	gw.requests, gw.cancelRequests = context.WithCancel(context.Background())
	gw.updateHealth()

	if cfg.Server.GRPCAddr != "" {
		gw.grpcServer = grpc.NewServer(
			grpc.KeepaliveParams(keepalive.ServerParameters{
				Time:    15 * time.Second,
				Timeout: 5 * time.Second,
			}),
			grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
				MinTime:             5 * time.Second,
				PermitWithoutStream: true,
			}),
		)
		healthpb.RegisterHealthServer(gw.grpcServer, gw.health)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return gw.requests },
	}
	return gw, nil
}

// Handler returns the HTTP routes.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /ready", g.handleReady)

	mux.HandleFunc("POST /api/protocols", g.handleCreateProtocol)
	mux.HandleFunc("GET /api/protocols", g.handleListProtocols)
	mux.HandleFunc("GET /api/protocols/{id}", g.handleGetProtocol)
	mux.HandleFunc("DELETE /api/protocols/{id}", g.handleDeleteProtocol)
	mux.HandleFunc("POST /api/protocols/{id}/documents", g.handleIngestProtocol)
	mux.HandleFunc("GET /api/collections/{name}", g.handleGetCollection)
	mux.HandleFunc("GET /api/document-types", g.handleDocumentTypes)
	mux.HandleFunc("GET /api/diagnostics", g.handleDiagnostics)

	mux.HandleFunc("POST /api/generate", g.handleGenerate)
	mux.HandleFunc("POST /api/sessions/{id}/regenerate", g.handleRegenerate)
	mux.HandleFunc("GET /api/sessions/{id}", g.handleGetSession)
	mux.HandleFunc("GET /api/sessions/{id}/watch", g.handleWatch)
	mux.HandleFunc("POST /api/sessions/{id}/sections/{key}/approve", g.handleApprove)
	mux.HandleFunc("GET /api/sessions/{id}/export", g.handleExport)
	mux.HandleFunc("GET /api/sessions/{id}/attempts", g.handleAttempts)

	return mux
}

// updateHealth publishes serving status to the gRPC health service.
func (g *Gateway) updateHealth() {
	g.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	status := healthpb.HealthCheckResponse_SERVING
	if len(g.services.Providers) == 0 {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus(GenerationService, status)
}

// setupListeners creates TCP listeners for HTTP and, when configured, gRPC.
func (g *Gateway) setupListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	if g.grpcServer != nil {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		if grpcLn != nil {
			_ = grpcLn.Close()
		}
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return grpcLn, httpLn, nil
}

// startServers starts the servers in goroutines, returning their error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the servers and blocks until ctx is canceled or a server fails.
// It returns nil after a graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	grpcLn, httpLn, err := g.setupListeners()
	if err != nil {
		return err
	}

	errCh := g.startServers(grpcLn, httpLn)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	if g.grpcServer == nil {
		return
	}
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the servers and releases every service.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")
	g.health.Shutdown()
	g.cancelRequests()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)

	errs = appendCloseError(errs, "services close", g.services.Close())
	g.idempotency.Flush()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when at least one provider is configured.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	providers := g.services.Providers
	if len(providers) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no providers configured"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d providers)", len(providers))
}
