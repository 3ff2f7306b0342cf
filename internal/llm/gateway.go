// ABOUTME: Provider gateway: priority-ordered failover with per-provider retries and exponential backoff
// ABOUTME: Records every attempt's outcome and latency; callers only see success or a typed failure

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attempt outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
)

var tracer = otel.Tracer("github.com/2389/docforge-gateway/internal/llm")

// Attempt is one call to one provider.
type Attempt struct {
	Provider string
	Number   int // 1-based within the provider
	Outcome  string
	Latency  time.Duration
	Err      error
}

// Outcome describes a successful Stream call.
type Outcome struct {
	Provider string
	Attempts []Attempt
}

// RetryPolicy controls attempts on a single provider.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         float64 // randomization factor in [0, 1)
}

// Backend is a provider plus its per-attempt time budget.
type Backend struct {
	Provider Provider
	Timeout  time.Duration // zero means no per-attempt limit beyond ctx
}

// Gateway streams from the first provider that succeeds.
type Gateway struct {
	backends []Backend
	retry    RetryPolicy
	logger   *slog.Logger

	// sleep waits between retries; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// deltaError marks failures raised by the caller's delta callback so they
// are never retried or failed over.
type deltaError struct{ err error }

func (e *deltaError) Error() string { return e.err.Error() }
func (e *deltaError) Unwrap() error { return e.err }

// NewGateway creates a gateway over backends in priority order.
func NewGateway(backends []Backend, retry RetryPolicy, logger *slog.Logger) (*Gateway, error) {
	if len(backends) == 0 {
		return nil, errors.New("llm: at least one provider is required")
	}
	seen := make(map[string]bool, len(backends))
	for _, b := range backends {
		if b.Provider == nil {
			return nil, errors.New("llm: nil provider")
		}
		if seen[b.Provider.Name()] {
			return nil, fmt.Errorf("llm: duplicate provider %q", b.Provider.Name())
		}
		seen[b.Provider.Name()] = true
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	if retry.Multiplier < 1 {
		retry.Multiplier = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		backends: backends,
		retry:    retry,
		logger:   logger.With("component", "llm-gateway"),
		sleep:    sleepCtx,
	}, nil
}

// Providers returns provider names in priority order.
func (g *Gateway) Providers() []string {
	names := make([]string, len(g.backends))
	for i, b := range g.backends {
		names[i] = b.Provider.Name()
	}
	return names
}

// Close releases providers that hold clients, such as Vertex.
func (g *Gateway) Close() error {
	return closeProviders(g.backends)
}

func closeProviders(backends []Backend) error {
	var errs []error
	for _, b := range backends {
		if c, ok := b.Provider.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing provider %s: %w", b.Provider.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// Stream delivers one response through onDelta. Providers are tried in
// priority order; each gets up to MaxAttempts tries with exponential backoff
// on transient failures. A non-transient failure moves straight to the next
// provider. Once any text has been delivered, a failure is returned wrapped
// in ErrStreamInterrupted instead of being retried. When every provider
// fails the error is an *ExhaustedError.
func (g *Gateway) Stream(ctx context.Context, req Request, onDelta func(string) error) (*Outcome, error) {
	var attempts []Attempt

	for _, b := range g.backends {
		name := b.Provider.Name()
		bo := g.newBackOff()

		for n := 1; n <= g.retry.MaxAttempts; n++ {
			if err := ctx.Err(); err != nil {
				return &Outcome{Attempts: attempts}, err
			}

			att, delivered := g.attempt(ctx, b, n, req, onDelta)
			attempts = append(attempts, att)

			if att.Err == nil {
				return &Outcome{Provider: name, Attempts: attempts}, nil
			}

			var de *deltaError
			if errors.As(att.Err, &de) {
				return &Outcome{Attempts: attempts}, de.err
			}
			if ctx.Err() != nil {
				return &Outcome{Attempts: attempts}, ctx.Err()
			}
			if delivered {
				return &Outcome{Attempts: attempts}, fmt.Errorf("%w: %s: %w", ErrStreamInterrupted, name, att.Err)
			}
			if att.Outcome != OutcomeTimeout && !IsTransient(att.Err) {
				g.logger.Warn("provider failed, failing over",
					"provider", name,
					"attempt", n,
					"error", att.Err,
				)
				break
			}
			if n == g.retry.MaxAttempts {
				g.logger.Warn("provider retries exhausted",
					"provider", name,
					"attempts", n,
					"error", att.Err,
				)
				break
			}

			wait := bo.NextBackOff()
			g.logger.Debug("retrying provider",
				"provider", name,
				"attempt", n,
				"backoff", wait,
				"error", att.Err,
			)
			if err := g.sleep(ctx, wait); err != nil {
				return &Outcome{Attempts: attempts}, err
			}
		}
	}

	return &Outcome{Attempts: attempts}, &ExhaustedError{Attempts: attempts}
}

func (g *Gateway) attempt(ctx context.Context, b Backend, n int, req Request, onDelta func(string) error) (Attempt, bool) {
	name := b.Provider.Name()
	ctx, span := tracer.Start(ctx, "llm.attempt", trace.WithAttributes(
		attribute.String("llm.provider", name),
		attribute.Int("llm.attempt", n),
	))
	defer span.End()

	actx := ctx
	cancel := func() {}
	if b.Timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, b.Timeout)
	}
	defer cancel()

	delivered := false
	start := time.Now()
	err := b.Provider.Stream(actx, req, func(text string) error {
		if text == "" {
			return nil
		}
		delivered = true
		if err := onDelta(text); err != nil {
			return &deltaError{err: err}
		}
		return nil
	})
	att := Attempt{
		Provider: name,
		Number:   n,
		Outcome:  OutcomeSuccess,
		Latency:  time.Since(start),
	}

	switch {
	case err == nil:
	case ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded):
		att.Outcome = OutcomeTimeout
		att.Err = &ProviderError{Provider: name, Transient: true, Err: fmt.Errorf("no response within %s", b.Timeout)}
	case errors.Is(err, context.DeadlineExceeded):
		att.Outcome = OutcomeTimeout
		att.Err = err
	default:
		att.Outcome = OutcomeError
		att.Err = err
	}

	span.SetAttributes(
		attribute.String("llm.outcome", att.Outcome),
		attribute.Int64("llm.latency_ms", att.Latency.Milliseconds()),
	)
	if att.Err != nil {
		span.RecordError(att.Err)
		span.SetStatus(codes.Error, att.Err.Error())
	}
	return att, delivered
}

func (g *Gateway) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	if g.retry.InitialBackoff > 0 {
		bo.InitialInterval = g.retry.InitialBackoff
	}
	if g.retry.MaxBackoff > 0 {
		bo.MaxInterval = g.retry.MaxBackoff
	}
	bo.Multiplier = g.retry.Multiplier
	bo.RandomizationFactor = g.retry.Jitter
	bo.Reset()
	return bo
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
