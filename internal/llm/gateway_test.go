// ABOUTME: Tests for the provider gateway's retry, failover and interruption policy
// ABOUTME: Uses scripted Mock providers and a recording sleep so no test waits on real backoff

package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var (
	spanRecorderOnce sync.Once
	spanRecorder     *tracetest.SpanRecorder
)

func recordSpans() *tracetest.SpanRecorder {
	spanRecorderOnce.Do(func() {
		spanRecorder = tracetest.NewSpanRecorder()
		otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder)))
	})
	return spanRecorder
}

func transient(name string) error {
	return &ProviderError{Provider: name, StatusCode: 429, Transient: true, Err: errors.New("rate limited")}
}

func newTestGateway(t *testing.T, retry RetryPolicy, providers ...Provider) (*Gateway, *[]time.Duration) {
	t.Helper()
	var backends []Backend
	for _, p := range providers {
		backends = append(backends, Backend{Provider: p})
	}
	g, err := NewGateway(backends, retry, nil)
	require.NoError(t, err)

	var sleeps []time.Duration
	g.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return g, &sleeps
}

func collect(t *testing.T, g *Gateway, ctx context.Context) (string, *Outcome, error) {
	t.Helper()
	var b strings.Builder
	out, err := g.Stream(ctx, Request{System: "sys", User: "user"}, func(s string) error {
		b.WriteString(s)
		return nil
	})
	return b.String(), out, err
}

func TestGateway_PrimarySucceeds(t *testing.T) {
	primary := &Mock{ProviderName: "primary", ChunkSize: 4, Respond: func(int, Request) (string, error) {
		return "Participants may experience nausea.", nil
	}}
	fallback := &Mock{ProviderName: "fallback"}
	g, sleeps := newTestGateway(t, RetryPolicy{MaxAttempts: 3}, primary, fallback)

	text, out, err := collect(t, g, context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Participants may experience nausea.", text)
	assert.Equal(t, "primary", out.Provider)
	require.Len(t, out.Attempts, 1)
	assert.Equal(t, OutcomeSuccess, out.Attempts[0].Outcome)
	assert.Equal(t, 0, fallback.Calls())
	assert.Empty(t, *sleeps)
}

func TestGateway_TransientThenFallback(t *testing.T) {
	primary := &Mock{ProviderName: "primary", Respond: func(int, Request) (string, error) {
		return "", transient("primary")
	}}
	fallback := &Mock{ProviderName: "fallback", Respond: func(int, Request) (string, error) {
		return "fallback text", nil
	}}
	g, sleeps := newTestGateway(t, RetryPolicy{MaxAttempts: 3, InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2}, primary, fallback)

	text, out, err := collect(t, g, context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fallback text", text)
	assert.Equal(t, "fallback", out.Provider)

	require.Len(t, out.Attempts, 4)
	for i := 0; i < 3; i++ {
		assert.Equal(t, "primary", out.Attempts[i].Provider)
		assert.Equal(t, i+1, out.Attempts[i].Number)
		assert.Equal(t, OutcomeError, out.Attempts[i].Outcome)
	}
	assert.Equal(t, "fallback", out.Attempts[3].Provider)
	assert.Equal(t, OutcomeSuccess, out.Attempts[3].Outcome)

	// Backoff between retries on the primary only; none carried into failover.
	require.Len(t, *sleeps, 2)
	assert.Equal(t, 100*time.Millisecond, (*sleeps)[0])
	assert.Equal(t, 200*time.Millisecond, (*sleeps)[1])
}

func TestGateway_AllExhausted(t *testing.T) {
	fail := func(name string) *Mock {
		return &Mock{ProviderName: name, Respond: func(int, Request) (string, error) { return "", transient(name) }}
	}
	primary, fallback := fail("primary"), fail("fallback")
	g, _ := newTestGateway(t, RetryPolicy{MaxAttempts: 2}, primary, fallback)

	text, out, err := collect(t, g, context.Background())
	assert.Empty(t, text)
	require.ErrorIs(t, err, ErrProviderExhausted)

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Len(t, ex.Attempts, 4)
	assert.Len(t, out.Attempts, 4)
	assert.Equal(t, 2, primary.Calls())
	assert.Equal(t, 2, fallback.Calls())
	assert.Contains(t, err.Error(), "after 4 attempts")
}

func TestGateway_NonTransientFailsOverImmediately(t *testing.T) {
	primary := &Mock{ProviderName: "primary", Respond: func(int, Request) (string, error) {
		return "", &ProviderError{Provider: "primary", StatusCode: 401, Err: errors.New("bad key")}
	}}
	fallback := &Mock{ProviderName: "fallback", Respond: func(int, Request) (string, error) { return "ok", nil }}
	g, sleeps := newTestGateway(t, RetryPolicy{MaxAttempts: 3}, primary, fallback)

	_, out, err := collect(t, g, context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, primary.Calls())
	assert.Equal(t, "fallback", out.Provider)
	assert.Empty(t, *sleeps)
}

func TestGateway_RecoversOnRetry(t *testing.T) {
	primary := &Mock{ProviderName: "primary", Respond: func(call int, _ Request) (string, error) {
		if call == 1 {
			return "", transient("primary")
		}
		return "second time lucky", nil
	}}
	g, sleeps := newTestGateway(t, RetryPolicy{MaxAttempts: 3}, primary)

	text, out, err := collect(t, g, context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second time lucky", text)
	assert.Len(t, out.Attempts, 2)
	assert.Len(t, *sleeps, 1)
}

func TestGateway_InterruptedAfterDeltaIsNotRetried(t *testing.T) {
	primary := &Mock{ProviderName: "primary", ChunkSize: 5, Respond: func(int, Request) (string, error) {
		return "partial", transient("primary")
	}}
	fallback := &Mock{ProviderName: "fallback"}
	g, _ := newTestGateway(t, RetryPolicy{MaxAttempts: 3}, primary, fallback)

	text, out, err := collect(t, g, context.Background())
	require.ErrorIs(t, err, ErrStreamInterrupted)
	assert.NotErrorIs(t, err, ErrProviderExhausted)
	assert.Equal(t, "partial", text)
	assert.Len(t, out.Attempts, 1)
	assert.Equal(t, 1, primary.Calls())
	assert.Equal(t, 0, fallback.Calls())
}

func TestGateway_DeltaErrorIsReturnedAsIs(t *testing.T) {
	primary := &Mock{ProviderName: "primary", Respond: func(int, Request) (string, error) { return "text", nil }}
	fallback := &Mock{ProviderName: "fallback"}
	g, _ := newTestGateway(t, RetryPolicy{MaxAttempts: 3}, primary, fallback)

	stop := errors.New("consumer gone")
	_, err := g.Stream(context.Background(), Request{}, func(string) error { return stop })
	assert.Equal(t, stop, err)
	assert.Equal(t, 0, fallback.Calls())
}

func TestGateway_PerAttemptTimeoutIsRetried(t *testing.T) {
	slow := &Mock{ProviderName: "slow", Delay: time.Second, Respond: func(int, Request) (string, error) { return "late", nil }}
	fallback := &Mock{ProviderName: "fallback", Respond: func(int, Request) (string, error) { return "on time", nil }}

	g, err := NewGateway([]Backend{
		{Provider: slow, Timeout: 20 * time.Millisecond},
		{Provider: fallback},
	}, RetryPolicy{MaxAttempts: 2}, nil)
	require.NoError(t, err)
	g.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	text, out, err := collect(t, g, context.Background())
	require.NoError(t, err)
	assert.Equal(t, "on time", text)
	require.Len(t, out.Attempts, 3)
	assert.Equal(t, OutcomeTimeout, out.Attempts[0].Outcome)
	assert.Equal(t, OutcomeTimeout, out.Attempts[1].Outcome)
	assert.Equal(t, 2, slow.Calls())
}

func TestGateway_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	primary := &Mock{ProviderName: "primary", Respond: func(int, Request) (string, error) {
		cancel()
		return "", transient("primary")
	}}
	fallback := &Mock{ProviderName: "fallback"}
	g, _ := newTestGateway(t, RetryPolicy{MaxAttempts: 3}, primary, fallback)

	_, _, err := collect(t, g, ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, primary.Calls())
	assert.Equal(t, 0, fallback.Calls())
}

func TestGateway_RecordsAttemptSpans(t *testing.T) {
	sr := recordSpans()
	before := len(sr.Ended())

	primary := &Mock{ProviderName: "span-primary", Respond: func(int, Request) (string, error) { return "", transient("span-primary") }}
	fallback := &Mock{ProviderName: "span-fallback", Respond: func(int, Request) (string, error) { return "ok", nil }}
	g, _ := newTestGateway(t, RetryPolicy{MaxAttempts: 1}, primary, fallback)

	_, _, err := collect(t, g, context.Background())
	require.NoError(t, err)

	ended := sr.Ended()[before:]
	var providers []string
	for _, s := range ended {
		if s.Name() != "llm.attempt" {
			continue
		}
		for _, kv := range s.Attributes() {
			if kv.Key == "llm.provider" {
				providers = append(providers, kv.Value.AsString())
			}
		}
	}
	assert.Equal(t, []string{"span-primary", "span-fallback"}, providers)
}

func TestNewGateway_Validation(t *testing.T) {
	_, err := NewGateway(nil, RetryPolicy{}, nil)
	assert.Error(t, err)

	_, err = NewGateway([]Backend{{Provider: &Mock{ProviderName: "a"}}, {Provider: &Mock{ProviderName: "a"}}}, RetryPolicy{}, nil)
	assert.ErrorContains(t, err, "duplicate")

	g, err := NewGateway([]Backend{{Provider: &Mock{ProviderName: "a"}}, {Provider: &Mock{ProviderName: "b"}}}, RetryPolicy{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, g.Providers())
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(transient("x")))
	assert.False(t, IsTransient(&ProviderError{Provider: "x", StatusCode: 400, Err: errors.New("bad")}))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(errors.New("plain")))
	assert.False(t, IsTransient(nil))
}

type closingProvider struct {
	*Mock
	closed int
	err    error
}

func (c *closingProvider) Close() error {
	c.closed++
	return c.err
}

func TestGateway_CloseReleasesClosableProviders(t *testing.T) {
	vertex := &closingProvider{Mock: &Mock{ProviderName: "vertex"}}
	broken := &closingProvider{Mock: &Mock{ProviderName: "broken"}, err: errors.New("socket busy")}
	g, _ := newTestGateway(t, RetryPolicy{}, vertex, &Mock{ProviderName: "plain"}, broken)

	err := g.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closing provider broken")
	assert.Equal(t, 1, vertex.closed)
	assert.Equal(t, 1, broken.closed)
}
