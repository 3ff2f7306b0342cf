// ABOUTME: Section Generator: drives one section from retrieval through streaming to a terminal state
// ABOUTME: Degrades to the no-context marker on retrieval failure; every failure stays local to the section

package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/docforge-gateway/internal/llm"
	"github.com/2389/docforge-gateway/internal/prompt"
	"github.com/2389/docforge-gateway/internal/retrieval"
	"github.com/2389/docforge-gateway/internal/session"
	"github.com/2389/docforge-gateway/internal/store"
	"github.com/2389/docforge-gateway/internal/templates"
)

// ErrValidation is reported when generated content is empty or too short.
var ErrValidation = errors.New("empty or insufficient generated content")

// Section error messages shown to callers.
const (
	msgExhausted   = "all language model providers failed; try again later"
	msgInterrupted = "generation interrupted: the provider stream failed partway"
	msgTimedOut    = "generation timed out"
	msgCancelled   = "generation cancelled"
	msgFailed      = "generation failed"
)

const (
	defaultMinContentChars = 40
	defaultSectionTimeout  = 3 * time.Minute
)

var tracer = otel.Tracer("github.com/2389/docforge-gateway/internal/generation")

// Retriever fetches context for a section.
type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) (*retrieval.Result, error)
}

// Streamer is the provider gateway capability.
type Streamer interface {
	Stream(ctx context.Context, req llm.Request, onDelta func(string) error) (*llm.Outcome, error)
}

// GeneratorOptions tunes section generation.
type GeneratorOptions struct {
	TopK            int
	MinScore        float64
	MinContentChars int
	SectionTimeout  time.Duration
	Prompt          prompt.Options
	Logger          *slog.Logger
}

// Generator runs sections. It is safe for concurrent use.
type Generator struct {
	retriever Retriever
	gateway   Streamer
	attempts  store.AttemptStore
	opts      GeneratorOptions
	logger    *slog.Logger
}

// NewGenerator creates a Generator. attempts may be nil.
func NewGenerator(r Retriever, gw Streamer, attempts store.AttemptStore, opts GeneratorOptions) *Generator {
	if opts.MinContentChars <= 0 {
		opts.MinContentChars = defaultMinContentChars
	}
	if opts.SectionTimeout <= 0 {
		opts.SectionTimeout = defaultSectionTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		retriever: r,
		gateway:   gw,
		attempts:  attempts,
		opts:      opts,
		logger:    logger.With("component", "section-generator"),
	}
}

// Job is one section to generate.
type Job struct {
	Writer        *session.SectionWriter
	Protocol      store.Protocol
	DocumentTitle string
	Section       templates.Section
}

// Generate moves the job's section to generating and drives it to
// ready_for_review or error, sending events through emit. An error from
// emit means the consumer is gone; generation then stops as cancelled.
// The writer is not released here.
func (g *Generator) Generate(ctx context.Context, job Job, emit func(Event) error) session.Section {
	key := job.Section.Key
	logger := g.logger.With("session_id", job.Writer.SessionID(), "section", key)

	ctx, span := tracer.Start(ctx, "generation.section", trace.WithAttributes(
		attribute.String("session.id", job.Writer.SessionID()),
		attribute.String("section.key", key),
	))
	defer span.End()

	if err := job.Writer.Start(ctx); err != nil {
		logger.Error("could not start section", "error", err)
		span.SetStatus(codes.Error, err.Error())
		return session.Section{Key: key, Status: session.StatusError, Error: err.Error()}
	}
	_ = emit(Event{Type: EventSectionStart, Section: key})

	sctx, cancel := context.WithTimeout(ctx, g.opts.SectionTimeout)
	defer cancel()

	start := time.Now()
	excerpts := g.retrieve(sctx, job, logger)

	req := prompt.Assemble(prompt.Input{
		DocumentTitle: job.DocumentTitle,
		Section:       job.Section,
		Protocol:      job.Protocol,
		Excerpts:      excerpts,
	}, g.opts.Prompt)

	var buf strings.Builder
	tokens := 0
	outcome, err := g.gateway.Stream(sctx, req, func(text string) error {
		buf.WriteString(text)
		tokens++
		return emit(Event{Type: EventToken, Section: key, Text: text})
	})
	g.recordAttempts(ctx, job, outcome, err)

	if err != nil {
		msg := g.failureMessage(ctx, sctx, err)
		logger.Warn("section failed", "error", err, "elapsed", time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		return g.fail(job, msg, emit, logger)
	}

	content := strings.TrimSpace(buf.String())
	if utf8.RuneCountInString(content) < g.opts.MinContentChars {
		logger.Warn("generated content rejected", "chars", utf8.RuneCountInString(content), "min", g.opts.MinContentChars)
		span.SetStatus(codes.Error, ErrValidation.Error())
		return g.fail(job, ErrValidation.Error(), emit, logger)
	}

	words := len(strings.Fields(content))
	sec, err := job.Writer.Complete(content, words)
	if err != nil {
		logger.Error("could not complete section", "error", err)
		span.SetStatus(codes.Error, err.Error())
		return session.Section{Key: key, Status: session.StatusError, Error: err.Error()}
	}
	span.SetAttributes(
		attribute.Int("section.word_count", words),
		attribute.Int("section.tokens", tokens),
	)
	if outcome != nil {
		span.SetAttributes(attribute.String("llm.provider", outcome.Provider))
	}
	logger.Info("section ready",
		"words", words,
		"tokens", tokens,
		"elapsed", time.Since(start))
	_ = emit(Event{Type: EventSectionComplete, Section: key, Content: content, WordCount: words})
	return sec
}

// retrieve returns ranked excerpts, or nil when the section must proceed
// with the no-context marker.
func (g *Generator) retrieve(ctx context.Context, job Job, logger *slog.Logger) []retrieval.Excerpt {
	if g.retriever == nil || job.Protocol.CollectionName == "" {
		return nil
	}
	res, err := g.retriever.Retrieve(ctx, retrieval.Query{
		Collection: job.Protocol.CollectionName,
		Text:       job.Section.Query,
		TopK:       g.opts.TopK,
		MinScore:   g.opts.MinScore,
	})
	if err != nil {
		switch {
		case ctx.Err() != nil && !errors.Is(err, retrieval.ErrRetrievalTimeout):
			// the section deadline or the caller ended; the stream step reports it
		case errors.Is(err, retrieval.ErrInsufficientContext):
			logger.Info("no relevant context, using marker")
		default:
			logger.Warn("retrieval failed, using marker", "error", err)
		}
		return nil
	}
	return res.Excerpts
}

func (g *Generator) failureMessage(ctx, sctx context.Context, err error) string {
	switch {
	case ctx.Err() != nil:
		return msgCancelled
	case sctx.Err() != nil:
		return msgTimedOut
	case errors.Is(err, llm.ErrProviderExhausted):
		return msgExhausted
	case errors.Is(err, llm.ErrStreamInterrupted):
		return msgInterrupted
	default:
		return msgFailed
	}
}

func (g *Generator) fail(job Job, msg string, emit func(Event) error, logger *slog.Logger) session.Section {
	sec, err := job.Writer.Fail(msg)
	if err != nil {
		logger.Error("could not record section failure", "error", err)
		return session.Section{Key: job.Section.Key, Status: session.StatusError, Error: msg}
	}
	_ = emit(Event{Type: EventSectionError, Section: job.Section.Key, Message: msg})
	return sec
}

func (g *Generator) recordAttempts(ctx context.Context, job Job, outcome *llm.Outcome, err error) {
	if g.attempts == nil {
		return
	}
	var attempts []llm.Attempt
	var ex *llm.ExhaustedError
	switch {
	case errors.As(err, &ex):
		attempts = ex.Attempts
	case outcome != nil:
		attempts = outcome.Attempts
	}

	ctx = context.WithoutCancel(ctx)
	for _, a := range attempts {
		rec := &store.ProviderAttempt{
			ID:        uuid.New().String(),
			SessionID: job.Writer.SessionID(),
			Section:   job.Section.Key,
			Provider:  a.Provider,
			Attempt:   a.Number,
			Outcome:   a.Outcome,
			Latency:   a.Latency,
			CreatedAt: time.Now().UTC(),
		}
		if a.Err != nil {
			rec.Error = a.Err.Error()
		}
		if err := g.attempts.SaveAttempt(ctx, rec); err != nil {
			g.logger.Warn("saving provider attempt", "error", fmt.Errorf("%s attempt %d: %w", a.Provider, a.Number, err))
		}
	}
}
