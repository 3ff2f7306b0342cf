// ABOUTME: Generation Orchestrator: bounded fan-out of section generators with a merged event stream
// ABOUTME: Validates the request up front, claims every targeted section, and ends with one session_complete

package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/2389/docforge-gateway/internal/session"
	"github.com/2389/docforge-gateway/internal/store"
	"github.com/2389/docforge-gateway/internal/templates"
)

// ErrInvalidRequest is returned for unknown document types or section keys.
var ErrInvalidRequest = errors.New("invalid generation request")

const (
	defaultMaxConcurrency = 4
	eventBufferSize       = 64
)

// Request asks for a document, or part of one, to be generated.
//
// With SessionID set the request works on that session: Regenerate allows
// sections in any settled state, otherwise only pending sections are
// accepted and an empty filter resumes every pending section. Without
// SessionID, ProtocolID and DocumentType are required; Regenerate targets
// the current session for them, and without it a fresh session replaces
// any existing one.
type Request struct {
	ProtocolID   string
	DocumentType string
	Sections     []string // empty means every section, in canonical order
	SessionID    string
	Regenerate   bool
}

// Run is an in-flight generation. Events closes after the last event.
// Callers must drain Events or cancel the context passed to Start.
type Run struct {
	SessionID string
	Sections  []string
	Events    <-chan Event
}

// OrchestratorOptions configures an Orchestrator.
type OrchestratorOptions struct {
	MaxConcurrency int
	Notifier       Notifier
	Logger         *slog.Logger
}

// Orchestrator coordinates section generators for one document at a time per call.
type Orchestrator struct {
	protocols store.ProtocolStore
	catalog   *templates.Catalog
	sessions  *session.Store
	generator *Generator
	notifier  Notifier
	limit     int
	logger    *slog.Logger
}

// NewOrchestrator wires an Orchestrator.
func NewOrchestrator(protocols store.ProtocolStore, catalog *templates.Catalog, sessions *session.Store, generator *Generator, opts OrchestratorOptions) *Orchestrator {
	limit := opts.MaxConcurrency
	if limit <= 0 {
		limit = defaultMaxConcurrency
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		protocols: protocols,
		catalog:   catalog,
		sessions:  sessions,
		generator: generator,
		notifier:  notifier,
		limit:     limit,
		logger:    logger.With("component", "orchestrator"),
	}
}

type target struct {
	protocol *store.Protocol
	docType  *templates.DocumentType
	snap     session.Snapshot
	keys     []string
	mode     session.Mode
}

// Start validates req, claims every targeted section and launches the
// generators. Unknown protocols or sessions fail with
// session.ErrInvalidSession, bad document types or sections with
// ErrInvalidRequest, and sections already being generated with
// *session.ConcurrentGenerationError. No section is touched when Start
// returns an error.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*Run, error) {
	t, err := o.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	writers := make([]*session.SectionWriter, 0, len(t.keys))
	for _, key := range t.keys {
		w, err := o.sessions.Acquire(ctx, t.snap.ID, key, t.mode)
		if err != nil {
			for _, held := range writers {
				held.Release()
			}
			return nil, err
		}
		writers = append(writers, w)
	}

	events := make(chan Event, eventBufferSize)
	o.logger.Info("generation started",
		"session_id", t.snap.ID,
		"protocol_id", t.protocol.ID,
		"document_type", t.docType.Name,
		"sections", len(t.keys),
		"regenerate", t.mode == session.ModeRegenerate)

	go o.run(ctx, t, writers, events)

	return &Run{SessionID: t.snap.ID, Sections: t.keys, Events: events}, nil
}

func (o *Orchestrator) resolve(ctx context.Context, req Request) (*target, error) {
	t := &target{mode: session.ModeGenerate}

	protocolID, docName := req.ProtocolID, req.DocumentType
	if req.SessionID != "" {
		snap, err := o.sessions.Get(req.SessionID)
		if err != nil {
			return nil, err
		}
		if (protocolID != "" && protocolID != snap.ProtocolID) || (docName != "" && docName != snap.DocumentType) {
			return nil, fmt.Errorf("%w: session %s belongs to %s/%s", ErrInvalidRequest, snap.ID, snap.ProtocolID, snap.DocumentType)
		}
		protocolID, docName = snap.ProtocolID, snap.DocumentType
		t.snap = snap
		if req.Regenerate {
			t.mode = session.ModeRegenerate
		}
	}

	if protocolID == "" {
		return nil, fmt.Errorf("%w: protocol is required", session.ErrInvalidSession)
	}
	protocol, err := o.protocols.GetProtocol(ctx, protocolID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: protocol %s not found", session.ErrInvalidSession, protocolID)
		}
		return nil, fmt.Errorf("loading protocol %s: %w", protocolID, err)
	}
	t.protocol = protocol

	dt, err := o.catalog.Lookup(docName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	t.docType = dt

	keys, err := dt.Resolve(req.Sections)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	t.keys = keys

	switch {
	case req.SessionID != "":
		if len(req.Sections) == 0 && !req.Regenerate {
			t.keys = pendingKeys(t.snap)
			if len(t.keys) == 0 {
				return nil, fmt.Errorf("%w: session %s has no pending sections", ErrInvalidRequest, t.snap.ID)
			}
		}
	case req.Regenerate:
		snap, err := o.sessions.Current(protocolID, docName)
		if err != nil {
			return nil, err
		}
		t.snap = snap
		t.mode = session.ModeRegenerate
	default:
		specs := make([]session.SectionSpec, len(dt.Sections))
		for i, s := range dt.Sections {
			specs[i] = session.SectionSpec{Key: s.Key, Title: s.Title}
		}
		snap, err := o.sessions.Create(protocolID, docName, specs)
		if err != nil {
			return nil, err
		}
		t.snap = snap
	}
	return t, nil
}

func (o *Orchestrator) run(ctx context.Context, t *target, writers []*session.SectionWriter, events chan<- Event) {
	defer close(events)

	sessionID := t.snap.ID
	emit := func(e Event) error {
		e.SessionID = sessionID
		if e.SectionTerminal() || e.Type == EventSessionComplete {
			o.notifier.Notify(context.WithoutCancel(ctx), e)
		}
		select {
		case events <- e:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	results := make([]session.Section, len(writers))
	g := new(errgroup.Group)
	g.SetLimit(o.limit)
	for i, w := range writers {
		sec, _ := t.docType.Section(w.Section())
		job := Job{
			Writer:        w,
			Protocol:      *t.protocol,
			DocumentTitle: t.docType.Title,
			Section:       sec,
		}
		g.Go(func() error {
			defer w.Release()
			if ctx.Err() != nil {
				// never started: the section keeps its prior state
				return nil
			}
			results[i] = o.generator.Generate(ctx, job, emit)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		o.logger.Info("generation cancelled", "session_id", sessionID)
		return
	}

	status := summarize(results)
	if snap, err := o.sessions.Get(sessionID); err == nil && snap.Status != session.SessionInProgress {
		status = snap.Status
	}
	o.logger.Info("generation finished", "session_id", sessionID, "status", status)
	_ = emit(Event{Type: EventSessionComplete, Status: status})
}

func pendingKeys(snap session.Snapshot) []string {
	var keys []string
	for _, s := range snap.Sections {
		if s.Status == session.StatusPending {
			keys = append(keys, s.Key)
		}
	}
	return keys
}

// summarize derives a status from this run's own sections.
func summarize(results []session.Section) session.Status {
	for _, r := range results {
		if r.Status == session.StatusError {
			return session.SessionPartiallyFailed
		}
	}
	return session.SessionCompleted
}
