// ABOUTME: Typed events streamed to callers while a document is generated
// ABOUTME: Token events carry increments; terminal events carry final content, errors or session status

package generation

import (
	"context"

	"github.com/2389/docforge-gateway/internal/session"
)

// EventType names an event on the generation stream.
type EventType string

const (
	EventSectionStart    EventType = "section_start"
	EventToken           EventType = "token"
	EventSectionComplete EventType = "section_complete"
	EventSectionError    EventType = "section_error"
	EventSessionComplete EventType = "session_complete"
)

// Event is one item on a run's output stream. Every section event carries
// its section key so callers can reassemble canonical order.
type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id"`
	Section   string         `json:"section,omitempty"`
	Text      string         `json:"text,omitempty"`
	Content   string         `json:"content,omitempty"`
	WordCount int            `json:"word_count,omitempty"`
	Message   string         `json:"message,omitempty"`
	Status    session.Status `json:"status,omitempty"`
}

// SectionTerminal reports whether e resolves a section.
func (e Event) SectionTerminal() bool {
	return e.Type == EventSectionComplete || e.Type == EventSectionError
}

// Notifier receives terminal events for delivery outside the request stream.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// NopNotifier discards events.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, Event) {}
