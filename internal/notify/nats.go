// ABOUTME: NATS publisher for section_complete, section_error and session_complete events
// ABOUTME: Publishing is best effort; failures are logged and never reach the generation run

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/2389/docforge-gateway/internal/config"
	"github.com/2389/docforge-gateway/internal/generation"
)

// DefaultSubjectPrefix is used when the configuration leaves the prefix empty.
const DefaultSubjectPrefix = "docforge"

// publisher is the part of *nats.Conn the Publisher uses.
type publisher interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Publisher sends generation events to NATS.
type Publisher struct {
	conn   publisher
	prefix string
	logger *slog.Logger
}

// Message is the JSON payload of a published event.
type Message struct {
	Type      generation.EventType `json:"type"`
	SessionID string               `json:"session_id"`
	Section   string               `json:"section,omitempty"`
	WordCount int                  `json:"word_count,omitempty"`
	Message   string               `json:"message,omitempty"`
	Status    string               `json:"status,omitempty"`
	At        time.Time            `json:"at"`
}

// NewPublisher connects to the NATS server at url.
func NewPublisher(url, prefix string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "notify")
	nc, err := nats.Connect(url,
		nats.Name("docforge-gateway"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return newPublisher(nc, prefix, logger), nil
}

func newPublisher(conn publisher, prefix string, logger *slog.Logger) *Publisher {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, prefix: prefix, logger: logger}
}

// Subject returns the subject an event is published on.
func (p *Publisher) Subject(e generation.Event) string {
	return fmt.Sprintf("%s.sessions.%s.%s", p.prefix, token(e.SessionID), e.Type)
}

// Notify publishes e. Token and section_start events are ignored.
func (p *Publisher) Notify(_ context.Context, e generation.Event) {
	if !e.SectionTerminal() && e.Type != generation.EventSessionComplete {
		return
	}
	data, err := json.Marshal(Message{
		Type:      e.Type,
		SessionID: e.SessionID,
		Section:   e.Section,
		WordCount: e.WordCount,
		Message:   e.Message,
		Status:    string(e.Status),
		At:        time.Now().UTC(),
	})
	if err != nil {
		p.logger.Error("encoding event", "error", err)
		return
	}
	subject := p.Subject(e)
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("publishing event", "subject", subject, "error", err)
		return
	}
	p.logger.Debug("event published", "subject", subject)
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() error {
	return p.conn.Drain()
}

// token makes s safe as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

// Nop discards events and has nothing to close.
type Nop struct {
	generation.NopNotifier
}

// Close implements io.Closer.
func (Nop) Close() error { return nil }

// Notifier is a generation.Notifier that owns a connection.
type Notifier interface {
	generation.Notifier
	Close() error
}

// FromConfig returns a NATS publisher when an URL is configured, otherwise Nop.
func FromConfig(cfg config.EventsConfig, logger *slog.Logger) (Notifier, error) {
	if cfg.NATSURL == "" {
		return Nop{}, nil
	}
	p, err := NewPublisher(cfg.NATSURL, cfg.SubjectPrefix, logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}
