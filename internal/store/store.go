// ABOUTME: Store interfaces and data types for docforge-gateway persistence
// ABOUTME: Defines the Protocol registry record and the ProviderAttempt diagnostics ledger

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidProtocol is returned when protocol metadata fails validation
var ErrInvalidProtocol = errors.New("invalid protocol")

const (
	maxAcronymLength = 50
	maxTitleLength   = 500
)

// Protocol is the source-document record the generation engine reads.
// It is immutable once created.
type Protocol struct {
	ID             string    `json:"id"`
	StudyAcronym   string    `json:"study_acronym"`
	Title          string    `json:"protocol_title"`
	CollectionName string    `json:"collection_name"` // vector store collection holding the protocol's chunks
	UploadedAt     time.Time `json:"upload_date"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewProtocol normalizes and validates protocol metadata and assigns the
// record its ID and collection name. The acronym is trimmed and upper-cased.
func NewProtocol(acronym, title string, uploadedAt time.Time) (*Protocol, error) {
	acronym = strings.ToUpper(strings.TrimSpace(acronym))
	title = strings.TrimSpace(title)

	if acronym == "" {
		return nil, fmt.Errorf("%w: study acronym is required", ErrInvalidProtocol)
	}
	if utf8.RuneCountInString(acronym) > maxAcronymLength {
		return nil, fmt.Errorf("%w: study acronym exceeds %d characters", ErrInvalidProtocol, maxAcronymLength)
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return nil, fmt.Errorf("%w: protocol title exceeds %d characters", ErrInvalidProtocol, maxTitleLength)
	}

	id := uuid.New()
	now := time.Now().UTC()
	if uploadedAt.IsZero() {
		uploadedAt = now
	}
	return &Protocol{
		ID:             id.String(),
		StudyAcronym:   acronym,
		Title:          title,
		CollectionName: acronym + "-" + id.String()[:8],
		UploadedAt:     uploadedAt.UTC(),
		CreatedAt:      now,
	}, nil
}

// Attempt outcome values recorded in the ledger
const (
	OutcomeSuccess = "success"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
)

// ProviderAttempt records one call to a language-model provider for diagnostics.
type ProviderAttempt struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	Section   string        `json:"section"`
	Provider  string        `json:"provider"`
	Attempt   int           `json:"attempt"`
	Outcome   string        `json:"outcome"`
	Latency   time.Duration `json:"-"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// ProtocolStore is the read/write registry of protocols.
type ProtocolStore interface {
	CreateProtocol(ctx context.Context, p *Protocol) error
	GetProtocol(ctx context.Context, id string) (*Protocol, error)
	GetProtocolByCollection(ctx context.Context, collection string) (*Protocol, error)
	ListProtocols(ctx context.Context) ([]*Protocol, error)
	// DeleteProtocol removes the record. It returns ErrNotFound when absent.
	DeleteProtocol(ctx context.Context, id string) error
}

// AttemptStore is the append-only provider attempt ledger.
type AttemptStore interface {
	SaveAttempt(ctx context.Context, a *ProviderAttempt) error
	ListAttempts(ctx context.Context, sessionID string) ([]*ProviderAttempt, error)
}

// Store combines every persistence concern of the gateway.
type Store interface {
	ProtocolStore
	AttemptStore
	Close() error
}
