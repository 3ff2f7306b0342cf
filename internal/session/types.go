// ABOUTME: Session and section state model for document generation
// ABOUTME: Status values, transition rules, snapshots and the errors the store returns

package session

import (
	"errors"
	"fmt"
	"time"
)

// SectionStatus is the lifecycle state of one document section.
type SectionStatus string

const (
	StatusPending    SectionStatus = "pending"
	StatusGenerating SectionStatus = "generating"
	StatusReady      SectionStatus = "ready_for_review"
	StatusApproved   SectionStatus = "approved"
	StatusError      SectionStatus = "error"
)

// Resolved reports whether the section has reached a terminal state for a run.
func (s SectionStatus) Resolved() bool {
	return s == StatusReady || s == StatusApproved || s == StatusError
}

// Status is the overall state of a session.
type Status string

const (
	SessionInProgress      Status = "in_progress"
	SessionCompleted       Status = "completed"
	SessionPartiallyFailed Status = "partially_failed"
)

// Mode selects which starting states Acquire accepts.
type Mode int

const (
	// ModeGenerate accepts only pending sections.
	ModeGenerate Mode = iota
	// ModeRegenerate accepts any section that is not generating.
	ModeRegenerate
)

var (
	ErrInvalidSession       = errors.New("invalid session")
	ErrUnknownSection       = errors.New("unknown section")
	ErrConcurrentGeneration = errors.New("concurrent generation")
	ErrInvalidTransition    = errors.New("invalid status transition")
)

// ConcurrentGenerationError rejects a second writer for a section.
type ConcurrentGenerationError struct {
	SessionID string
	Section   string
	Status    SectionStatus
}

func (e *ConcurrentGenerationError) Error() string {
	if e.Status == StatusGenerating || e.Status == "" {
		return fmt.Sprintf("section %q of session %s is already being generated", e.Section, e.SessionID)
	}
	return fmt.Sprintf("section %q of session %s is %s; request regeneration explicitly", e.Section, e.SessionID, e.Status)
}

func (e *ConcurrentGenerationError) Unwrap() error { return ErrConcurrentGeneration }

// SectionSpec names a section when a session is created.
type SectionSpec struct {
	Key   string
	Title string
}

// Section is a point-in-time copy of one document section.
type Section struct {
	Key       string        `json:"name"`
	Title     string        `json:"title"`
	Status    SectionStatus `json:"status"`
	Content   string        `json:"content"`
	WordCount int           `json:"word_count"`
	Error     string        `json:"error,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
	Targeted  bool          `json:"-"`
}

// Snapshot is a consistent copy of a session. Sections are in canonical order.
type Snapshot struct {
	ID           string    `json:"id"`
	ProtocolID   string    `json:"protocol_id"`
	DocumentType string    `json:"document_type"`
	Status       Status    `json:"status"`
	Sections     []Section `json:"sections"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Section returns the section with key from the snapshot.
func (s Snapshot) Section(key string) (Section, bool) {
	for _, sec := range s.Sections {
		if sec.Key == key {
			return sec, true
		}
	}
	return Section{}, false
}

// Change is published to watchers whenever a section's persisted state changes.
type Change struct {
	SessionID     string        `json:"session_id"`
	Section       string        `json:"section"`
	Status        SectionStatus `json:"status"`
	WordCount     int           `json:"word_count,omitempty"`
	Error         string        `json:"error,omitempty"`
	SessionStatus Status        `json:"session_status"`
	At            time.Time     `json:"at"`
}

// overallStatus derives the session status from the sections targeted so far.
func overallStatus(sections []*Section) Status {
	targeted, failed := 0, false
	for _, s := range sections {
		if !s.Targeted {
			continue
		}
		targeted++
		if !s.Status.Resolved() {
			return SessionInProgress
		}
		if s.Status == StatusError {
			failed = true
		}
	}
	switch {
	case targeted == 0:
		return SessionInProgress
	case failed:
		return SessionPartiallyFailed
	default:
		return SessionCompleted
	}
}
