// ABOUTME: Session State Store: single authority for section status and content
// ABOUTME: Key-scoped writers, consistent snapshots, approvals and change notifications

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultLeaseTTL = 10 * time.Minute

// Options configures a Store.
type Options struct {
	Locker   Locker        // nil uses a MemoryLocker
	LeaseTTL time.Duration // upper bound on one section generation, renewed when it starts
	Logger   *slog.Logger
}

type state struct {
	id           string
	protocolID   string
	documentType string
	order        []string
	sections     map[string]*Section
	holders      map[string]string // section key -> writer token
	createdAt    time.Time
	updatedAt    time.Time
}

func (st *state) list() []*Section {
	out := make([]*Section, len(st.order))
	for i, key := range st.order {
		out[i] = st.sections[key]
	}
	return out
}

func (st *state) snapshot() Snapshot {
	secs := st.list()
	snap := Snapshot{
		ID:           st.id,
		ProtocolID:   st.protocolID,
		DocumentType: st.documentType,
		Status:       overallStatus(secs),
		Sections:     make([]Section, len(secs)),
		CreatedAt:    st.createdAt,
		UpdatedAt:    st.updatedAt,
	}
	for i, s := range secs {
		snap.Sections[i] = *s
	}
	return snap
}

// Store holds every live session in memory.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*state
	current  map[string]string // protocolID/documentType -> session ID

	locker   Locker
	leaseTTL time.Duration
	watch    *Broadcaster
	logger   *slog.Logger
	now      func() time.Time
}

// NewStore creates an empty Store.
func NewStore(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	locker := opts.Locker
	if locker == nil {
		locker = NewMemoryLocker()
	}
	ttl := opts.LeaseTTL
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	return &Store{
		sessions: make(map[string]*state),
		current:  make(map[string]string),
		locker:   locker,
		leaseTTL: ttl,
		watch:    NewBroadcaster(logger),
		logger:   logger.With("component", "session-store"),
		now:      time.Now,
	}
}

func currentKey(protocolID, documentType string) string {
	return protocolID + "/" + documentType
}

// Create starts a new session with every section pending, replacing the
// current session for the same protocol and document type. It fails with a
// *ConcurrentGenerationError while the session being replaced has a section
// generating.
func (s *Store) Create(protocolID, documentType string, sections []SectionSpec) (Snapshot, error) {
	if protocolID == "" || documentType == "" {
		return Snapshot{}, fmt.Errorf("%w: protocol and document type are required", ErrInvalidSession)
	}
	if len(sections) == 0 {
		return Snapshot{}, fmt.Errorf("%w: no sections", ErrInvalidSession)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ck := currentKey(protocolID, documentType)
	if oldID, ok := s.current[ck]; ok {
		if old := s.sessions[oldID]; old != nil {
			for _, key := range old.order {
				if old.holders[key] != "" || old.sections[key].Status == StatusGenerating {
					return Snapshot{}, &ConcurrentGenerationError{SessionID: oldID, Section: key, Status: StatusGenerating}
				}
			}
			delete(s.sessions, oldID)
			s.watch.CloseSession(oldID)
			s.logger.Info("session replaced", "old_session_id", oldID, "protocol_id", protocolID, "document_type", documentType)
		}
	}

	now := s.now().UTC()
	st := &state{
		id:           uuid.New().String(),
		protocolID:   protocolID,
		documentType: documentType,
		sections:     make(map[string]*Section, len(sections)),
		holders:      make(map[string]string),
		createdAt:    now,
		updatedAt:    now,
	}
	for _, spec := range sections {
		if spec.Key == "" {
			return Snapshot{}, fmt.Errorf("%w: empty section key", ErrInvalidSession)
		}
		if _, dup := st.sections[spec.Key]; dup {
			return Snapshot{}, fmt.Errorf("%w: duplicate section %q", ErrInvalidSession, spec.Key)
		}
		st.order = append(st.order, spec.Key)
		st.sections[spec.Key] = &Section{
			Key:       spec.Key,
			Title:     spec.Title,
			Status:    StatusPending,
			UpdatedAt: now,
		}
	}

	s.sessions[st.id] = st
	s.current[ck] = st.id
	s.logger.Info("session created",
		"session_id", st.id,
		"protocol_id", protocolID,
		"document_type", documentType,
		"sections", len(st.order))
	return st.snapshot(), nil
}

// Get returns a snapshot of session id.
func (s *Store) Get(id string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrInvalidSession, id)
	}
	return st.snapshot(), nil
}

// Current returns the live session for a protocol and document type.
func (s *Store) Current(protocolID, documentType string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.current[currentKey(protocolID, documentType)]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: no session for %s/%s", ErrInvalidSession, protocolID, documentType)
	}
	return s.sessions[id].snapshot(), nil
}

// ListByProtocol returns the live sessions of a protocol, oldest first.
func (s *Store) ListByProtocol(protocolID string) []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Snapshot
	for _, st := range s.sessions {
		if st.protocolID == protocolID {
			out = append(out, st.snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Len reports how many sessions are live.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// RemoveProtocol drops every session of protocolID and ends their watches.
// While any of them has a claimed or generating section it removes nothing
// and fails with *ConcurrentGenerationError.
func (s *Store) RemoveProtocol(protocolID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, st := range s.sessions {
		if st.protocolID != protocolID {
			continue
		}
		for _, key := range st.order {
			if st.holders[key] != "" || st.sections[key].Status == StatusGenerating {
				return &ConcurrentGenerationError{SessionID: id, Section: key, Status: StatusGenerating}
			}
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		st := s.sessions[id]
		delete(s.sessions, id)
		ck := currentKey(st.protocolID, st.documentType)
		if s.current[ck] == id {
			delete(s.current, ck)
		}
		s.watch.CloseSession(id)
	}
	if len(ids) > 0 {
		s.logger.Info("protocol sessions removed", "protocol_id", protocolID, "sessions", len(ids))
	}
	return nil
}

// Acquire claims the right to mutate one section. Only the returned writer
// may change that section until it is released. A second claim, or a claim
// on a generating section, fails with *ConcurrentGenerationError, as does
// ModeGenerate on a section that is not pending. A claimed section counts
// toward the session status even before its writer starts.
func (s *Store) Acquire(ctx context.Context, sessionID, key string, mode Mode) (*SectionWriter, error) {
	token := uuid.New().String()

	s.mu.Lock()
	st, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrInvalidSession, sessionID)
	}
	sec, ok := st.sections[key]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrUnknownSection, key)
	}
	if st.holders[key] != "" || sec.Status == StatusGenerating {
		s.mu.Unlock()
		return nil, &ConcurrentGenerationError{SessionID: sessionID, Section: key, Status: StatusGenerating}
	}
	if mode == ModeGenerate && sec.Status != StatusPending {
		s.mu.Unlock()
		return nil, &ConcurrentGenerationError{SessionID: sessionID, Section: key, Status: sec.Status}
	}
	st.holders[key] = token
	wasTargeted := sec.Targeted
	sec.Targeted = true
	s.mu.Unlock()

	locked, err := s.locker.TryLock(ctx, leaseKey(sessionID, key), token, s.leaseTTL)
	if err != nil || !locked {
		s.mu.Lock()
		if st.holders[key] == token {
			delete(st.holders, key)
			sec.Targeted = wasTargeted
		}
		s.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("acquiring lease for %s/%s: %w", sessionID, key, err)
		}
		return nil, &ConcurrentGenerationError{SessionID: sessionID, Section: key, Status: StatusGenerating}
	}

	return &SectionWriter{store: s, sessionID: sessionID, key: key, token: token}, nil
}

func leaseKey(sessionID, key string) string {
	return sessionID + ":" + key
}

// Approve marks a ready_for_review section as approved.
func (s *Store) Approve(sessionID, key string) (Section, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, sec, err := s.lookup(sessionID, key)
	if err != nil {
		return Section{}, err
	}
	if st.holders[key] != "" || sec.Status != StatusReady {
		return Section{}, fmt.Errorf("%w: cannot approve %q from %s", ErrInvalidTransition, key, sec.Status)
	}
	sec.Status = StatusApproved
	s.touch(st, sec)
	return *sec, nil
}

// ExportView returns the session with only reviewable content: sections that
// are ready_for_review or approved, in canonical order.
func (s *Store) ExportView(sessionID string) (Snapshot, error) {
	snap, err := s.Get(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	kept := snap.Sections[:0]
	for _, sec := range snap.Sections {
		if sec.Status == StatusReady || sec.Status == StatusApproved {
			kept = append(kept, sec)
		}
	}
	snap.Sections = kept
	return snap, nil
}

// Watch streams section changes for sessionID until ctx ends or the session
// is replaced.
func (s *Store) Watch(ctx context.Context, sessionID string) (<-chan Change, error) {
	s.mu.Lock()
	_, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrInvalidSession, sessionID)
	}
	ch, _ := s.watch.Subscribe(ctx, sessionID)
	s.mu.Unlock()
	return ch, nil
}

// Close releases the locker and ends all watches.
func (s *Store) Close() error {
	s.watch.Close()
	return s.locker.Close()
}

func (s *Store) lookup(sessionID, key string) (*state, *Section, error) {
	st, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidSession, sessionID)
	}
	sec, ok := st.sections[key]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownSection, key)
	}
	return st, sec, nil
}

// touch stamps a mutation and notifies watchers. Callers hold s.mu.
func (s *Store) touch(st *state, sec *Section) {
	now := s.now().UTC()
	sec.UpdatedAt = now
	st.updatedAt = now
	s.watch.Publish(Change{
		SessionID:     st.id,
		Section:       sec.Key,
		Status:        sec.Status,
		WordCount:     sec.WordCount,
		Error:         sec.Error,
		SessionStatus: overallStatus(st.list()),
		At:            now,
	})
}

// SectionWriter is the exclusive mutator of one section.
type SectionWriter struct {
	store     *Store
	sessionID string
	key       string
	token     string

	mu       sync.Mutex
	released bool
}

// Section returns the key this writer owns.
func (w *SectionWriter) Section() string { return w.key }

// SessionID returns the owning session.
func (w *SectionWriter) SessionID() string { return w.sessionID }

// Start moves the section to generating and clears prior content and errors.
// The section lease is renewed first, so LeaseTTL counts from here rather
// than from the claim.
func (w *SectionWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	released := w.released
	w.mu.Unlock()
	if released {
		return fmt.Errorf("%w: writer for %q already released", ErrConcurrentGeneration, w.key)
	}

	s := w.store
	locked, err := s.locker.TryLock(ctx, leaseKey(w.sessionID, w.key), w.token, s.leaseTTL)
	if err != nil {
		return fmt.Errorf("renewing lease for %s/%s: %w", w.sessionID, w.key, err)
	}
	if !locked {
		return &ConcurrentGenerationError{SessionID: w.sessionID, Section: w.key, Status: StatusGenerating}
	}

	return w.mutate(func(sec *Section) error {
		if sec.Status == StatusGenerating {
			return fmt.Errorf("%w: already generating", ErrInvalidTransition)
		}
		sec.Status = StatusGenerating
		sec.Content = ""
		sec.WordCount = 0
		sec.Error = ""
		return nil
	})
}

// Complete stores the final content and moves the section to ready_for_review.
func (w *SectionWriter) Complete(content string, wordCount int) (Section, error) {
	var out Section
	err := w.mutate(func(sec *Section) error {
		if sec.Status != StatusGenerating {
			return fmt.Errorf("%w: complete from %s", ErrInvalidTransition, sec.Status)
		}
		sec.Status = StatusReady
		sec.Content = content
		sec.WordCount = wordCount
		sec.Error = ""
		out = *sec
		return nil
	})
	return out, err
}

// Fail moves the section to error with msg.
func (w *SectionWriter) Fail(msg string) (Section, error) {
	var out Section
	err := w.mutate(func(sec *Section) error {
		if sec.Status != StatusGenerating {
			return fmt.Errorf("%w: fail from %s", ErrInvalidTransition, sec.Status)
		}
		sec.Status = StatusError
		sec.Content = ""
		sec.WordCount = 0
		sec.Error = msg
		out = *sec
		return nil
	})
	return out, err
}

// Release gives up the section. A section left generating is moved to
// error so no section stays ambiguously in flight. Release is idempotent.
func (w *SectionWriter) Release() {
	w.mu.Lock()
	if w.released {
		w.mu.Unlock()
		return
	}
	w.released = true
	w.mu.Unlock()

	s := w.store
	s.mu.Lock()
	if st, sec, err := s.lookup(w.sessionID, w.key); err == nil && st.holders[w.key] == w.token {
		if sec.Status == StatusGenerating {
			sec.Status = StatusError
			sec.Content = ""
			sec.WordCount = 0
			sec.Error = "generation abandoned"
			s.touch(st, sec)
		}
		delete(st.holders, w.key)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.locker.Unlock(ctx, leaseKey(w.sessionID, w.key), w.token); err != nil {
		s.logger.Warn("releasing section lease", "session_id", w.sessionID, "section", w.key, "error", err)
	}
}

func (w *SectionWriter) mutate(fn func(sec *Section) error) error {
	w.mu.Lock()
	released := w.released
	w.mu.Unlock()
	if released {
		return fmt.Errorf("%w: writer for %q already released", ErrConcurrentGeneration, w.key)
	}

	s := w.store
	s.mu.Lock()
	defer s.mu.Unlock()

	st, sec, err := s.lookup(w.sessionID, w.key)
	if err != nil {
		return err
	}
	if st.holders[w.key] != w.token {
		return &ConcurrentGenerationError{SessionID: w.sessionID, Section: w.key, Status: sec.Status}
	}
	if err := fn(sec); err != nil {
		return err
	}
	s.touch(st, sec)
	return nil
}
