// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu        sync.RWMutex
	protocols map[string]*Protocol          // keyed by protocol ID
	attempts  map[string][]*ProviderAttempt // keyed by session ID
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		protocols: make(map[string]*Protocol),
		attempts:  make(map[string][]*ProviderAttempt),
	}
}

// CreateProtocol stores a copy of the protocol.
func (m *MockStore) CreateProtocol(ctx context.Context, p *Protocol) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.protocols[p.ID]; exists {
		return fmt.Errorf("inserting protocol: duplicate id %s", p.ID)
	}
	cp := *p
	m.protocols[cp.ID] = &cp
	return nil
}

// GetProtocol returns a copy of the protocol with the given ID.
func (m *MockStore) GetProtocol(ctx context.Context, id string) (*Protocol, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.protocols[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// GetProtocolByCollection returns a copy of the protocol owning collection.
func (m *MockStore) GetProtocolByCollection(ctx context.Context, collection string) (*Protocol, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.protocols {
		if p.CollectionName == collection {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// DeleteProtocol removes the protocol with the given ID.
func (m *MockStore) DeleteProtocol(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.protocols[id]; !ok {
		return ErrNotFound
	}
	delete(m.protocols, id)
	return nil
}

// ListProtocols returns copies of all protocols, newest upload first.
func (m *MockStore) ListProtocols(ctx context.Context) ([]*Protocol, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Protocol, 0, len(m.protocols))
	for _, p := range m.protocols {
		cp := *p
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].UploadedAt.Equal(result[j].UploadedAt) {
			return result[i].UploadedAt.After(result[j].UploadedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// SaveAttempt appends a copy of the attempt to the session's ledger.
func (m *MockStore) SaveAttempt(ctx context.Context, a *ProviderAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *a
	m.attempts[a.SessionID] = append(m.attempts[a.SessionID], &cp)
	return nil
}

// ListAttempts returns copies of the session's ledger entries in recording order.
func (m *MockStore) ListAttempts(ctx context.Context, sessionID string) ([]*ProviderAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.attempts[sessionID]
	result := make([]*ProviderAttempt, len(entries))
	for i, a := range entries {
		cp := *a
		result[i] = &cp
	}
	return result, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
