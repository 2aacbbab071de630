// ABOUTME: Mock Backend implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mcpgate/mcpgate/internal/settings"
)

// MockStore is an in-memory Backend implementation for testing. Failure
// modes can be injected via FailLoad/FailSave.
type MockStore struct {
	mu   sync.RWMutex
	doc  *settings.Document
	keys map[string]*APIKey // keyed by hash

	FailLoad error
	FailSave error
}

// NewMockStore creates a MockStore holding an empty document.
func NewMockStore() *MockStore {
	return &MockStore{
		doc:  settings.NewDocument(),
		keys: make(map[string]*APIKey),
	}
}

// SeedDocument replaces the held document. Test setup only.
func (m *MockStore) SeedDocument(doc *settings.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = doc.Clone()
}

// LoadDocument returns a copy of the held document.
func (m *MockStore) LoadDocument(ctx context.Context) (*settings.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailLoad != nil {
		return nil, m.FailLoad
	}
	return m.doc.Clone(), nil
}

// SaveDocument replaces the held document with a copy.
func (m *MockStore) SaveDocument(ctx context.Context, doc *settings.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSave != nil {
		return m.FailSave
	}
	m.doc = doc.Clone()
	return nil
}

// HealthCheck reports the injected load failure, if any.
func (m *MockStore) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.FailLoad
}

// CreateAPIKey stores a key record.
func (m *MockStore) CreateAPIKey(ctx context.Context, key *APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.keys[key.KeyHash]; exists {
		return ErrDuplicateKey
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	k := *key
	k.Active = true
	m.keys[key.KeyHash] = &k
	return nil
}

// GetAPIKeyByHash returns the stored key or ErrNotFound.
func (m *MockStore) GetAPIKeyByHash(ctx context.Context, hash string) (*APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.keys[hash]
	if !ok {
		return nil, ErrNotFound
	}
	k := *key
	return &k, nil
}

// RevokeAPIKey deactivates an active key.
func (m *MockStore) RevokeAPIKey(ctx context.Context, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keys[hash]
	if !ok || !key.Active {
		return false, nil
	}
	now := time.Now().UTC()
	key.Active = false
	key.RevokedAt = &now
	return true, nil
}

// ListAPIKeys returns keys for one owner, or all keys when owner is empty.
func (m *MockStore) ListAPIKeys(ctx context.Context, owner string) ([]*APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []*APIKey
	for _, key := range m.keys {
		if owner != "" && key.Owner != owner {
			continue
		}
		k := *key
		keys = append(keys, &k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.After(keys[j].CreatedAt) })
	return keys, nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}

var _ Backend = (*MockStore)(nil)
