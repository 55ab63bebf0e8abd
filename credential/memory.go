package credential

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository is an in-process Repository for tests and local runs.
type MemoryRepository struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[string]Credential
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]Credential)}
}

func (m *MemoryRepository) GetByIdentity(_ context.Context, identity string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.rows[identity]
	if !ok {
		return nil, ErrNotFound
	}
	return &row, nil
}

func (m *MemoryRepository) Create(_ context.Context, cred *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rows[cred.Identity]; ok {
		return ErrExists
	}
	m.nextID++
	now := time.Now()
	cred.ID = m.nextID
	cred.CreatedAt = now
	cred.UpdatedAt = now
	m.rows[cred.Identity] = *cred
	return nil
}

func (m *MemoryRepository) UpdateHash(_ context.Context, identity, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[identity]
	if !ok {
		return ErrNotFound
	}
	row.Hash = hash
	row.UpdatedAt = time.Now()
	m.rows[identity] = row
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rows[identity]; !ok {
		return ErrNotFound
	}
	delete(m.rows, identity)
	return nil
}
