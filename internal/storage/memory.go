package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/prasenjit/go-apibot/internal/models"
)

// MemoryStorage implements Storage with in-memory maps
type MemoryStorage struct {
	mu     sync.RWMutex
	drafts map[string]*models.Draft
}

// NewMemoryStorage creates a new in-memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		drafts: make(map[string]*models.Draft),
	}
}

// CreateDraft stores a new draft
func (m *MemoryStorage) CreateDraft(draft *models.Draft) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.drafts[draft.ID]; exists {
		return fmt.Errorf("draft with ID %s already exists", draft.ID)
	}

	m.drafts[draft.ID] = cloneDraft(draft)
	return nil
}

// GetDraft retrieves a draft by ID
func (m *MemoryStorage) GetDraft(id string) (*models.Draft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	draft, exists := m.drafts[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return cloneDraft(draft), nil
}

// ListDrafts returns all drafts, most recently updated first
func (m *MemoryStorage) ListDrafts() ([]*models.Draft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	drafts := make([]*models.Draft, 0, len(m.drafts))
	for _, d := range m.drafts {
		drafts = append(drafts, cloneDraft(d))
	}
	sortDrafts(drafts)

	return drafts, nil
}

// UpdateDraft replaces a stored draft
func (m *MemoryStorage) UpdateDraft(draft *models.Draft) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.drafts[draft.ID]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, draft.ID)
	}

	m.drafts[draft.ID] = cloneDraft(draft)
	return nil
}

// DeleteDraft deletes a draft
func (m *MemoryStorage) DeleteDraft(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.drafts[id]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	delete(m.drafts, id)
	return nil
}

// Close closes the storage (no-op for memory storage)
func (m *MemoryStorage) Close() error {
	return nil
}

func sortDrafts(drafts []*models.Draft) {
	sort.Slice(drafts, func(i, j int) bool {
		if !drafts[i].UpdatedAt.Equal(drafts[j].UpdatedAt) {
			return drafts[i].UpdatedAt.After(drafts[j].UpdatedAt)
		}
		return drafts[i].ID < drafts[j].ID
	})
}
