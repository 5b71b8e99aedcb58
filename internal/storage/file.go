package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/prasenjit/go-apibot/internal/models"
)

// FileStorage implements Storage with one JSON file per draft, cached in memory
type FileStorage struct {
	mu       sync.Mutex
	basePath string
	memory   *MemoryStorage
}

// NewFileStorage creates a file-based storage rooted at basePath
func NewFileStorage(basePath string) (*FileStorage, error) {
	if basePath == "" {
		return nil, fmt.Errorf("file storage requires a path")
	}

	dir := filepath.Join(basePath, "drafts")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	fs := &FileStorage{
		basePath: basePath,
		memory:   NewMemoryStorage(),
	}

	if err := fs.loadAll(); err != nil {
		return nil, err
	}

	return fs, nil
}

// loadAll loads all drafts from disk. Unreadable files are skipped.
func (f *FileStorage) loadAll() error {
	dir := filepath.Join(f.basePath, "drafts")
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("skipping unreadable draft")
			continue
		}

		var draft models.Draft
		if err := json.Unmarshal(data, &draft); err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("skipping malformed draft")
			continue
		}

		f.memory.drafts[draft.ID] = &draft
	}

	return nil
}

func (f *FileStorage) draftPath(id string) string {
	return filepath.Join(f.basePath, "drafts", id+".json")
}

// saveDraft writes a draft to disk
func (f *FileStorage) saveDraft(draft *models.Draft) error {
	data, err := json.MarshalIndent(draft, "", "  ")
	if err != nil {
		return err
	}

	// drafts may hold basic-auth passwords
	return os.WriteFile(f.draftPath(draft.ID), data, 0600)
}

// CreateDraft stores a new draft
func (f *FileStorage) CreateDraft(draft *models.Draft) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.memory.CreateDraft(draft); err != nil {
		return err
	}

	return f.saveDraft(draft)
}

// GetDraft retrieves a draft by ID
func (f *FileStorage) GetDraft(id string) (*models.Draft, error) {
	return f.memory.GetDraft(id)
}

// ListDrafts returns all drafts
func (f *FileStorage) ListDrafts() ([]*models.Draft, error) {
	return f.memory.ListDrafts()
}

// UpdateDraft replaces a stored draft
func (f *FileStorage) UpdateDraft(draft *models.Draft) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.memory.UpdateDraft(draft); err != nil {
		return err
	}

	return f.saveDraft(draft)
}

// DeleteDraft deletes a draft
func (f *FileStorage) DeleteDraft(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.memory.DeleteDraft(id); err != nil {
		return err
	}

	if err := os.Remove(f.draftPath(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Close closes the storage
func (f *FileStorage) Close() error {
	return nil
}
