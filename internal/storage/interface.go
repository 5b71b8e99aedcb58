package storage

import (
	"errors"
	"fmt"

	"github.com/prasenjit/go-apibot/internal/models"
)

// ErrNotFound is returned when a draft does not exist
var ErrNotFound = errors.New("draft not found")

// Storage persists wizard drafts
type Storage interface {
	CreateDraft(draft *models.Draft) error
	GetDraft(id string) (*models.Draft, error)
	ListDrafts() ([]*models.Draft, error)
	UpdateDraft(draft *models.Draft) error
	DeleteDraft(id string) error

	Close() error
}

// Storage backends accepted by Open
const (
	TypeMemory = "memory"
	TypeFile   = "file"
	TypeSQLite = "sqlite"
)

// Open creates the storage backend named by kind. path is a directory for
// file storage and a database file for sqlite.
func Open(kind, path string) (Storage, error) {
	switch kind {
	case "", TypeMemory:
		return NewMemoryStorage(), nil
	case TypeFile:
		return NewFileStorage(path)
	case TypeSQLite:
		return NewSQLiteStorage(path)
	}
	return nil, fmt.Errorf("unknown storage type %q", kind)
}

func cloneDraft(d *models.Draft) *models.Draft {
	c := *d
	c.Form = d.Form.Clone()
	if d.EditingID != nil {
		id := *d.EditingID
		c.EditingID = &id
	}
	return &c
}
